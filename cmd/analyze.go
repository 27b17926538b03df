package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/KaramelBytes/dataloom/internal/analysis"
	"github.com/KaramelBytes/dataloom/internal/frame"
	"github.com/spf13/cobra"
)

var (
	anaOutputPath string
	anaJSON       bool
	anaSampleRows int
	anaTopValues  int
	anaCorr       bool
	anaOutlierThr float64
)

// dataInfoReport is the --json payload: the same sections the service
// returns from /get_data_info and /get_miss_columns.
type dataInfoReport struct {
	File    string                  `json:"file"`
	Rows    int                     `json:"rows"`
	DTypes  map[string]string       `json:"dtypes"`
	Info    analysis.Info           `json:"data_info"`
	Missing analysis.MissingColumns `json:"missing"`
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file.csv>",
	Short: "Summarize a local CSV without the storage service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		fh, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open dataset: %w", err)
		}
		defer fh.Close()
		f, err := frame.ReadCSV(fh)
		if err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}

		var out []byte
		if anaJSON {
			rep := dataInfoReport{
				File:    filepath.Base(path),
				Rows:    f.Len(),
				DTypes:  f.DTypes(),
				Info:    analysis.DataInfo(f),
				Missing: analysis.Missing(f),
			}
			out, err = json.MarshalIndent(rep, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
		} else {
			opt := analysis.DefaultOptions()
			if cmd.Flags().Changed("sample-rows") {
				opt.SampleRows = anaSampleRows
			}
			if anaTopValues > 0 {
				opt.TopValues = anaTopValues
			}
			if cmd.Flags().Changed("correlations") {
				opt.Correlations = anaCorr
			}
			if cmd.Flags().Changed("outlier-threshold") {
				opt.OutlierThreshold = anaOutlierThr
			}
			out = []byte(analysis.Build(filepath.Base(path), f, opt).Markdown())
		}

		if anaOutputPath != "" {
			if err := os.WriteFile(anaOutputPath, out, 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Wrote analysis to %s\n", anaOutputPath)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	analyzeCmd.Flags().StringVarP(&anaOutputPath, "output", "o", "", "optional path to write the analysis")
	analyzeCmd.Flags().BoolVar(&anaJSON, "json", false, "print the data-info payload as JSON instead of Markdown")
	analyzeCmd.Flags().IntVar(&anaSampleRows, "sample-rows", 5, "number of sample rows to include")
	analyzeCmd.Flags().IntVar(&anaTopValues, "top-values", 5, "categories listed per qualitative column")
	analyzeCmd.Flags().BoolVar(&anaCorr, "correlations", true, "compute Pearson correlations among numeric columns")
	analyzeCmd.Flags().Float64Var(&anaOutlierThr, "outlier-threshold", 3.5, "robust |z| threshold for outliers (MAD-based, 0 disables)")
}
