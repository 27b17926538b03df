package cmd

import (
	"fmt"
	"os"

	cfgpkg "github.com/KaramelBytes/dataloom/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	// Retry/HTTP/log flags (override config if set)
	flagListenAddr       string
	flagLogLevel         string
	flagHTTPTimeoutSec   int
	flagRetryMaxAttempts int
	flagRetryBaseDelayMs int
	flagRetryMaxDelayMs  int

	// Loaded configuration
	cfg    *cfgpkg.Global
	cfgErr error
)

var rootCmd = &cobra.Command{
	Use:           "dataloom",
	Short:         "DataLoom: exploratory data analysis backend",
	Long:          `DataLoom serves column typing, statistics, imputation, derived features, feature importance and charts for CSV datasets kept by a separate storage service.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute is the entry point called by main.main()
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗ Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadConfig)
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default is ~/.dataloom/config.yaml)")
	f.StringVar(&flagListenAddr, "listen", "", "listen address, e.g. :5000 (overrides config)")
	f.StringVar(&flagLogLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	f.IntVar(&flagHTTPTimeoutSec, "http-timeout", 0, "storage HTTP timeout in seconds (overrides config)")
	f.IntVar(&flagRetryMaxAttempts, "retry-max", 0, "max storage attempts on 429/5xx (overrides config)")
	f.IntVar(&flagRetryBaseDelayMs, "retry-base-ms", 0, "base retry backoff in ms (overrides config)")
	f.IntVar(&flagRetryMaxDelayMs, "retry-max-ms", 0, "max retry backoff cap in ms (overrides config)")
}

func loadConfig() {
	c, err := cfgpkg.Load(cfgFile)
	if err != nil {
		// Non-fatal: analyze runs without config
		cfg, cfgErr = nil, err
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to load config: %v\n", err)
		return
	}
	cfg, cfgErr = c, nil

	f := rootCmd.PersistentFlags()
	if f.Changed("listen") && flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}
	if f.Changed("log-level") && flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if f.Changed("http-timeout") && flagHTTPTimeoutSec > 0 {
		cfg.HTTPTimeoutSec = flagHTTPTimeoutSec
	}
	if f.Changed("retry-max") && flagRetryMaxAttempts > 0 {
		cfg.RetryMaxAttempts = flagRetryMaxAttempts
	}
	if f.Changed("retry-base-ms") && flagRetryBaseDelayMs > 0 {
		cfg.RetryBaseDelayMs = flagRetryBaseDelayMs
	}
	if f.Changed("retry-max-ms") && flagRetryMaxDelayMs > 0 {
		cfg.RetryMaxDelayMs = flagRetryMaxDelayMs
	}
}

// requireConfig returns the loaded config or the reason it is missing.
func requireConfig() (*cfgpkg.Global, error) {
	if cfg != nil {
		return cfg, nil
	}
	if cfgErr != nil {
		return nil, fmt.Errorf("load config: %w", cfgErr)
	}
	return nil, fmt.Errorf("no config loaded")
}
