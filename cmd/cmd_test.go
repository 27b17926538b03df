package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cfgpkg "github.com/KaramelBytes/dataloom/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// runCmd executes the root command with args and returns its output.
func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Reset sticky flags that may persist Changed state across invocations
	for _, name := range []string{"json", "output"} {
		if fl := analyzeCmd.Flags().Lookup(name); fl != nil {
			_ = fl.Value.Set(fl.DefValue)
			fl.Changed = false
		}
	}
	if fl := rootCmd.PersistentFlags().Lookup("config"); fl != nil {
		_ = fl.Value.Set("")
		fl.Changed = false
	}
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scores.csv")
	csv := "name,score,grade\nA,1.5,x\nB,,y\nC,3.5,x\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

func TestAnalyzeMarkdown(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := runCmd(t, "analyze", writeCSV(t))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	for _, want := range []string{"[DATASET SUMMARY]", "File: scores.csv", "Rows: 3", "[SCHEMA]"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestAnalyzeJSON(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	out, err := runCmd(t, "analyze", "--json", writeCSV(t))
	if err != nil {
		t.Fatalf("analyze --json: %v", err)
	}
	var rep struct {
		File    string            `json:"file"`
		Rows    int               `json:"rows"`
		DTypes  map[string]string `json:"dtypes"`
		Info    map[string]any    `json:"data_info"`
		Missing struct {
			Quantitative []string `json:"quantitative_miss_list"`
		} `json:"missing"`
	}
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if rep.File != "scores.csv" || rep.Rows != 3 || rep.DTypes["score"] != "float64" {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if len(rep.Missing.Quantitative) != 1 || rep.Missing.Quantitative[0] != "score" {
		t.Fatalf("missing=%+v", rep.Missing)
	}
	if _, ok := rep.Info["quantitative"]; !ok {
		t.Fatalf("data_info lacks quantitative section: %v", rep.Info)
	}
}

func TestAnalyzeOutputFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dest := filepath.Join(t.TempDir(), "summary.md")
	if _, err := runCmd(t, "analyze", writeCSV(t), "-o", dest); err != nil {
		t.Fatalf("analyze -o: %v", err)
	}
	b, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.Contains(string(b), "[DATASET SUMMARY]") {
		t.Fatalf("unexpected output file:\n%s", b)
	}
}

func TestConfigSetAndShow(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := runCmd(t, "--config", path, "config", "set", "listen_addr", ":6000"); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if _, err := runCmd(t, "--config", path, "config", "set", "assistant_provider", "local"); err != nil {
		t.Fatalf("config set provider: %v", err)
	}
	c, err := cfgpkg.Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if c.ListenAddr != ":6000" || c.AssistantProvider != "ollama" {
		t.Fatalf("config not saved: %+v", c)
	}

	out, err := runCmd(t, "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "listen_addr: :6000") || !strings.Contains(out, "ollama_host: ") {
		t.Fatalf("unexpected show output:\n%s", out)
	}

	if _, err := runCmd(t, "--config", path, "config", "set", "nope", "1"); err == nil {
		t.Fatalf("expected unknown key error")
	}
	if _, err := runCmd(t, "--config", path, "config", "set", "max_upload_mb", "-1"); err == nil {
		t.Fatalf("expected invalid int error")
	}
}

func TestAssistantConfig(t *testing.T) {
	c := &cfgpkg.Global{
		AssistantProvider: "ollama",
		ChatModel:         "gemini-1.5-flash",
		VisionModel:       "llava:13b",
		OllamaHost:        "http://gpu:11434",
		HTTPTimeoutSec:    10,
	}
	ac := assistantConfig(c)
	if ac.ChatModel != "" || ac.VisionModel != "llava:13b" || ac.BaseURL != "http://gpu:11434" {
		t.Fatalf("unexpected ollama config: %+v", ac)
	}
	c.AssistantProvider = "gemini"
	ac = assistantConfig(c)
	if ac.ChatModel != "gemini-1.5-flash" || ac.BaseURL != "" {
		t.Fatalf("unexpected gemini config: %+v", ac)
	}
}

func TestBuildServerRedisFallback(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	c := &cfgpkg.Global{
		StorageURL:        "http://127.0.0.1:1",
		HTTPTimeoutSec:    1,
		RetryMaxAttempts:  1,
		MaxUploadMB:       1,
		AssistantProvider: "gemini",
		RedisAddr:         "127.0.0.1:1",
		CacheTTLSec:       60,
		MetricsEnabled:    true,
		CORSOrigins:       []string{"*"},
	}
	srv, closeDeps, err := buildServer(context.Background(), c, zap.New(core))
	if err != nil {
		t.Fatalf("buildServer: %v", err)
	}
	defer closeDeps()
	if n := logs.FilterMessage("redis unavailable, using in-process dataset cache").Len(); n != 1 {
		t.Fatalf("fallback warnings=%d want 1", n)
	}

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/metrics status=%d", rec.Code)
	}
}
