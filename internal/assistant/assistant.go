// Package assistant answers chat messages and explains chart images using a
// hosted Gemini model or a local Ollama runtime.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Assistant is implemented by every chat backend. apiKey is the caller's
// own key; backends that need none ignore it.
type Assistant interface {
	Chat(ctx context.Context, apiKey, message string) (string, error)
	DescribeImage(ctx context.Context, apiKey string, png []byte) (string, error)
}

// Provider identifiers accepted in configuration.
const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// DefaultImagePrompt asks for a detailed Markdown explanation of a chart, in
// Japanese, using a plan-then-solve instruction.
const DefaultImagePrompt = `このグラフから読み取れることを詳細に解説してください。
※日本語で表示してください。また、マークダウン装飾を付けるようにしてください。
Let's first understand the problem and devise a plan to solve the problem.
Then, let's carry out the plan and solve the problem step by step.`

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrEmptyImage    = errors.New("image is empty")
	ErrMissingAPIKey = errors.New("no Gemini API key registered for this user")
)

// UpstreamError wraps a failure reported by the model provider.
type UpstreamError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status=%d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Config carries the knobs shared by backends.
type Config struct {
	ChatModel   string
	VisionModel string
	ImagePrompt string
	Temperature float64
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// BaseURL overrides the provider endpoint (Ollama host, Gemini API base).
	BaseURL string
}

// Factory builds an Assistant from Config.
type Factory func(Config) (Assistant, error)

var registry = map[string]Factory{}

// Register makes a provider available to New.
func Register(name string, f Factory) { registry[name] = f }

// Providers lists the registered provider names.
func Providers() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the assistant registered under provider.
func New(provider string, cfg Config) (Assistant, error) {
	f, ok := registry[provider]
	if !ok {
		return nil, fmt.Errorf("unknown assistant provider %q (known: %v)", provider, Providers())
	}
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = DefaultImagePrompt
	}
	return f(cfg)
}

func init() {
	Register(ProviderGemini, func(c Config) (Assistant, error) { return NewGemini(c), nil })
	Register(ProviderOllama, func(c Config) (Assistant, error) { return NewOllama(c), nil })
}
