package assistant

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/KaramelBytes/dataloom/internal/retry"
)

// Ollama is a minimal HTTP client for a local Ollama runtime. It needs no
// API key.
type Ollama struct {
	httpClient       *http.Client
	host             string
	cfg              Config
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

// NewOllama targets cfg.BaseURL (default http://127.0.0.1:11434).
func NewOllama(cfg Config) *Ollama {
	host := strings.TrimRight(cfg.BaseURL, "/")
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "llama3.2"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "llava"
	}
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = DefaultImagePrompt
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 120 * time.Second
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 2
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 200 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Second
	}
	return &Ollama{
		httpClient:       &http.Client{Timeout: cfg.HTTPTimeout},
		host:             host,
		cfg:              cfg,
		retryMaxAttempts: cfg.RetryMax,
		retryBaseDelay:   cfg.BaseDelay,
		retryMaxDelay:    cfg.MaxDelay,
	}
}

// Structures aligned with Ollama /api/chat (non-streaming)
type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}
type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}
type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

func (o *Ollama) Chat(ctx context.Context, _ string, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	return o.chat(ctx, o.cfg.ChatModel, ollamaChatMessage{Role: "user", Content: message})
}

func (o *Ollama) DescribeImage(ctx context.Context, _ string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", ErrEmptyImage
	}
	return o.chat(ctx, o.cfg.VisionModel, ollamaChatMessage{
		Role:    "user",
		Content: o.cfg.ImagePrompt,
		Images:  []string{base64.StdEncoding.EncodeToString(png)},
	})
}

func (o *Ollama) chat(ctx context.Context, model string, msg ollamaChatMessage) (string, error) {
	req := ollamaChatRequest{Model: model, Messages: []ollamaChatMessage{msg}, Options: map[string]any{}}
	if o.cfg.Temperature > 0 {
		req.Options["temperature"] = o.cfg.Temperature
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	endpoint := o.host + "/api/chat"
	backoff := o.retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= o.retryMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return "", fmt.Errorf("build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := o.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			lastErr = &UpstreamError{Provider: ProviderOllama, Err: fmt.Errorf("unreachable at %s: %w", o.host, err)}
			if retry.Transient(err) && attempt < o.retryMaxAttempts {
				if err := o.pause(ctx, &backoff); err != nil {
					return "", err
				}
				continue
			}
			return "", lastErr
		}
		text, again, err := decodeOllama(resp)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !again || attempt == o.retryMaxAttempts {
			break
		}
		if err := o.pause(ctx, &backoff); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

func (o *Ollama) pause(ctx context.Context, backoff *time.Duration) error {
	d := retry.Jitter(*backoff)
	*backoff *= 2
	return retry.Sleep(ctx, d, o.retryMaxDelay)
}

// decodeOllama reads one /api/chat answer; 5xx answers are retryable.
func decodeOllama(resp *http.Response) (string, bool, error) {
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		var raw map[string]any
		_ = json.Unmarshal(body, &raw)
		msg, _ := raw["error"].(string)
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		if resp.StatusCode == http.StatusNotFound {
			msg = "model not found: " + msg
		}
		err := &UpstreamError{Provider: ProviderOllama, StatusCode: resp.StatusCode, Err: errors.New(msg)}
		return "", resp.StatusCode >= 500, err
	}
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", false, &UpstreamError{Provider: ProviderOllama, Err: fmt.Errorf("decode response: %w", err)}
	}
	return out.Message.Content, false, nil
}
