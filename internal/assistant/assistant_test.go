package assistant

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
	ln  net.Listener
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: srv, ln: ln}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func TestNewUnknownProvider(t *testing.T) {
	if _, err := New("openrouter", Config{}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	a, err := New(ProviderOllama, Config{})
	if err != nil {
		t.Fatalf("New(ollama): %v", err)
	}
	if a.(*Ollama).cfg.ImagePrompt != DefaultImagePrompt {
		t.Fatalf("image prompt not defaulted")
	}
	if got := strings.Join(Providers(), ","); got != "gemini,ollama" {
		t.Fatalf("providers=%s", got)
	}
}

func TestOllamaChat(t *testing.T) {
	var captured ollamaChatRequest
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]any{"role": "assistant", "content": "hello from ollama"},
			"done":    true,
		})
	}))
	defer srv.Close()

	o := NewOllama(Config{BaseURL: srv.URL, ChatModel: "llama3:latest", Temperature: 0.5, RetryMax: 1})
	got, err := o.Chat(context.Background(), "", "hi")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "hello from ollama" {
		t.Fatalf("reply=%q", got)
	}
	if captured.Model != "llama3:latest" || captured.Stream || len(captured.Messages) != 1 || captured.Messages[0].Content != "hi" {
		t.Fatalf("unexpected request: %+v", captured)
	}
	if captured.Options["temperature"] != 0.5 {
		t.Fatalf("temperature not forwarded: %+v", captured.Options)
	}
}

func TestOllamaDescribeImage(t *testing.T) {
	var captured ollamaChatRequest
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]any{"role": "assistant", "content": "a chart"}})
	}))
	defer srv.Close()

	o := NewOllama(Config{BaseURL: srv.URL, VisionModel: "llava", ImagePrompt: "describe"})
	got, err := o.DescribeImage(context.Background(), "", []byte("png"))
	if err != nil || got != "a chart" {
		t.Fatalf("DescribeImage=%q, %v", got, err)
	}
	m := captured.Messages[0]
	if captured.Model != "llava" || m.Content != "describe" || len(m.Images) != 1 || m.Images[0] != base64.StdEncoding.EncodeToString([]byte("png")) {
		t.Fatalf("unexpected request: %+v", captured)
	}
}

func TestOllamaRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "loading model"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"message": map[string]any{"content": "ok"}})
	}))
	defer srv.Close()

	o := NewOllama(Config{BaseURL: srv.URL, RetryMax: 2, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	got, err := o.Chat(context.Background(), "", "hi")
	if err != nil || got != "ok" {
		t.Fatalf("Chat=%q, %v", got, err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls=%d want 2", calls)
	}
}

func TestOllamaErrors(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model 'x' not found"})
	}))
	defer srv.Close()

	o := NewOllama(Config{BaseURL: srv.URL, RetryMax: 1})
	_, err := o.Chat(context.Background(), "", "hi")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.StatusCode != http.StatusNotFound || !strings.Contains(err.Error(), "model not found") {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := o.Chat(context.Background(), "", "  "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
	if _, err := o.DescribeImage(context.Background(), "", nil); !errors.Is(err, ErrEmptyImage) {
		t.Fatalf("want ErrEmptyImage, got %v", err)
	}
}

type seenRequest struct {
	mu   sync.Mutex
	path string
	key  string
}

func (s *seenRequest) get() (string, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path, s.key
}

func geminiServer(t *testing.T, reply string, seen *seenRequest) *ipv4Server {
	t.Helper()
	return newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.mu.Lock()
		seen.path = r.URL.Path
		seen.key = r.Header.Get("x-goog-api-key")
		if seen.key == "" {
			seen.key = r.URL.Query().Get("key")
		}
		seen.mu.Unlock()
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []any{map[string]any{
				"content": map[string]any{"role": "model", "parts": []any{map[string]any{"text": reply}}},
			}},
		})
	}))
}

func TestGeminiChat(t *testing.T) {
	var seen seenRequest
	srv := geminiServer(t, "こんにちは", &seen)
	defer srv.Close()

	g := NewGemini(Config{BaseURL: srv.URL, ChatModel: "gemini-1.5-flash", Temperature: 1})
	got, err := g.Chat(context.Background(), "user-key", "hello")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if got != "こんにちは" {
		t.Fatalf("reply=%q", got)
	}
	path, key := seen.get()
	if !strings.Contains(path, "gemini-1.5-flash") {
		t.Fatalf("model not in path: %s", path)
	}
	if key != "user-key" {
		t.Fatalf("api key not sent, got %q", key)
	}
}

func TestGeminiDescribeImage(t *testing.T) {
	var seen seenRequest
	srv := geminiServer(t, "グラフの解説", &seen)
	defer srv.Close()

	g := NewGemini(Config{BaseURL: srv.URL, VisionModel: "gemini-1.5-pro"})
	got, err := g.DescribeImage(context.Background(), "k", []byte("\x89PNG"))
	if err != nil || got != "グラフの解説" {
		t.Fatalf("DescribeImage=%q, %v", got, err)
	}
	if path, _ := seen.get(); !strings.Contains(path, "gemini-1.5-pro") {
		t.Fatalf("vision model not used: %s", path)
	}
}

func TestGeminiRequiresKey(t *testing.T) {
	g := NewGemini(Config{})
	if _, err := g.Chat(context.Background(), "", "hi"); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("want ErrMissingAPIKey, got %v", err)
	}
	if _, err := g.Chat(context.Background(), "k", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("want ErrEmptyMessage, got %v", err)
	}
}

func TestGeminiUpstreamError(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 403, "message": "API key not valid", "status": "PERMISSION_DENIED"},
		})
	}))
	defer srv.Close()

	g := NewGemini(Config{BaseURL: srv.URL})
	_, err := g.Chat(context.Background(), "bad", "hi")
	var ue *UpstreamError
	if !errors.As(err, &ue) || ue.Provider != ProviderGemini {
		t.Fatalf("want UpstreamError, got %v", err)
	}
}
