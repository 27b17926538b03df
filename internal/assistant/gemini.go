package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// Gemini calls the Gemini API with the key of the requesting user, so a
// client is built per call.
type Gemini struct {
	cfg        Config
	httpClient *http.Client
}

func NewGemini(cfg Config) *Gemini {
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gemini-1.5-flash"
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.ChatModel
	}
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = DefaultImagePrompt
	}
	g := &Gemini{cfg: cfg}
	if cfg.HTTPTimeout > 0 {
		g.httpClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	return g
}

func (g *Gemini) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: g.httpClient,
	}
	if g.cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: g.cfg.BaseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return c, nil
}

func (g *Gemini) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		CandidateCount: 1,
		Temperature:    genai.Ptr(float32(g.cfg.Temperature)),
	}
}

func (g *Gemini) Chat(ctx context.Context, apiKey, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", ErrEmptyMessage
	}
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	resp, err := c.Models.GenerateContent(ctx, g.cfg.ChatModel, genai.Text(message), g.generationConfig())
	if err != nil {
		return "", wrapGemini(err)
	}
	return resp.Text(), nil
}

func (g *Gemini) DescribeImage(ctx context.Context, apiKey string, png []byte) (string, error) {
	if len(png) == 0 {
		return "", ErrEmptyImage
	}
	c, err := g.client(ctx, apiKey)
	if err != nil {
		return "", err
	}
	contents := []*genai.Content{genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(g.cfg.ImagePrompt),
		genai.NewPartFromBytes(png, "image/png"),
	}, genai.RoleUser)}
	resp, err := c.Models.GenerateContent(ctx, g.cfg.VisionModel, contents, g.generationConfig())
	if err != nil {
		return "", wrapGemini(err)
	}
	return resp.Text(), nil
}

func wrapGemini(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	ue := &UpstreamError{Provider: ProviderGemini, Err: err}
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		ue.StatusCode = apiErr.Code
	case errors.As(err, &apiErrPtr):
		ue.StatusCode = apiErrPtr.Code
	}
	return ue
}
