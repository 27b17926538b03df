// Package storage talks to the storage service that persists datasets,
// chats and user settings.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KaramelBytes/dataloom/internal/frame"
	"github.com/KaramelBytes/dataloom/internal/retry"
)

// ErrEmptyDataset is returned when the service answers without file contents.
var ErrEmptyDataset = errors.New("storage returned no csv or dtype file")

// Outcomes reported to an Observer.
const (
	OutcomeOK    = "ok"
	OutcomeRetry = "retry"
	OutcomeError = "error"
)

// Observer receives one call per HTTP attempt.
type Observer func(op, outcome string)

type Client struct {
	httpClient       *http.Client
	baseURL          string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	logger           *zap.Logger
	observe          Observer
}

// Option customizes a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observe = o
		}
	}
}

// NewClient allows customizing HTTP timeout and retry/backoff behavior.
func NewClient(baseURL string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration, opts ...Option) *Client {
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 3
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 3 * time.Second
	}
	c := &Client{
		httpClient:       &http.Client{Timeout: httpTimeout},
		baseURL:          strings.TrimRight(baseURL, "/"),
		retryMaxAttempts: retryMax,
		retryBaseDelay:   baseDelay,
		retryMaxDelay:    maxDelay,
		logger:           zap.NewNop(),
		observe:          func(string, string) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dataset is a stored CSV with its column dtypes.
type Dataset struct {
	CSV    []byte
	DTypes map[string]string
}

// GetCSV downloads the dataset stored under csvID.
func (c *Client) GetCSV(ctx context.Context, csvID string) (*Dataset, error) {
	var out struct {
		File struct {
			CSV  []byte `json:"csv_file"`
			JSON []byte `json:"json_file"`
		} `json:"file"`
	}
	req := request{op: "get_csv", method: http.MethodGet, path: "/get_csv/" + url.PathEscape(csvID)}
	if err := c.do(ctx, req, &out); err != nil {
		return nil, err
	}
	if len(out.File.CSV) == 0 || len(out.File.JSON) == 0 {
		return nil, fmt.Errorf("get_csv %s: %w", csvID, ErrEmptyDataset)
	}
	ds := &Dataset{CSV: out.File.CSV}
	if err := json.Unmarshal(out.File.JSON, &ds.DTypes); err != nil {
		return nil, fmt.Errorf("decode dtypes of %s: %w", csvID, err)
	}
	return ds, nil
}

// UploadCSV stores a new dataset together with its listing metadata.
func (c *Client) UploadCSV(ctx context.Context, meta frame.Meta, csv []byte, dtypes map[string]string) error {
	body, contentType, err := datasetForm(csv, dtypes, map[string]string{
		"user_id":      meta.UserID,
		"csv_id":       meta.CSVID,
		"file_name":    meta.FileName,
		"data_size":    strconv.Itoa(meta.Size),
		"data_columns": strconv.Itoa(meta.Columns),
		"data_rows":    strconv.Itoa(meta.Rows),
	})
	if err != nil {
		return err
	}
	req := request{op: "upload_csv", method: http.MethodPost, path: "/upload_csv", body: body, contentType: contentType}
	return c.do(ctx, req, nil)
}

// UpdateCSV replaces the contents of meta.CSVID and returns the stored file
// name.
func (c *Client) UpdateCSV(ctx context.Context, meta frame.Meta, csv []byte, dtypes map[string]string) (string, error) {
	body, contentType, err := datasetForm(csv, dtypes, map[string]string{
		"csv_id":       meta.CSVID,
		"data_size":    strconv.Itoa(meta.Size),
		"data_columns": strconv.Itoa(meta.Columns),
		"data_rows":    strconv.Itoa(meta.Rows),
	})
	if err != nil {
		return "", err
	}
	var out struct {
		FileName string `json:"file_name"`
	}
	req := request{op: "update_csv", method: http.MethodPost, path: "/csvs/update", body: body, contentType: contentType}
	if err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.FileName, nil
}

// Chat is one stored chat message.
type Chat struct {
	ChatID   string `json:"chat_id"`
	RoomID   string `json:"room_id"`
	Message  string `json:"message"`
	PostID   int    `json:"post_id"`
	UserChat bool   `json:"user_chat"`
}

// SaveChat stores chat, assigning a random ChatID when empty.
func (c *Client) SaveChat(ctx context.Context, chat Chat) error {
	if chat.ChatID == "" {
		chat.ChatID = uuid.NewString()
	}
	payload, err := json.Marshal(chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}
	req := request{op: "save_chat", method: http.MethodPost, path: "/chats/save/chat", body: payload, contentType: "application/json"}
	return c.do(ctx, req, nil)
}

// GeminiAPIKey returns the Gemini key the user registered.
func (c *Client) GeminiAPIKey(ctx context.Context, userID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}
	var out struct {
		Key string `json:"GeminiApiKey"`
	}
	req := request{op: "get_api_key", method: http.MethodPost, path: "/users/get/api", body: payload, contentType: "application/json"}
	if err := c.do(ctx, req, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

func datasetForm(csv []byte, dtypes map[string]string, fields map[string]string) ([]byte, string, error) {
	dt, err := json.Marshal(dtypes)
	if err != nil {
		return nil, "", fmt.Errorf("marshal dtypes: %w", err)
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := addFile(mw, "csv_file", "data.csv", "text/csv", csv); err != nil {
		return nil, "", err
	}
	if err := addFile(mw, "json_file", "data.json", "application/json", dt); err != nil {
		return nil, "", err
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func addFile(mw *multipart.Writer, field, name, contentType string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return fmt.Errorf("create part %s: %w", field, err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("write part %s: %w", field, err)
	}
	return nil
}

type request struct {
	op          string
	method      string
	path        string
	body        []byte
	contentType string
}

// do sends req, retrying 429, 5xx and transport failures with exponential
// backoff, and decodes a 2xx JSON body into out when out is non-nil.
func (c *Client) do(ctx context.Context, req request, out any) error {
	endpoint := c.baseURL + req.path
	backoff := c.retryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		var body io.Reader
		if req.body != nil {
			body = bytes.NewReader(req.body)
		}
		httpReq, err := http.NewRequestWithContext(ctx, req.method, endpoint, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if req.contentType != "" {
			httpReq.Header.Set("Content-Type", req.contentType)
		}
		httpReq.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			if ctx.Err() != nil {
				c.observe(req.op, OutcomeError)
				return ctx.Err()
			}
			lastErr = &UnreachableError{Host: c.baseURL, Err: err}
			if retry.Transient(err) && attempt < c.retryMaxAttempts {
				c.observe(req.op, OutcomeRetry)
				c.logger.Warn("storage request failed, retrying",
					zap.String("op", req.op), zap.Int("attempt", attempt), zap.Error(err))
				if err := retry.Sleep(ctx, retry.Jitter(backoff), c.retryMaxDelay); err != nil {
					return err
				}
				backoff *= 2
				continue
			}
			c.observe(req.op, OutcomeError)
			return lastErr
		}

		again, wait, err := c.handle(resp, req.op, out)
		if err == nil {
			c.observe(req.op, OutcomeOK)
			return nil
		}
		lastErr = err
		if !again || attempt == c.retryMaxAttempts {
			c.observe(req.op, OutcomeError)
			return lastErr
		}
		c.observe(req.op, OutcomeRetry)
		c.logger.Warn("storage returned retryable status, retrying",
			zap.String("op", req.op), zap.Int("attempt", attempt), zap.Error(err))
		if wait <= 0 {
			wait = retry.Jitter(backoff)
			backoff *= 2
		}
		if err := retry.Sleep(ctx, wait, c.retryMaxDelay); err != nil {
			return err
		}
	}
	return lastErr
}

// handle consumes resp. It reports whether a failure is retryable and any
// server-requested delay.
func (c *Client) handle(resp *http.Response, op string, out any) (bool, time.Duration, error) {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return false, 0, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, 0, fmt.Errorf("decode %s response: %w", op, err)
		}
		return false, 0, nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	var raw map[string]any
	_ = json.Unmarshal(body, &raw)
	apiErr := &APIError{Op: op, StatusCode: resp.StatusCode, Raw: raw, RequestID: extractRequestID(resp)}
	if msg, ok := raw["message"].(string); ok {
		apiErr.Message = msg
	}
	if detail, ok := raw["error"].(string); ok {
		apiErr.Detail = detail
	}
	if raw == nil && len(body) > 0 {
		apiErr.Message = strings.TrimSpace(string(body))
	}
	sc := resp.StatusCode
	if sc == http.StatusTooManyRequests || (sc >= 500 && sc <= 599) {
		var wait time.Duration
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := parseRetryAfterSeconds(ra); err == nil && secs > 0 {
				wait = time.Duration(secs) * time.Second
			}
		}
		return true, wait, classify(apiErr)
	}
	return false, 0, classify(apiErr)
}

// parseRetryAfterSeconds interprets a Retry-After value as seconds or an HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

func extractRequestID(resp *http.Response) string {
	for _, k := range []string{"X-Request-Id", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

func containsFold(s, sub string) bool {
	if s == "" || sub == "" {
		return false
	}
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}
