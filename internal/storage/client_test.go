package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/dataloom/internal/frame"
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
	t.Cleanup(s.Close)
	return s
}

func (s *ipv4Server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = s.srv.Shutdown(ctx)
}

func testClient(url string, opts ...Option) *Client {
	return NewClient(url, 2*time.Second, 3, time.Millisecond, 5*time.Millisecond, opts...)
}

// testServerSequence answers path with statuses in order, repeating the last.
func testServerSequence(t *testing.T, path string, statuses []int, headers []http.Header, bodyOK any) (*ipv4Server, *int32) {
	t.Helper()
	var idx int32
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(&idx, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		if headers != nil && i < len(headers) {
			for k, vals := range headers[i] {
				for _, v := range vals {
					w.Header().Add(k, v)
				}
			}
		}
		st := statuses[i]
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(st)
		if st >= 200 && st < 300 {
			_ = json.NewEncoder(w).Encode(bodyOK)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "boom", "message": "failed"})
	}))
	return srv, &idx
}

func datasetBody(csv string, dtypes map[string]string) map[string]any {
	dt, _ := json.Marshal(dtypes)
	return map[string]any{"file": map[string]any{"csv_file": []byte(csv), "json_file": dt}}
}

func TestGetCSV(t *testing.T) {
	body := datasetBody("a,b\n1,x\n", map[string]string{"a": "float64", "b": "object"})
	srv, calls := testServerSequence(t, "/get_csv/abc", []int{200}, nil, body)

	ds, err := testClient(srv.URL).GetCSV(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, "a,b\n1,x\n", string(ds.CSV))
	assert.Equal(t, map[string]string{"a": "float64", "b": "object"}, ds.DTypes)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))
}

func TestGetCSVEscapesID(t *testing.T) {
	id := "../csvs/update?x=1/2"
	var path, query string
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path, query = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(datasetBody("a\n1\n", map[string]string{"a": "int64"}))
	}))

	_, err := testClient(srv.URL).GetCSV(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "/get_csv/"+id, path, "id must stay a single path segment")
	assert.Empty(t, query)
}

func TestGetCSVEmpty(t *testing.T) {
	srv, _ := testServerSequence(t, "/get_csv/abc", []int{200}, nil, map[string]any{"file": map[string]any{}})
	_, err := testClient(srv.URL).GetCSV(context.Background(), "abc")
	require.ErrorIs(t, err, ErrEmptyDataset)
}

func TestRetriesOn5xxAnd429(t *testing.T) {
	body := datasetBody("a\n1\n", map[string]string{"a": "int64"})
	srv, calls := testServerSequence(t, "/get_csv/x", []int{503, 429, 200}, nil, body)

	var mu sync.Mutex
	var outcomes []string
	c := testClient(srv.URL, WithObserver(func(op, outcome string) {
		mu.Lock()
		defer mu.Unlock()
		outcomes = append(outcomes, op+":"+outcome)
	}))
	_, err := c.GetCSV(context.Background(), "x")
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
	assert.Equal(t, []string{"get_csv:retry", "get_csv:retry", "get_csv:ok"}, outcomes)
}

func TestRetryAfterHonored(t *testing.T) {
	srv, calls := testServerSequence(t, "/get_csv/x", []int{429, 200},
		[]http.Header{{"Retry-After": []string{"1"}}}, datasetBody("a\n1\n", map[string]string{"a": "int64"}))
	c := NewClient(srv.URL, 2*time.Second, 2, time.Millisecond, 2*time.Second)

	start := time.Now()
	_, err := c.GetCSV(context.Background(), "x")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.EqualValues(t, 2, atomic.LoadInt32(calls))
}

func TestServerErrorAfterRetries(t *testing.T) {
	srv, calls := testServerSequence(t, "/get_csv/x", []int{500}, []http.Header{{"X-Request-Id": []string{"req-9"}}}, nil)
	_, err := testClient(srv.URL).GetCSV(context.Background(), "x")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.StatusCode)
	assert.Equal(t, "boom", se.Detail)
	assert.EqualValues(t, 3, atomic.LoadInt32(calls))
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   map[string]any
		check  func(t *testing.T, err error)
	}{
		{"404", 404, map[string]any{"error": "missing"}, func(t *testing.T, err error) {
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
		}},
		{"gorm not found", 400, map[string]any{"error": "record not found", "message": "データが取得されませんでした"}, func(t *testing.T, err error) {
			var nf *NotFoundError
			require.ErrorAs(t, err, &nf)
		}},
		{"bad request", 400, map[string]any{"error": "CSV file required"}, func(t *testing.T, err error) {
			var br *BadRequestError
			require.ErrorAs(t, err, &br)
			assert.Contains(t, err.Error(), "CSV file required")
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls int32
			srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&calls, 1)
				w.WriteHeader(tc.status)
				_ = json.NewEncoder(w).Encode(tc.body)
			}))
			_, err := testClient(srv.URL).GetCSV(context.Background(), "x")
			tc.check(t, err)
			assert.EqualValues(t, 1, atomic.LoadInt32(&calls), "4xx must not be retried")
		})
	}
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot open local listener: %v", err)
	}
	addr := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = testClient(addr).GetCSV(context.Background(), "x")
	var ue *UnreachableError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, addr, ue.Host)
}

func TestContextCanceledDuringBackoff(t *testing.T) {
	srv, _ := testServerSequence(t, "/get_csv/x", []int{503}, nil, nil)
	c := NewClient(srv.URL, time.Second, 5, time.Second, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GetCSV(ctx, "x")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUploadCSV(t *testing.T) {
	type captured struct {
		fields   map[string]string
		csv      string
		csvType  string
		dtypes   map[string]string
		jsonName string
	}
	got := make(chan captured, 1)
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload_csv" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var c captured
		c.fields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			c.fields[k] = v[0]
		}
		fh := r.MultipartForm.File["csv_file"][0]
		c.csvType = fh.Header.Get("Content-Type")
		f, _ := fh.Open()
		b, _ := io.ReadAll(f)
		c.csv = string(b)
		jh := r.MultipartForm.File["json_file"][0]
		c.jsonName = jh.Filename
		jf, _ := jh.Open()
		_ = json.NewDecoder(jf).Decode(&c.dtypes)
		got <- c
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "Upload successful", "csv_id": c.fields["csv_id"]})
	}))

	meta := frame.Meta{UserID: "u1", CSVID: "c1", FileName: "iris.csv", Size: 8, Columns: 2, Rows: 1}
	err := testClient(srv.URL).UploadCSV(context.Background(), meta, []byte("a,b\n1,x\n"), map[string]string{"a": "int64", "b": "object"})
	require.NoError(t, err)
	c := <-got
	assert.Equal(t, map[string]string{
		"user_id": "u1", "csv_id": "c1", "file_name": "iris.csv",
		"data_size": "8", "data_columns": "2", "data_rows": "1",
	}, c.fields)
	assert.Equal(t, "a,b\n1,x\n", c.csv)
	assert.Equal(t, "text/csv", c.csvType)
	assert.Equal(t, "data.json", c.jsonName)
	assert.Equal(t, map[string]string{"a": "int64", "b": "object"}, c.dtypes)
}

func TestUpdateCSV(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "c1", r.FormValue("csv_id"))
		assert.Equal(t, "3", r.FormValue("data_rows"))
		_, hasUser := r.MultipartForm.Value["user_id"]
		assert.False(t, hasUser)
		_ = json.NewEncoder(w).Encode(map[string]any{"StatusMessage": "Success", "file_name": "iris.csv"})
	}))
	meta := frame.Meta{CSVID: "c1", Size: 10, Columns: 1, Rows: 3}
	name, err := testClient(srv.URL).UpdateCSV(context.Background(), meta, []byte("a\n1\n2\n3\n"), map[string]string{"a": "int64"})
	require.NoError(t, err)
	assert.Equal(t, "iris.csv", name)
}

func TestSaveChat(t *testing.T) {
	got := make(chan Chat, 1)
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var c Chat
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&c))
		got <- c
		_ = json.NewEncoder(w).Encode(map[string]any{"StatusMessage": "Success"})
	}))
	err := testClient(srv.URL).SaveChat(context.Background(), Chat{RoomID: "r1", Message: "hi", PostID: 3, UserChat: true})
	require.NoError(t, err)
	c := <-got
	_, perr := uuid.Parse(c.ChatID)
	assert.NoError(t, perr)
	assert.Equal(t, "r1", c.RoomID)
	assert.Equal(t, 3, c.PostID)
	assert.True(t, c.UserChat)
}

func TestGeminiAPIKey(t *testing.T) {
	srv := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body["user_id"])
		_ = json.NewEncoder(w).Encode(map[string]any{"GeminiApiKey": "secret"})
	}))
	key, err := testClient(srv.URL).GeminiAPIKey(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, "secret", key)
}
