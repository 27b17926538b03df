package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions. It matches
// middleware.RequestIDHeader once canonicalized.
const RequestIDHeader = "X-Request-ID"

// RequestID returns the id assigned to the request, or "".
func RequestID(ctx context.Context) string { return middleware.GetReqID(ctx) }

// requestID runs middleware.RequestID with a uuid in place of a missing or
// oversized caller id, and echoes the id on the response.
func requestID(next http.Handler) http.Handler {
	echo := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(RequestIDHeader, RequestID(r.Context()))
		next.ServeHTTP(w, r)
	}))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		r.Header.Set(RequestIDHeader, id)
		echo.ServeHTTP(w, r)
	})
}

// routeOf is the matched chi pattern, used as a low-cardinality label.
func routeOf(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// accessLog is a middleware.LogFormatter writing one zap line per request
// and recording request metrics. middleware.Recoverer reports panics
// through the same entry.
type accessLog struct{ s *Server }

func (a accessLog) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &accessEntry{s: a.s, r: r}
}

type accessEntry struct {
	s *Server
	r *http.Request
}

func (e *accessEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ any) {
	if status == 0 {
		status = http.StatusOK
	}
	route := routeOf(e.r)
	if e.s.metrics != nil {
		e.s.metrics.ObserveRequest(route, e.r.Method, status, elapsed)
	}
	e.s.logger.Info("request",
		zap.String("method", e.r.Method),
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("duration", elapsed),
		zap.Int("bytes", bytes),
		zap.String("request_id", RequestID(e.r.Context())),
	)
}

func (e *accessEntry) Panic(v any, stack []byte) {
	e.s.logger.Error("handler panic",
		zap.Any("panic", v),
		zap.String("route", routeOf(e.r)),
		zap.String("request_id", RequestID(e.r.Context())),
		zap.ByteString("stack", stack),
	)
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) func(http.Handler) http.Handler {
	wildcard := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			wildcard = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" {
				switch {
				case wildcard:
					w.Header().Set("Access-Control-Allow-Origin", "*")
				case allowed[origin]:
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Add("Vary", "Origin")
				}
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+RequestIDHeader)
				w.Header().Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
