// Package server exposes the dataset analysis operations over HTTP. Every
// dataset route loads the stored CSV, applies one operation and either
// answers with the result or writes the changed dataset back.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/KaramelBytes/dataloom/internal/assistant"
	"github.com/KaramelBytes/dataloom/internal/frame"
	"github.com/KaramelBytes/dataloom/internal/importance"
	"github.com/KaramelBytes/dataloom/internal/impute"
	"github.com/KaramelBytes/dataloom/internal/metrics"
	"github.com/KaramelBytes/dataloom/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Datasets loads and stores typed frames. *storage.Store implements it.
type Datasets interface {
	Load(ctx context.Context, csvID string) (*frame.Frame, error)
	Save(ctx context.Context, csvID string, f *frame.Frame) (string, error)
	Upload(ctx context.Context, meta frame.Meta, raw []byte, f *frame.Frame) error
}

// Chats persists chat history and looks up per-user keys.
// *storage.Store implements it through its embedded client.
type Chats interface {
	SaveChat(ctx context.Context, chat storage.Chat) error
	GeminiAPIKey(ctx context.Context, userID string) (string, error)
}

// Config tunes the HTTP layer.
type Config struct {
	MaxUploadBytes  int64
	CORSOrigins     []string
	Importance      importance.Options
	Impute          impute.Options
	ShutdownTimeout time.Duration
}

// Deps are the collaborators of Server. Metrics and Logger may be nil.
type Deps struct {
	Datasets  Datasets
	Chats     Chats
	Assistant assistant.Assistant
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Server is an http.Handler serving the analysis API.
type Server struct {
	datasets  Datasets
	chats     Chats
	assistant assistant.Assistant
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config
	router    chi.Router
}

// New wires the routes and middleware.
func New(deps Deps, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}
	if cfg.Importance.Trees == 0 {
		cfg.Importance = importance.DefaultOptions()
	}
	if cfg.Impute.Neighbors == 0 {
		cfg.Impute = impute.DefaultOptions()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	s := &Server{
		datasets:  deps.Datasets,
		chats:     deps.Chats,
		assistant: deps.Assistant,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RequestLogger(accessLog{s}))
	r.Use(middleware.Recoverer)
	r.Use(cors(s.cfg.CORSOrigins))
	r.Use(middleware.RequestSize(s.cfg.MaxUploadBytes))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"message": true})
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Post("/upload", s.handleUpload)
	r.Post("/get_quantitative", s.handleQuantitative)
	r.Post("/get_qualitative", s.handleQualitative)
	r.Post("/get_qualitative_with_values", s.handleQualitativeValues)
	r.Post("/get_data_info", s.handleDataInfo)
	r.Post("/get_miss_columns", s.handleMissing)
	r.Post("/change_numeric_to_categorical", s.handleToCategorical)
	r.Post("/make_feature", s.handleMakeFeature)
	r.Route("/complement", func(r chi.Router) {
		r.Post("/numeric", s.handleImputeNumeric)
		r.Post("/categorical", s.handleImputeCategorical)
	})

	r.Post("/scatter", s.handleScatter)
	r.Post("/hist", s.handleHist)
	r.Post("/box", s.handleBox)
	r.Post("/get_pie", s.handlePie)
	r.Post("/feature_analysis", s.handleFeatureAnalysis)

	r.Post("/api/chat", s.handleChat)
	r.Post("/gemini/image", s.handleImage)
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// Serve answers requests on ln until ctx is cancelled, then drains
// in-flight requests for up to ShutdownTimeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}
