package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/KaramelBytes/dataloom/internal/assistant"
	"github.com/KaramelBytes/dataloom/internal/cache"
	cfgpkg "github.com/KaramelBytes/dataloom/internal/config"
	"github.com/KaramelBytes/dataloom/internal/logging"
	"github.com/KaramelBytes/dataloom/internal/metrics"
	"github.com/KaramelBytes/dataloom/internal/server"
	"github.com/KaramelBytes/dataloom/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the analysis HTTP service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := requireConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(c.LogLevel, c.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv, closeDeps, err := buildServer(ctx, c, logger)
		if err != nil {
			return err
		}
		defer closeDeps()
		logger.Info("starting dataloom",
			zap.String("listen_addr", c.ListenAddr),
			zap.String("storage_url", c.StorageURL),
			zap.String("assistant", c.AssistantProvider),
			zap.Bool("cache", c.RedisAddr != ""),
		)
		return srv.ListenAndServe(ctx, c.ListenAddr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// buildServer wires storage, cache, metrics and the assistant. The returned
// func releases the cache connection.
func buildServer(ctx context.Context, c *cfgpkg.Global, logger *zap.Logger) (*server.Server, func(), error) {
	var m *metrics.Metrics
	opts := []storage.Option{storage.WithLogger(logger.Named("storage"))}
	var observeCache storage.CacheObserver
	if c.MetricsEnabled {
		m = metrics.New()
		opts = append(opts, storage.WithObserver(m.ObserveStorage))
		observeCache = m.ObserveCache
	}
	client := storage.NewClient(c.StorageURL, c.HTTPTimeout(), c.RetryMaxAttempts, c.RetryBaseDelay(), c.RetryMaxDelay(), opts...)

	var dsCache cache.Cache = cache.Nop{}
	closeDeps := func() {}
	if c.RedisAddr != "" {
		r, err := cache.NewRedis(ctx, c.RedisAddr, c.RedisPassword, c.RedisDB, c.CacheTTL())
		if err != nil {
			logger.Warn("redis unavailable, using in-process dataset cache", zap.String("redis_addr", c.RedisAddr), zap.Error(err))
			dsCache = cache.NewMemory(c.CacheTTL())
		} else {
			dsCache = r
			closeDeps = func() { _ = r.Close() }
		}
	}
	store := storage.NewStore(client, dsCache, observeCache)

	asst, err := assistant.New(c.AssistantProvider, assistantConfig(c))
	if err != nil {
		closeDeps()
		return nil, nil, fmt.Errorf("assistant: %w", err)
	}
	srv := server.New(server.Deps{
		Datasets:  store,
		Chats:     store,
		Assistant: asst,
		Metrics:   m,
		Logger:    logger.Named("http"),
	}, server.Config{
		MaxUploadBytes: c.MaxUploadBytes(),
		CORSOrigins:    c.CORSOrigins,
	})
	return srv, closeDeps, nil
}

// assistantConfig maps config keys onto the provider settings. Gemini model
// names are dropped for Ollama so its own defaults apply.
func assistantConfig(c *cfgpkg.Global) assistant.Config {
	ac := assistant.Config{
		ChatModel:   c.ChatModel,
		VisionModel: c.VisionModel,
		ImagePrompt: c.ImagePrompt,
		Temperature: c.Temperature,
		HTTPTimeout: c.HTTPTimeout(),
		RetryMax:    c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay(),
		MaxDelay:    c.RetryMaxDelay(),
	}
	if c.AssistantProvider == assistant.ProviderOllama {
		ac.BaseURL = c.OllamaHost
		if strings.HasPrefix(ac.ChatModel, "gemini") {
			ac.ChatModel = ""
		}
		if strings.HasPrefix(ac.VisionModel, "gemini") {
			ac.VisionModel = ""
		}
	}
	return ac
}
