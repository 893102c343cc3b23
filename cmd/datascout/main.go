package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/datascout-ai/datascout/api"
	"github.com/datascout-ai/datascout/internal/acquire"
	"github.com/datascout-ai/datascout/internal/auth"
	"github.com/datascout-ai/datascout/internal/catalog"
	"github.com/datascout-ai/datascout/internal/config"
	"github.com/datascout-ai/datascout/internal/job"
	"github.com/datascout-ai/datascout/internal/mcp"
	"github.com/datascout-ai/datascout/internal/normalize"
	"github.com/datascout-ai/datascout/internal/rank"
	"github.com/datascout-ai/datascout/internal/ratelimit"
	"github.com/datascout-ai/datascout/internal/search"
	"github.com/datascout-ai/datascout/internal/server"
	"github.com/datascout-ai/datascout/internal/service/embedding"
	"github.com/datascout-ai/datascout/internal/storage"
	"github.com/datascout-ai/datascout/internal/telemetry"
	"github.com/datascout-ai/datascout/internal/train"
	"github.com/datascout-ai/datascout/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	switch os.Getenv("DATASCOUT_LOG_LEVEL") {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("datascout starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Storage: Postgres when configured, in-memory otherwise. The memory
	// store serves single-binary dev mode; job history does not survive a
	// restart and search logging is disabled.
	var (
		store    job.Store
		db       *storage.DB
		recorder search.Recorder
		history  mcp.SearchHistory
		pinger   server.Pinger
	)
	if cfg.DatabaseURL != "" {
		db, err = storage.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		defer db.Close()

		// Register connection pool OTEL metrics (after telemetry.Init).
		db.RegisterPoolMetrics()

		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}

		store = db
		recorder = db
		history = db
		pinger = db
		logger.Info("storage: postgres")
	} else {
		store = job.NewMemoryStore()
		logger.Warn("storage: in-memory (no DATABASE_URL; jobs are not persisted)")
	}

	// Create JWT manager and the API keyring used by POST /auth/token.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	keyring := auth.NewAPIKeyring()
	if cfg.AdminAPIKey != "" {
		if err := keyring.Add("admin", cfg.AdminAPIKey, auth.RoleAdmin); err != nil {
			return fmt.Errorf("auth: seed admin key: %w", err)
		}
	} else {
		logger.Warn("no DATASCOUT_ADMIN_API_KEY configured; token endpoint will reject all clients")
	}

	// Catalog sources. Sources self-report whether they have the
	// credentials they need; the aggregator skips disabled ones.
	registry := catalog.NewRegistry(
		catalog.NewKaggleSource(cfg.KaggleUsername, cfg.KaggleKey),
		catalog.NewHuggingFaceSource(cfg.HuggingFaceToken),
		catalog.NewOpenMLSource(cfg.OpenMLEnabled),
	)
	for _, src := range registry.All() {
		logger.Info("catalog source", "source", src.Name(), "enabled", src.Enabled())
	}
	aggregator := catalog.NewAggregator(registry, cfg.SourceLimit, cfg.SourceTimeout, logger)

	// Query normalizer: LLM-backed when an API key is configured, else a
	// passthrough that tokenizes the raw query.
	var normalizer normalize.Normalizer
	if cfg.NormalizerAPIKey != "" {
		normalizer = normalize.NewLLMNormalizer(
			cfg.NormalizerURL, cfg.NormalizerModel, cfg.NormalizerAPIKey,
			&http.Client{Timeout: cfg.NormalizerTimeout}, logger)
		logger.Info("normalizer: llm", "model", cfg.NormalizerModel)
	} else {
		normalizer = normalize.Passthrough{}
		logger.Info("normalizer: passthrough (no OPENAI_API_KEY)")
	}

	embedder := newEmbeddingProvider(cfg, logger)
	ranker := rank.NewSemanticRanker(embedder, logger)

	searcher := search.NewService(normalizer, aggregator, ranker, recorder, logger)

	// Job runner with the acquisition and training executors.
	broker := job.NewBroker(cfg.EventBufferSize)
	runner := job.NewRunner(store, broker, cfg.JobWorkers, logger,
		acquire.NewAcquirer(registry, store, cfg.DataDir, logger),
		train.NewTrainer(store, cfg.DataDir, logger),
	)
	runner.Start(ctx)

	// Create MCP server (mounted at /mcp).
	mcpSrv := mcp.New(searcher, runner, store, history, logger, version)

	// Create rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		defer func() { _ = limiter.Close() }()
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		Handlers: server.HandlersDeps{
			JWTMgr:              jwtMgr,
			Keyring:             keyring,
			Searcher:            searcher,
			Runner:              runner,
			Store:               store,
			Broker:              broker,
			DB:                  pinger,
			Logger:              logger,
			Version:             version,
			MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		},
		Limiter:      limiter,
		MCPServer:    mcpSrv.MCPServer(),
		OpenAPISpec:  api.OpenAPISpec,
		Port:         cfg.Port,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Start HTTP server in background.
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	// Graceful shutdown. Stop accepting HTTP first so no new jobs arrive,
	// then let running jobs observe cancellation and persist their terminal
	// state before the workers exit.
	slog.Info("datascout shutting down")

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := srv.Shutdown(httpCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	httpCancel()

	runner.Shutdown()

	slog.Info("datascout stopped")
	return nil
}

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "openai", "noop", or "auto" (default).
// Auto mode tries Ollama if reachable, then OpenAI if key present, else noop.
// Ollama is preferred: embeddings stay on-premises with no external API costs.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when DATASCOUT_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic reranking degrades to popularity order)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		// Auto-detect: prefer Ollama (on-premises, no cost), then OpenAI, else noop.
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		}
		logger.Warn("no embedding provider available, using noop (semantic reranking degrades to popularity order)")
		return embedding.NewNoopProvider(dims)
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
