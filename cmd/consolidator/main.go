package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/veridocs/consolidator/internal/auth"
	"github.com/veridocs/consolidator/internal/claims"
	"github.com/veridocs/consolidator/internal/config"
	"github.com/veridocs/consolidator/internal/consolidate"
	"github.com/veridocs/consolidator/internal/ctxutil"
	"github.com/veridocs/consolidator/internal/entities"
	"github.com/veridocs/consolidator/internal/ingest"
	"github.com/veridocs/consolidator/internal/llm"
	"github.com/veridocs/consolidator/internal/mcp"
	"github.com/veridocs/consolidator/internal/ratelimit"
	"github.com/veridocs/consolidator/internal/search"
	"github.com/veridocs/consolidator/internal/service/embedding"
	"github.com/veridocs/consolidator/internal/storage"
	"github.com/veridocs/consolidator/internal/telemetry"
	"github.com/veridocs/consolidator/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	// Load .env file if present (non-fatal; production won't have one).
	// Loaded before config.Load so its values reach the config.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger.Info("consolidator starting", "version", version, "sse_enabled", cfg.SSEEnabled)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if cfg.SkipMigrate {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	llmSvc := newLLMService(cfg, logger)
	embedder := newEmbeddingProvider(cfg, logger)

	var qdrantIndex *search.QdrantIndex
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()

		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), claim vectors are kept in Postgres only")
	}

	extractor := claims.NewExtractor(llmSvc)
	resolver := entities.NewResolver(embedder)

	ingestOrch := ingest.New(db, embedder, extractor, resolver, logger)
	if qdrantIndex != nil {
		ingestOrch = ingestOrch.WithIndex(qdrantIndex)
	}
	consolidateOrch := consolidate.New(db, llmSvc, logger)

	mcpSrv := mcp.New(db, ingestOrch, consolidateOrch, logger, version)

	if db.HasNotifyConn() {
		go runNotifyConsumer(ctx, db, logger)
	} else {
		logger.Info("storage: notify connection not configured, skipping notification consumer")
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("mcp: serving over stdio")
		if err := mcpserver.ServeStdio(mcpSrv.MCPServer()); err != nil {
			errCh <- fmt.Errorf("stdio transport: %w", err)
		}
	}()

	var sseServer *http.Server
	if cfg.SSEEnabled {
		jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}

		var limiter ratelimit.Limiter = ratelimit.NoopLimiter{}
		if cfg.RateLimitEnabled {
			limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		}
		defer func() { _ = limiter.Close() }()

		mux := http.NewServeMux()
		mcpHTTP := mcpserver.NewStreamableHTTPServer(mcpSrv.MCPServer())
		mux.Handle("/mcp", mcpHTTP)
		mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		var handler http.Handler = mux
		handler = rateLimitMiddleware(limiter, logger, handler)
		handler = authMiddleware(jwtMgr, handler)

		sseServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.SSEPort),
			Handler:      handler,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
		go func() {
			logger.Info("mcp: serving over sse", "port", cfg.SSEPort)
			if err := sseServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("sse transport: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("consolidator shutting down")
	if sseServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := sseServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("sse shutdown error", "error", err)
		}
		shutdownCancel()
	}
	logger.Info("consolidator stopped")
	return nil
}

// runNotifyConsumer subscribes to the consolidation and conflict
// notification channels and logs each event as it arrives. This server is
// synchronous and on-demand with no SSE subscribers to fan events out to
// (unlike the teacher's broker.go), so the consumer only observes the
// LISTEN/NOTIFY traffic that consolidate.Orchestrator emits on commit —
// useful for an operator tailing logs to see consolidation/conflict
// activity without querying the database. Blocks until ctx is cancelled.
func runNotifyConsumer(ctx context.Context, db *storage.DB, logger *slog.Logger) {
	channels := []string{storage.ChannelConsolidations, storage.ChannelConflicts}
	for _, ch := range channels {
		if err := db.ListenWithRetry(ctx, ch); err != nil {
			logger.Error("notify consumer: failed to listen after retries, giving up", "channel", ch, "error", err)
			return
		}
	}
	logger.Info("notify consumer: listening for notifications", "channels", channels)

	for {
		channel, payload, err := db.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("notify consumer: wait for notification failed, retrying", "error", err)
			continue
		}
		logger.Info("notify consumer: notification received", "channel", channel, "payload", payload)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	level := parseLogLevel(cfg.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newLLMService selects an LLM backend based on configuration. Provider
// selection: "openai", "ollama", "noop", or "auto" (default, tries Ollama
// first since it keeps claim extraction and conflict adjudication prompts
// on-premises, then OpenAI, else noop).
func newLLMService(cfg config.Config, logger *slog.Logger) llm.Service {
	switch cfg.LLMProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CONSOLIDATOR_LLM_PROVIDER=openai")
			return llm.NewNoopService()
		}
		logger.Info("llm provider: openai", "model", cfg.OpenAIModel)
		svc, err := llm.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			logger.Error("openai llm init failed", "error", err)
			return llm.NewNoopService()
		}
		return svc

	case "ollama":
		logger.Info("llm provider: ollama", "url", cfg.OllamaLLMURL, "model", cfg.OllamaLLMModel)
		return llm.NewOllamaService(cfg.OllamaLLMURL, cfg.OllamaLLMModel)

	case "noop":
		logger.Info("llm provider: noop (claim extraction and smart conflict resolution disabled)")
		return llm.NewNoopService()

	case "auto":
		fallthrough
	default:
		if llm.Reachable(context.Background(), cfg.OllamaLLMURL) {
			logger.Info("llm provider: ollama (auto-detected)", "url", cfg.OllamaLLMURL, "model", cfg.OllamaLLMModel)
			return llm.NewOllamaService(cfg.OllamaLLMURL, cfg.OllamaLLMModel)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("llm provider: openai (auto-detected)", "model", cfg.OpenAIModel)
			svc, err := llm.NewOpenAIService(cfg.OpenAIAPIKey, cfg.OpenAIModel)
			if err != nil {
				logger.Error("openai llm init failed", "error", err)
				return llm.NewNoopService()
			}
			return svc
		}
		logger.Warn("no llm provider available, using noop (claim extraction and smart conflict resolution disabled)")
		return llm.NewNoopService()
	}
}

// newEmbeddingProvider selects an embedding backend based on configuration,
// mirroring newLLMService's auto-detection order.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("OPENAI_API_KEY required when CONSOLIDATOR_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider(dims)
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", dims)
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
		if err != nil {
			logger.Error("openai embedding init failed", "error", err)
			return embedding.NewNoopProvider(dims)
		}
		return p

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)

	case "noop":
		logger.Info("embedding provider: noop (semantic search and resolution disabled)")
		return embedding.NewNoopProvider(dims)

	case "auto":
		fallthrough
	default:
		if llm.Reachable(context.Background(), cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims)
		}
		if cfg.OpenAIAPIKey != "" {
			logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel, "dimensions", dims)
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, dims)
			if err != nil {
				logger.Error("openai embedding init failed", "error", err)
				return embedding.NewNoopProvider(dims)
			}
			return p
		}
		logger.Warn("no embedding provider available, using noop (semantic search and resolution disabled)")
		return embedding.NewNoopProvider(dims)
	}
}

// authMiddleware enforces a Bearer JWT on every request to the optional SSE
// transport. Unlike the multi-route HTTP API this is adapted from, every
// path here sits behind the same boundary: there is no public endpoint to
// carve out except /health.
func authMiddleware(jwtMgr *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		scheme, credential, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
			return
		}

		claims, err := jwtMgr.ValidateToken(credential)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ctxutil.WithClaims(r.Context(), claims)))
	})
}

// rateLimitMiddleware rejects requests once the caller's token bucket is
// exhausted, keyed by remote address. authMiddleware wraps it, so only
// requests carrying a valid token reach the limiter.
func rateLimitMiddleware(limiter ratelimit.Limiter, logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, err := limiter.Allow(r.Context(), r.RemoteAddr)
		if err != nil {
			logger.Warn("rate limiter error, allowing request", "error", err)
			next.ServeHTTP(w, r)
			return
		}
		if !allowed {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
