package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fortuspay/supportkb/internal/config"
	"github.com/fortuspay/supportkb/internal/domain"
	idxPinecone "github.com/fortuspay/supportkb/internal/index/pinecone"
	idxRedis "github.com/fortuspay/supportkb/internal/index/redis"
	logpkg "github.com/fortuspay/supportkb/internal/logger"
	"github.com/fortuspay/supportkb/internal/metrics"
	chiTransport "github.com/fortuspay/supportkb/internal/transport/chi"
	openaiProvider "github.com/fortuspay/supportkb/internal/transport/openai"
	answeruc "github.com/fortuspay/supportkb/internal/usecase/answer"
	healthuc "github.com/fortuspay/supportkb/internal/usecase/health"
	ingestuc "github.com/fortuspay/supportkb/internal/usecase/ingest"
	"github.com/fortuspay/supportkb/internal/version"
)

// vectorIndex is what the composition root needs from either driver.
type vectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]domain.Match, error)
	Upsert(ctx context.Context, vectors []domain.IndexedVector) (int, error)
	Ping(ctx context.Context) error
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting supportkb API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("index_driver", cfg.Index.Driver),
		zap.String("index_name", cfg.Index.Name),
	)

	// Create vector index based on driver
	var index vectorIndex
	switch cfg.Index.Driver {
	case "pinecone":
		index = idxPinecone.New(idxPinecone.Config{
			APIKey:     cfg.Index.Pinecone.APIKey,
			Host:       cfg.Index.Pinecone.Host,
			Name:       cfg.Index.Name,
			Dimensions: cfg.Embedding.Dimensions,
			Logger:     logger,
		})
	case "redis":
		store, err := idxRedis.NewStore(idxRedis.Config{
			Addrs:           cfg.Index.Redis.Addrs,
			Password:        cfg.Index.Redis.Password,
			Name:            cfg.Index.Name,
			KeyPrefix:       cfg.Index.Redis.KeyPrefix,
			Dimensions:      cfg.Embedding.Dimensions,
			HNSWM:           cfg.Index.Redis.HNSWM,
			HNSWEFConstruct: cfg.Index.Redis.HNSWEFConstruct,
		})
		if err != nil {
			logger.Fatal("Failed to create redis index", zap.Error(err))
		}
		defer store.Close()

		ctx := context.Background()
		readiness := time.Duration(cfg.Index.Redis.ReadinessTimeout) * time.Second
		if err := store.WaitForReady(ctx, readiness); err != nil {
			logger.Fatal("Redis index not ready", zap.Error(err))
		}
		if err := store.EnsureIndex(ctx); err != nil {
			logger.Fatal("Failed to ensure search index", zap.Error(err))
		}
		logger.Info("Connected to redis index")
		index = store
	default:
		logger.Fatal("Unknown index driver", zap.String("driver", cfg.Index.Driver))
	}

	// Register provider metrics explicitly (no init())
	metrics.RegisterProviderMetrics()

	// Build embedder chain — composition root
	base := openaiProvider.NewEmbedder(&openaiProvider.EmbedderConfig{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   "embedding",
		Logger:     logger,
	})
	queryEmbedder := buildEmbedder(base, cfg.Embedding.QueryInstruction)
	passageEmbedder := buildEmbedder(base, cfg.Embedding.PassageInstruction)
	logger.Info("Embedders created",
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	completer := openaiProvider.NewCompleter(&openaiProvider.CompleterConfig{
		APIKey:      cfg.Completion.APIKey,
		BaseURL:     cfg.Completion.BaseURL,
		Model:       cfg.Completion.Model,
		Temperature: cfg.Completion.Temperature,
		MaxTokens:   cfg.Completion.MaxTokens,
		Provider:    "completion",
		Logger:      logger,
	})

	// Create use case services
	prompt := answeruc.NewPromptBuilder(
		cfg.Prompt.ProductName,
		cfg.Prompt.DefaultLanguage,
		cfg.Prompt.Fallbacks,
	)
	answerSvc := answeruc.New(queryEmbedder, index, completer, prompt).
		WithRetrieval(cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold, cfg.Retrieval.MaxPassages).
		WithEmptyAnswer(cfg.Completion.EmptyAnswer)
	ingestSvc := ingestuc.New(passageEmbedder, index, cfg.Embedding.Dimensions)
	healthSvc := healthuc.New(index, newEmbeddingHealthChecker(base))

	// Create chi server
	server := chiTransport.NewServer(answerSvc, ingestSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// buildEmbedder wraps the base provider with the instruction prefix required
// by asymmetric models. An empty instruction returns the base untouched.
func buildEmbedder(base domain.Embedder, instruction string) domain.Embedder {
	if instruction == "" {
		return base
	}
	return domain.NewInstructionEmbedder(base, instruction)
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
