package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/recaplabs/recap/internal/cache"
	"github.com/recaplabs/recap/internal/circuitbreaker"
	"github.com/recaplabs/recap/internal/classify"
	"github.com/recaplabs/recap/internal/config"
	"github.com/recaplabs/recap/internal/degradation"
	"github.com/recaplabs/recap/internal/embeddings"
	"github.com/recaplabs/recap/internal/facts"
	"github.com/recaplabs/recap/internal/health"
	"github.com/recaplabs/recap/internal/llm"
	"github.com/recaplabs/recap/internal/normalize"
	"github.com/recaplabs/recap/internal/research"
	"github.com/recaplabs/recap/internal/resolver"
	"github.com/recaplabs/recap/internal/search"
	"github.com/recaplabs/recap/internal/tracing"
	"github.com/recaplabs/recap/internal/vectorstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := tracing.Initialize(tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
	}, logger); err != nil {
		logger.Warn("Failed to initialize tracing", zap.Error(err))
	}

	circuitbreaker.StartMetricsCollection()

	// Provider order, rate limits and scoring tables, hot-reloaded on change.
	sources, err := config.NewSourcesStore(logger)
	if err != nil {
		logger.Fatal("Failed to load sources configuration", zap.Error(err))
	}

	var watcher *config.SourcesWatcher
	if sources.Path() != "" {
		watcher, err = config.NewSourcesWatcher(sources, logger)
		if err != nil {
			logger.Warn("Sources watcher unavailable, hot reload disabled", zap.Error(err))
		} else if err := watcher.Start(); err != nil {
			logger.Warn("Sources watcher failed to start", zap.Error(err))
			watcher = nil
		}
	}

	// Backing stores.
	redisw := circuitbreaker.NewRedisWrapper(redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}), logger)

	qdrant := vectorstore.NewClient(vectorstore.Config{
		BaseURL: cfg.Qdrant.URL(),
		Timeout: cfg.Qdrant.Timeout,
	}, logger)

	completer, err := llm.NewClient(cfg.OpenAI, logger)
	if err != nil {
		logger.Fatal("Failed to initialize OpenAI client", zap.Error(err))
	}

	embedder, err := embeddings.NewService(embeddings.Config{
		APIKey:       cfg.OpenAI.APIKey,
		BaseURL:      cfg.OpenAI.BaseURL,
		DefaultModel: cfg.Embeddings.Model,
		Dimension:    cfg.Embeddings.Dimension,
		Timeout:      cfg.Embeddings.Timeout,
		CacheTTL:     cfg.Embeddings.CacheTTL,
		MaxLRU:       cfg.Embeddings.MaxLRU,
	}, embeddings.NewRedisCache(redisw), logger)
	if err != nil {
		logger.Fatal("Failed to initialize embeddings service", zap.Error(err))
	}

	answers := cache.NewAnswerStore(redisw, cfg.Cache, logger)
	factStore := cache.NewFactStore(qdrant, embedder, cache.FactStoreConfig{
		Collection:     cfg.Qdrant.FactsCollection,
		EmbeddingModel: cfg.Embeddings.Model,
		Dimension:      cfg.Embeddings.Dimension,
		TTLDays:        cfg.Cache.FactTTLDays,
		ScoreThreshold: cfg.Cache.FactScoreThreshold,
		SearchLimit:    cfg.Cache.FactSearchLimit,
	}, logger)
	queryMap := cache.NewQueryMap(qdrant, embedder, cache.QueryMapConfig{
		Collection:     cfg.Qdrant.QueryMapCollection,
		EmbeddingModel: cfg.Embeddings.Model,
		Dimension:      cfg.Embeddings.Dimension,
		ScoreThreshold: cfg.Cache.QueryMapThreshold,
		TTL:            cfg.Cache.QueryMapTTL,
	}, logger)

	initCtx, cancelInit := context.WithTimeout(context.Background(), 30*time.Second)
	if err := factStore.Init(initCtx); err != nil {
		logger.Warn("Fact store init failed, starting degraded", zap.Error(err))
	}
	if err := queryMap.Init(initCtx); err != nil {
		logger.Warn("Query map init failed, starting degraded", zap.Error(err))
	}
	cancelInit()

	// The pipeline.
	orch := research.New(cfg.Research, cfg.Cache, research.Deps{
		Normalizer: normalize.New(completer, logger),
		Answers:    answers,
		QueryMap:   queryMap,
		Facts:      factStore,
		Chain:      search.NewChain(sources, logger),
		Extractor:  facts.NewExtractor(completer, sources, logger),
		Classifier: classify.New(completer, sources, logger),
		Completer:  completer,
	}, logger)
	res := resolver.New(orch, cfg.Service.ResolveTimeout, logger)

	// Health checks and the degradation level derived from them.
	hm := health.NewManagerWithConfig(cfg.Health.CheckInterval, cfg.Health.CheckTimeout, logger)
	registerChecker(hm, health.NewRedisChecker(redisw, logger), logger)
	registerChecker(hm, health.NewQdrantChecker(qdrant, logger), logger)
	registerChecker(hm, health.NewOpenAIChecker(completer, logger), logger)
	if cfg.Health.Enabled {
		hm.Start()
	}

	degr := degradation.NewManager(cfg.Degradation.CheckInterval, logger)
	degr.Track("redis", answers.Healthy)
	degr.Track("qdrant", factStore.Healthy)
	degr.Track("llm", func() bool {
		if r, ok := hm.GetLastResults()["openai"]; ok {
			return r.Status != health.StatusUnhealthy
		}
		return true
	})
	if cfg.Degradation.Enabled {
		degr.Start()
	}

	// Admin surface: probes and metrics.
	adminMux := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(adminMux)
	adminMux.Handle("/metrics", promhttp.Handler())

	adminSrv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Service.AdminPort),
		Handler:      adminMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Admin HTTP server listening", zap.Int("port", cfg.Service.AdminPort))
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Admin HTTP server failed", zap.Error(err))
		}
	}()

	// API surface: the one resolve endpoint.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("/v1/resolve", handleResolve(res, logger))

	apiSrv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Service.Port),
		Handler:        apiMux,
		ReadTimeout:    cfg.Service.ReadTimeout,
		WriteTimeout:   cfg.Service.WriteTimeout,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: cfg.Service.MaxHeaderBytes,
	}
	go func() {
		logger.Info("Resolve API listening", zap.Int("port", cfg.Service.Port))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Resolve API server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.GracefulTimeout)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Resolve API shutdown failed", zap.Error(err))
	}
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Admin server shutdown failed", zap.Error(err))
	}

	degr.Stop()
	hm.Stop()
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Error("Sources watcher stop failed", zap.Error(err))
		}
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.Error("Tracing shutdown failed", zap.Error(err))
	}
	if err := redisw.Close(); err != nil {
		logger.Error("Redis close failed", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

type resolveRequest struct {
	Query  string `json:"query"`
	Domain string `json:"domain,omitempty"`
}

type resolveResponse struct {
	Answer string `json:"answer"`
	Domain string `json:"domain"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// handleResolve decodes one question, runs it through the resolver, and
// maps the resolver's error taxonomy onto HTTP statuses.
func handleResolve(res *resolver.Resolver, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"}, logger)
			return
		}

		var req resolveRequest
		body := http.MaxBytesReader(w, r.Body, 1<<20)
		if err := json.NewDecoder(body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"}, logger)
			return
		}

		domain := strings.TrimSpace(req.Domain)
		if domain == "" {
			domain = resolver.DefaultDomain
		}

		answer, err := res.Resolve(r.Context(), req.Query, domain)
		switch {
		case err == nil:
			writeJSON(w, http.StatusOK, resolveResponse{Answer: answer, Domain: domain}, logger)
		case errors.Is(err, resolver.ErrEmptyQuery):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()}, logger)
		case errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusGatewayTimeout, errorResponse{Error: "research timed out"}, logger)
		case errors.Is(err, context.Canceled):
			// Client went away; nothing useful left to write.
			return
		default:
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()}, logger)
		}
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body interface{}, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("Failed to encode response", zap.Error(err))
	}
}

func registerChecker(hm *health.Manager, checker health.Checker, logger *zap.Logger) {
	if err := hm.RegisterChecker(checker); err != nil {
		logger.Warn("Health checker registration failed",
			zap.String("checker", checker.Name()),
			zap.Error(err),
		)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if cfg.Encoding != "" {
		zc.Encoding = cfg.Encoding
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}
