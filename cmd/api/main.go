package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docrouter/backend/internal/api/handlers"
	"github.com/docrouter/backend/internal/cache/memory"
	"github.com/docrouter/backend/internal/cache/redis"
	"github.com/docrouter/backend/internal/classifier"
	"github.com/docrouter/backend/internal/ingestion"
	"github.com/docrouter/backend/internal/llm"
	"github.com/docrouter/backend/internal/metrics"
	"github.com/docrouter/backend/internal/middleware/ratelimit"
	"github.com/docrouter/backend/internal/middleware/security"
	"github.com/docrouter/backend/internal/middleware/validation"
	"github.com/docrouter/backend/internal/query"
	"github.com/docrouter/backend/internal/routing"
	"github.com/docrouter/backend/internal/session"
	"github.com/docrouter/backend/internal/storage/sqlite"
	"github.com/docrouter/backend/internal/vector/milvus"
	"github.com/docrouter/backend/pkg/config"
	appLogger "github.com/docrouter/backend/pkg/logger"
)

// kvStore backs both sessions and cached embeddings.
type kvStore interface {
	session.Store
	routing.EmbeddingCache
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting document router API server")
	metrics.Init()

	ctx := context.Background()

	store := newStore(cfg)

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	if err := sqliteClient.InitSchema(ctx); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	milvusClient, err := milvus.NewClient(ctx,
		cfg.Milvus.Endpoint,
		cfg.Milvus.APIKey,
		cfg.Milvus.CollectionName,
		cfg.Milvus.VectorDim,
	)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer milvusClient.Close()

	if err := milvusClient.EnsureCollection(ctx); err != nil {
		appLogger.Fatal("Failed to prepare collection", zap.Error(err))
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:          cfg.LLM.APIKey,
		BaseURL:         cfg.LLM.BaseURL,
		Model:           cfg.LLM.Model,
		ClassifierModel: cfg.LLM.ClassifierModel,
		EmbeddingModel:  cfg.LLM.EmbeddingModel,
		Temperature:     cfg.LLM.Temperature,
		MaxTokens:       cfg.LLM.MaxTokens,
		Timeout:         time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	checks := map[string]handlers.HealthCheck{}

	var llmClassifier classifier.Classifier
	if cfg.Classifier.LLMEnabled {
		c := classifier.NewLLM(llmClient, cfg.Classifier.MaxPreviewChars, appLogger.Named("llm_classifier"))
		llmClassifier = c
		checks["llm_classifier"] = c.HealthCheck
	}

	hybrid := classifier.NewHybrid(classifier.NewKeyword(), llmClassifier, classifier.HybridConfig{
		LLMConfidenceThreshold:     cfg.Classifier.LLMConfidenceThreshold,
		KeywordConfidenceThreshold: cfg.Classifier.KeywordConfidenceThreshold,
		MinTextLength:              cfg.Classifier.MinTextLength,
		LLMTimeout:                 cfg.Classifier.LLMTimeout(),
	}, appLogger.Named("hybrid_classifier"))

	sessions := session.NewManager(store, session.Config{
		Timeout:    cfg.Session.Timeout(),
		MaxHistory: cfg.Session.MaxHistory,
	}, appLogger.Named("sessions"))
	checks["sessions"] = sessions.HealthCheck

	prototypes := routing.NewPrototypes(llmClient, store, appLogger.Named("prototypes"),
		routing.WithLoadTimeout(cfg.Router.EmbedTimeout()),
	)
	router, err := routing.NewRouter(llmClient, prototypes, sessions, routing.Config{
		SimilarityThreshold: cfg.Router.SimilarityThreshold,
		MaxCategories:       cfg.Router.MaxCategories,
		EmbedTimeout:        cfg.Router.EmbedTimeout(),
		QueryCacheSize:      cfg.Router.QueryCacheSize,
		FollowUpCues:        cfg.Router.FollowUpCues,
	}, appLogger.Named("router"))
	if err != nil {
		appLogger.Fatal("Failed to create router", zap.Error(err))
	}
	checks["router"] = router.HealthCheck
	checks["database"] = func(ctx context.Context) bool { return sqliteClient.Ping(ctx) == nil }

	go func() {
		warmCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if err := prototypes.Warm(warmCtx); err != nil {
			appLogger.Warn("Prototype warm-up failed, embeddings will load on first use", zap.Error(err))
		}
	}()

	processor := ingestion.NewProcessor(hybrid, llmClient, milvusClient, sqliteClient, ingestion.Config{
		ChunkSize:        cfg.Ingestion.ChunkSize,
		OverlapSentences: cfg.Ingestion.OverlapSentences,
	}, appLogger.Named("ingestion"))

	queryEngine := query.NewEngine(router, milvusClient, llmClient, sqliteClient, query.Config{
		TopK:                  cfg.Rerank.TopK,
		CandidatesPerCategory: cfg.Rerank.CandidatesPerCategory,
		Lambda:                cfg.Rerank.Lambda,
	}, appLogger.Named("query"))

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-User-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{HSTS: cfg.Server.HSTS}))

	app.Get("/metrics", metrics.MetricsHandler())

	classifyHandler := handlers.NewClassifyHandler(hybrid)
	routeHandler := handlers.NewRouteHandler(router)
	queryHandler := handlers.NewQueryHandler(queryEngine, sqliteClient)
	documentHandler := handlers.NewDocumentHandler(processor, sqliteClient)
	sessionHandler := handlers.NewSessionHandler(sessions)
	healthHandler := handlers.NewHealthHandler(checks, prototypes.Loaded)
	wsHandler := handlers.NewWebSocketHandler(queryEngine, cfg.Server.Timeout())

	api := app.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	api.Use(limiter.Middleware())
	api.Use(validation.Middleware(validation.Config{
		MaxQueryLength:  cfg.Server.MaxQueryLength,
		MaxDocumentSize: cfg.Server.MaxDocumentSize,
		Logger:          appLogger.Named("validation"),
	}))

	api.Post("/classify", classifyHandler.Classify)
	api.Post("/route", routeHandler.Route)

	api.Post("/query", queryHandler.HandleQuery)
	api.Get("/query/history", queryHandler.GetQueryHistory)

	api.Post("/documents", documentHandler.UploadDocument)
	api.Get("/documents", documentHandler.ListDocuments)
	api.Get("/documents/:id", documentHandler.GetDocument)
	api.Get("/stats", documentHandler.Stats)

	api.Post("/sessions", sessionHandler.Create)
	api.Get("/sessions/:id", sessionHandler.Get)
	api.Delete("/sessions/:id", sessionHandler.Delete)
	api.Put("/sessions/:id/extend", sessionHandler.Extend)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/query", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

// newStore prefers Redis and falls back to an in-process store, so a
// missing Redis only costs session durability across restarts.
func newStore(cfg *config.Config) kvStore {
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			return client
		}
		appLogger.Warn("Redis unavailable, using in-memory store", zap.Error(err))
	}
	return memory.NewStore(cfg.Session.Timeout(), 10*time.Minute)
}
