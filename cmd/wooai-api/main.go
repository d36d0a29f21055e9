package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wooai/wooai/internal/api"
	"github.com/wooai/wooai/internal/auth"
	"github.com/wooai/wooai/internal/config"
	"github.com/wooai/wooai/internal/conversation"
	conversationpostgres "github.com/wooai/wooai/internal/conversation/postgres"
	conversationsqlite "github.com/wooai/wooai/internal/conversation/sqlite"
	"github.com/wooai/wooai/internal/nl2sql"
	"github.com/wooai/wooai/internal/observability"
	"github.com/wooai/wooai/internal/pipeline"
	querypostgres "github.com/wooai/wooai/internal/query/postgres"
	"github.com/wooai/wooai/internal/ratelimit"
	ratelimitpostgres "github.com/wooai/wooai/internal/ratelimit/postgres"
	"github.com/wooai/wooai/internal/sandbox"
	"github.com/wooai/wooai/internal/schema"
	schemapostgres "github.com/wooai/wooai/internal/schema/postgres"
	storepostgres "github.com/wooai/wooai/internal/store/postgres"
)

func main() {
	cfg, err := config.LoadFromEnv("wooai-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	ctx := context.Background()

	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	fail := func(msg string, err error) {
		logger.Error(msg, slog.Any("error", err))
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		os.Exit(1)
	}

	storeDB, err := storepostgres.Open(ctx, "store", dbConfig(cfg.Store, true))
	if err != nil {
		fail("failed to open store db", err)
	}
	closers = append(closers, storeDB)
	readiness := []api.ReadinessCheck{api.PingCheck("store database", storeDB.PingContext)}

	var appDB *sql.DB
	if cfg.RateLimit.Backend == "postgres" || cfg.Conversation.Backend == "postgres" {
		appDB, err = storepostgres.Open(ctx, "app db", dbConfig(cfg.AppDB, false))
		if err != nil {
			fail("failed to open app db", err)
		}
		closers = append(closers, appDB)
		readiness = append(readiness, api.PingCheck("app database", appDB.PingContext))
	}

	plans := ratelimit.Plans{
		Quotas:      cfg.RateLimit.Quotas,
		DefaultTier: cfg.RateLimit.DefaultTier,
		Window:      cfg.RateLimit.Window,
	}
	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "postgres":
		limiter, err = ratelimitpostgres.NewLimiter(appDB, plans)
	default:
		limiter, err = ratelimit.NewMemoryLimiter(plans)
	}
	if err != nil {
		fail("failed to initialize rate limiter", err)
	}

	var cache schema.Cache
	switch cfg.Schema.CacheBackend {
	case "badger":
		badgerCache, err := schema.OpenBadgerCache(cfg.Schema.BadgerDir)
		if err != nil {
			fail("failed to open schema cache", err)
		}
		closers = append(closers, badgerCache)
		cache = badgerCache
	case "memory":
		cache = schema.NewMemoryCache(cfg.Schema.CacheEntries)
	}
	schemas := schema.NewBuilder(schema.BuilderConfig{
		TenantColumn: cfg.Sandbox.TenantColumn,
		CacheTTL:     cfg.Schema.CacheTTL,
	}, schemapostgres.NewStatsSource(storeDB, cfg.Sandbox.TenantColumn), cache, logger)

	var conversations conversation.Store
	switch cfg.Conversation.Backend {
	case "postgres":
		conversations = conversationpostgres.NewRepository(appDB)
	case "sqlite":
		sqliteStore, err := conversationsqlite.Open(ctx, cfg.Conversation.SQLitePath)
		if err != nil {
			fail("failed to open conversation store", err)
		}
		closers = append(closers, sqliteStore)
		conversations = sqliteStore
	default:
		conversations = conversation.NewMemoryStore()
	}

	client, err := nl2sql.NewClient(nl2sql.ClientConfig{
		Provider:    cfg.AI.Provider,
		BaseURL:     cfg.AI.BaseURL,
		APIKey:      cfg.AI.APIKey,
		Model:       cfg.AI.Model,
		Temperature: cfg.AI.Temperature,
		Timeout:     cfg.AI.Timeout,
	})
	if err != nil {
		fail("failed to initialize model client", err)
	}
	translator, err := nl2sql.NewModelTranslator(client, nl2sql.Config{MaxQueryLength: cfg.AI.MaxQueryLength}, logger)
	if err != nil {
		fail("failed to initialize query translator", err)
	}

	rules, err := sandbox.LoadRules(cfg.Sandbox.RulesFile)
	if err != nil {
		fail("failed to load sandbox rules", err)
	}
	validator, err := sandbox.NewValidator(sandbox.Config{
		TenantColumn: cfg.Sandbox.TenantColumn,
		RowCap:       cfg.Sandbox.RowCap,
		Rules:        rules,
	}, logger)
	if err != nil {
		fail("failed to initialize sandbox", err)
	}

	questions, err := pipeline.New(pipeline.Dependencies{
		Limiter:       limiter,
		Schemas:       schemas,
		Translator:    translator,
		Validator:     validator,
		Engine:        querypostgres.NewEngine(storeDB, querypostgres.Config{StatementTimeout: cfg.Executor.StatementTimeout}, logger),
		Conversations: conversations,
		Logger:        logger,
	}, pipeline.Config{
		HistoryTurns: cfg.Conversation.HistoryTurns,
		ExposeSQL:    cfg.Debug(),
	})
	if err != nil {
		fail("failed to initialize question pipeline", err)
	}

	deps := api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Pipeline:          questions,
		Schemas:           schemas,
		Conversations:     conversations,
	}
	if cfg.Auth.Required {
		keys, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			fail("failed to parse static auth keys", err)
		}
		deps.AuthMiddleware = auth.Middleware(logger, keys)
	}

	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      api.NewHandler(cfg, deps),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("profile", string(cfg.Profile)),
			slog.String("ai_provider", client.Name()),
			slog.String("ai_model", client.Model()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		fail("shutdown", fmt.Errorf("graceful shutdown: %w", err))
	}
}

func dbConfig(cfg config.DBConfig, readOnly bool) storepostgres.DBConfig {
	return storepostgres.DBConfig{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ReadOnly:        readOnly,
	}
}
