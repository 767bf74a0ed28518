package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/querypilot/querypilot/internal/agent"
	"github.com/querypilot/querypilot/internal/api"
	"github.com/querypilot/querypilot/internal/audit"
	auditpostgres "github.com/querypilot/querypilot/internal/audit/postgres"
	"github.com/querypilot/querypilot/internal/config"
	"github.com/querypilot/querypilot/internal/dataset"
	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/pipeline"
	"github.com/querypilot/querypilot/internal/prompt"
	"github.com/querypilot/querypilot/internal/schema"
	"github.com/querypilot/querypilot/internal/session"
	"github.com/querypilot/querypilot/internal/storage"
	s3store "github.com/querypilot/querypilot/internal/storage/s3"
)

func main() {
	cfg, err := config.LoadFromEnv("querypilot-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	readiness := []api.ReadinessCheck{api.CheckWorkDir(cfg.Dataset.WorkDir)}

	var objects storage.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		objects = store
		readiness = append(readiness, store.HealthCheck)
	}

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		auditDB, err := auditpostgres.Open(context.Background(), auditpostgres.DBConfig{
			DSN:             cfg.Audit.DSN,
			MaxOpenConns:    cfg.Audit.MaxOpenConns,
			MaxIdleConns:    cfg.Audit.MaxIdleConns,
			ConnMaxIdleTime: cfg.Audit.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Audit.ConnMaxLifetime,
		})
		if err != nil {
			logger.Error("failed to open audit db", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() { _ = auditDB.Close() }()
		repo := auditpostgres.NewRepository(auditDB)
		recorder = repo
		readiness = append(readiness, repo.HealthCheck)
	}

	generator, err := agent.NewGenerator(cfg.AI)
	if err != nil {
		logger.Error("failed to initialize model provider", slog.Any("error", err))
		os.Exit(1)
	}

	introspector := schema.NewIntrospector(cfg.Dataset.SampleRows)
	sessions := session.NewManager(cfg.Dataset.WorkDir, cfg.Session.TTL, cfg.Session.CleanupInterval, introspector.Forget, logger)
	defer sessions.Close()

	service := pipeline.New(pipeline.Options{
		Sessions:      sessions,
		Loader:        dataset.NewLoader(cfg.Dataset.TableName, cfg.Dataset.MaxUploadBytes, objects),
		Introspector:  introspector,
		Builder:       prompt.NewBuilder(cfg.Agent.HistoryBudget, cfg.Agent.MaxHistoryTurns),
		Generator:     generator,
		Audit:         recorder,
		Objects:       objects,
		QueryTimeout:  cfg.Query.Timeout,
		RowCap:        cfg.Query.RowCap,
		MaxSteps:      cfg.Agent.MaxSteps,
		DefaultSample: cfg.Dataset.DefaultSample,
		Logger:        logger,
	})

	handler := api.NewHandler(cfg, api.Dependencies{
		Logger:            logger,
		Readiness:         api.CombineReadinessChecks(readiness...),
		DependencyTimeout: time.Second,
		Pipeline:          service,
		MaxUploadBytes:    cfg.Dataset.MaxUploadBytes,
	})
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("starting api server",
			slog.String("addr", cfg.HTTP.Address),
			slog.String("provider", generator.Name()),
			slog.Bool("audit", cfg.Audit.Enabled),
			slog.Bool("object_store", cfg.ObjectStore.Enabled),
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
		os.Exit(1)
	}
}
