package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"askdesk/internal/audit"
	"askdesk/internal/auth"
	"askdesk/internal/config"
	"askdesk/internal/embedding"
	"askdesk/internal/index"
	"askdesk/internal/logging"
	"askdesk/internal/rbac"
	"askdesk/internal/retrieval"
	"askdesk/internal/server"
	"askdesk/internal/textnorm"
)

// serveCmd runs the HTTP service
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the askdesk HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runServe(cfg)
	},
}

func runServe(cfg *config.Config) error {
	log := logging.Get(logging.CategoryBoot)

	if cfg.Auth.SigningKey == "" {
		return fmt.Errorf("auth signing key is required (set ASKDESK_SIGNING_KEY or auth.signing_key)")
	}

	accessLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build access logger: %w", err)
	}
	defer accessLog.Sync()

	sink, err := audit.NewSink(cfg.Audit.SinkPath)
	if err != nil {
		return err
	}
	defer sink.Close()

	rbacCfg, err := rbac.LoadConfig(cfg.RBAC.ConfigPath)
	if err != nil {
		return err
	}

	// A missing index is a degraded start, not a fatal one: healthz
	// reports it and a pointer swap can load one later.
	snap, err := index.LoadSnapshot(cfg.Index.ArtifactsPath)
	if err != nil {
		log.Warn("index not loaded, serving degraded: %v", err)
		snap = index.NewSnapshot(nil, cfg.Embedding.Dimension)
	}
	store := index.NewStore(snap)

	engine, err := embedding.NewEngine(embedding.Config{
		Provider:    cfg.Embedding.Provider,
		Dimension:   cfg.Embedding.Dimension,
		GenAIAPIKey: cfg.Embedding.GenAIAPIKey,
		GenAIModel:  cfg.Embedding.GenAIModel,
		TaskType:    "RETRIEVAL_QUERY",
	})
	if err != nil {
		return err
	}

	userStore, err := auth.OpenStore(cfg.Auth.UserDBPath)
	if err != nil {
		return err
	}
	defer userStore.Close()

	issuer, err := auth.NewTokenIssuer(cfg.Auth.SigningKey, cfg.Auth.SigningAlgorithm,
		cfg.AccessTokenTTL(), cfg.RefreshTokenTTL())
	if err != nil {
		return err
	}
	authSvc := auth.NewService(userStore, issuer, sink)

	pipeline := retrieval.NewPipeline(
		textnorm.NewNormalizer(textnorm.DefaultVocabulary()),
		engine, store, rbacCfg, sink,
		retrieval.Config{
			SimilarityFloor: cfg.Retrieval.SimilarityThreshold,
			TopKDefault:     cfg.Retrieval.TopKDefault,
			TopKMax:         cfg.Retrieval.TopKMax,
			MaxPerDocument:  cfg.Retrieval.MaxPerDocument,
		},
	)

	srv := server.New(cfg, authSvc, pipeline, store, rbacCfg, accessLog)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Index.WatchPointer {
		go func() {
			if err := index.WatchPointer(ctx, cfg.Index.ArtifactsPath, store); err != nil && ctx.Err() == nil {
				log.Warn("index pointer watcher stopped: %v", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped cleanly")
	logging.CloseAll()
	return nil
}
