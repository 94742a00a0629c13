// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/operato/workflow-engine/internal/config"
	"github.com/operato/workflow-engine/internal/engine"
	"github.com/operato/workflow-engine/internal/integrations"
	"github.com/operato/workflow-engine/internal/logging"
	"github.com/operato/workflow-engine/internal/persistence/postgres"
	"github.com/operato/workflow-engine/internal/repository"
	httptransport "github.com/operato/workflow-engine/internal/transport/http"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := postgres.EnsureSchema(ctx, pool, logger); err != nil {
			log.Fatalf("schema migration failed: %v", err)
		}
	}

	store := repository.NewStore(pool, logger)
	tenantRepo := repository.NewTenantRepository(pool, logger)
	actionRepo := repository.NewActionRepository(pool, logger)
	dispatcher := integrations.NewHTTPDispatcher(cfg.IntegrationURL, cfg.CallbackSecret, logger)

	eng := engine.New(engine.Deps{
		Store:      store,
		Logger:     logger,
		Actions:    actionRepo,
		Dispatcher: dispatcher,
	})

	handler := httptransport.NewRouter(httptransport.Deps{
		Triggers:       eng,
		Runs:           store,
		Approvals:      eng,
		ApprovalInbox:  store.ApprovalRepository,
		Callbacks:      eng,
		Workflows:      store.DefinitionRepository,
		TenantAdmin:    tenantRepo,
		TokenResolver:  tenantRepo,
		Health:         postgres.NewSchemaHealthChecker(pool),
		Logger:         logger,
		AdminToken:     cfg.AdminToken,
		CallbackSecret: cfg.CallbackSecret,
		Version:        Version,
		Commit:         Commit,
		BuildDate:      BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
}
