// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/operato/workflow-engine/internal/config"
	"github.com/operato/workflow-engine/internal/engine"
	"github.com/operato/workflow-engine/internal/integrations"
	"github.com/operato/workflow-engine/internal/logging"
	"github.com/operato/workflow-engine/internal/persistence/postgres"
	"github.com/operato/workflow-engine/internal/repository"
	"github.com/operato/workflow-engine/internal/scheduler"
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

	if err := postgres.SchemaReady(ctx, pool); err != nil {
		log.Fatalf("schema not ready: %v", err)
	}

	store := repository.NewStore(pool, logger)
	actionRepo := repository.NewActionRepository(pool, logger)
	dispatcher := integrations.NewHTTPDispatcher(cfg.IntegrationURL, cfg.CallbackSecret, logger)

	eng := engine.New(engine.Deps{
		Store:      store,
		Logger:     logger,
		Actions:    actionRepo,
		Dispatcher: dispatcher,
	})

	s := scheduler.New(scheduler.Deps{
		Store:    store.StepRepository,
		Resumer:  eng,
		Logger:   logger,
		Interval: cfg.SchedulerInterval,
	})

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("scheduler stopped with error", "error", err)
		os.Exit(1)
	}
}
