// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adiadia/execstream/internal/config"
	"github.com/adiadia/execstream/internal/follower"
	"github.com/adiadia/execstream/internal/logging"
	"github.com/adiadia/execstream/internal/notify"
	"github.com/adiadia/execstream/internal/persistence/postgres"
	"github.com/adiadia/execstream/internal/repository"
	"github.com/adiadia/execstream/internal/stream"
	httptransport "github.com/adiadia/execstream/internal/transport/http"
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

	notifier := notify.New(notify.Config{
		URL:    cfg.WebhookURL,
		Secret: cfg.WebhookSecret,
		Logger: logger,
	})
	store := stream.NewStore(logger, stream.WithCompletionHook(notifier.Hook(ctx)))

	deps := httptransport.Deps{
		Store:            store,
		Logger:           logger,
		IngestToken:      cfg.IngestToken,
		IngestRatePerMin: cfg.IngestRatePerMin,
		TailInterval:     cfg.PollInterval,
		BaseContext:      ctx,
		Version:          Version,
		Commit:           Commit,
		BuildDate:        BuildDate,
	}

	var f *follower.Follower
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer pool.Close()

		if cfg.AutoMigrate {
			if err := postgres.Migrate(ctx, pool, logger); err != nil {
				log.Fatalf("db migrate failed: %v", err)
			}
		}

		f = follower.New(follower.Deps{
			Logs:         repository.NewLogRepository(pool, logger),
			Executions:   repository.NewExecutionRepository(pool, logger),
			Sink:         store,
			Logger:       logger,
			PollInterval: cfg.PollInterval,
		})
		deps.Follower = f
		deps.Health = postgres.NewSchemaChecker(pool)
	} else {
		logger.Info("execution store disabled", "reason", "DATABASE_URL is not set")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httptransport.NewRouter(deps),
		ReadHeaderTimeout: 5 * time.Second,
		// Log tails and producer sockets end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
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
	if f != nil {
		f.Shutdown()
	}
	notifier.Wait()
}
