package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/planpath/planpath/internal/api"
	"github.com/planpath/planpath/internal/config"
	"github.com/planpath/planpath/internal/coordinator"
	"github.com/planpath/planpath/internal/eventbus"
	"github.com/planpath/planpath/internal/resolver"
	taskrepo "github.com/planpath/planpath/internal/task/repositoryimpl"
	"github.com/planpath/planpath/internal/template"
	"github.com/planpath/planpath/internal/trace"
	"github.com/planpath/planpath/pkg/clog"
	"github.com/planpath/planpath/pkg/panicerr"
	"github.com/planpath/planpath/pkg/storage"
)

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		slog.Error("failed to load env", "error", err)
		os.Exit(1)
	}

	// Setup logger
	level := env.SlogLevel()
	var handler slog.Handler
	if env.Env == "local" {
		handler = clog.NewHTTPTextHandler(os.Stderr, clog.WithLevel(level))
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	slog.SetDefault(slog.New(clog.NewAttributesHandler(handler)))

	// Setup storage
	var store storage.Storage
	switch env.StorageEnv.Type {
	case "s3":
		store, err = storage.NewS3Storage(context.Background(), env.StorageEnv.S3Bucket, env.StorageEnv.S3Prefix, env.StorageEnv.S3Region)
		if err != nil {
			slog.Error("failed to create S3 storage", "error", err)
			os.Exit(1)
		}
	default:
		store, err = storage.NewLocalStorage(env.StorageEnv.BaseDir)
		if err != nil {
			slog.Error("failed to create local storage", "error", err)
			os.Exit(1)
		}
	}

	// Core engine: repository, tracer, resolver, coordinator, event bus.
	bus := eventbus.New()
	repo := taskrepo.NewYAMLRepository(store)
	tracer := trace.New(trace.Config{Verbose: env.TraceVerbose})
	res := resolver.New(repo, tracer)
	coord := coordinator.New(repo, res, tracer, bus, coordinator.Config{
		BaseDelay: env.RetryBaseDelay,
		Defaults: coordinator.Options{
			MaxRetries:       env.MaxRetries,
			BroadcastEvents:  true,
			StoreInCache:     true,
			ValidateState:    true,
			SyncRelatedTasks: true,
		},
	})

	// Template catalog and seeder.
	catalog := template.NewCatalog(env.TemplateDir)
	if err := catalog.Load(); err != nil {
		slog.Error("failed to load template catalog", "error", err)
		os.Exit(1)
	}
	seeder := template.NewSeeder(catalog, repo, bus)

	handlers := api.NewHandlers(repo, res, coord, seeder, bus)
	srv := api.NewServer(env, handlers)

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	wg := conc.NewWaitGroup()
	wg.Go(func() { coord.Start(ctx) })
	wg.Go(func() {
		if err := panicerr.SafeContext(catalog.Watch)(ctx); err != nil {
			slog.Warn("template watcher stopped", "error", err)
		}
	})
	wg.Go(func() {
		if err := panicerr.SafeContext(srv.ListenAndServe)(ctx); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	wg.Wait()
}
