package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/your-org/medialib/internal/admission"
	"github.com/your-org/medialib/internal/api"
	"github.com/your-org/medialib/internal/config"
	"github.com/your-org/medialib/internal/ml"
	"github.com/your-org/medialib/internal/observability"
	"github.com/your-org/medialib/internal/queue"
	"github.com/your-org/medialib/internal/storage"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("starting medialib API service", "port", cfg.Server.Port)

	// Run schema migrations
	if err := storage.Migrate(cfg.Database.DSN()); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	// Connect to Postgres
	db, err := storage.NewPostgresStore(cfg.Database)
	if err != nil {
		slog.Error("connect to postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Connect to MinIO
	minioStore, err := storage.NewMinIOStore(cfg.MinIO)
	if err != nil {
		slog.Error("connect to minio", "error", err)
		os.Exit(1)
	}
	if err := minioStore.EnsureBucket(context.Background()); err != nil {
		slog.Warn("ensure minio bucket", "error", err)
	}

	// Connect to NATS (inference transport, used only for readiness here)
	mlClient, err := ml.NewClient(cfg.NATS.URL, cfg.ML.RequestTimeout)
	if err != nil {
		slog.Warn("connect to nats", "error", err)
	} else {
		defer mlClient.Close()
	}

	// The API only submits jobs; workers run in cmd/worker.
	q := queue.New(queue.NewPostgresStore(db.Pool()),
		queue.WithPollInterval(cfg.Pipeline.PollInterval))

	if err := os.MkdirAll(cfg.Upload.StagingDir, 0o755); err != nil {
		slog.Error("create staging dir", "error", err)
		os.Exit(1)
	}

	monitor := admission.NewMonitor()

	router := api.NewRouter(api.RouterConfig{
		APIKey:  cfg.Server.APIKey,
		DB:      db,
		MinIO:   minioStore,
		ML:      mlClient,
		Queue:   q,
		Monitor: monitor,
		Upload:  cfg.Upload,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("API server stopped")
}
