// cmd/worker/main.go
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/dealstreet/media-worker/internal/blob"
	"github.com/dealstreet/media-worker/internal/gateway"
	"github.com/dealstreet/media-worker/internal/media"
	"github.com/dealstreet/media-worker/internal/queue"
	"github.com/dealstreet/media-worker/internal/worker"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := loadConfig()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL, "stream", cfg.Stream, "subject", cfg.JobSubject,
		"queue", cfg.WorkerQueue, "max_attempts", cfg.MaxAttempts, "backoff_base", cfg.BackoffBase)

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "open database", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		fatal(logger, "ping database", err)
	}
	logger.Info("database ready")

	store, err := blob.NewStore(context.Background(), blob.Config{
		Bucket:        cfg.S3Bucket,
		Region:        cfg.S3Region,
		AccessKeyID:   cfg.S3AccessKeyID,
		SecretKey:     cfg.S3SecretKey,
		Endpoint:      cfg.S3Endpoint,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	if err != nil {
		fatal(logger, "init blob store", err)
	}
	logger.Info("blob store ready", "bucket", cfg.S3Bucket)

	qc, err := queue.Connect(queue.Config{
		URL:         cfg.NATSURL,
		Stream:      cfg.Stream,
		Subject:     cfg.JobSubject,
		Queue:       cfg.WorkerQueue,
		MaxAttempts: cfg.MaxAttempts,
		BackoffBase: cfg.BackoffBase,
		MaxInFlight: cfg.MaxInFlight,
	}, logger)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	defer qc.Close()
	if err := qc.EnsureStream(); err != nil {
		fatal(logger, "ensure stream", err, "stream", cfg.Stream)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)

	w := worker.New(store, media.NewToolOptimizer(logger))
	w.Register(queue.KindHeroSmall, gateway.NewLinkImages(db))
	w.Register(queue.KindHeroLarge, gateway.NewLinkImages(db))
	w.Register(queue.KindImageOptimize, gateway.NewDealImages(db))
	w.Register(queue.KindDocumentAttachment, gateway.NewDealAttachments(db))

	_, err = qc.Subscribe(w.Handle, w.MarkFailed)
	if err != nil {
		fatal(logger, "subscribe worker", err, "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)

	select {}
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
