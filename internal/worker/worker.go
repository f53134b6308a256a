// Package worker owns the per-job state machine: idempotency gate,
// fetch, transform, write, commit, and the failure policy deciding what
// is retried and what is discarded.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dealstreet/media-worker/internal/blob"
	"github.com/dealstreet/media-worker/internal/gateway"
	"github.com/dealstreet/media-worker/internal/media"
	"github.com/dealstreet/media-worker/internal/queue"
)

// BlobStore is the slice of the blob client the worker consumes.
type BlobStore interface {
	Put(ctx context.Context, in blob.PutInput) (blob.Stored, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Worker processes queued media jobs. Each job kind is bound to the
// gateway of its owning-entity family at wiring time; jobs for unbound
// kinds are discarded as permanent failures.
type Worker struct {
	store    BlobStore
	docs     media.DocumentOptimizer
	bindings map[queue.Kind]gateway.Gateway
}

func New(store BlobStore, docs media.DocumentOptimizer) *Worker {
	return &Worker{
		store:    store,
		docs:     docs,
		bindings: make(map[queue.Kind]gateway.Gateway),
	}
}

// Register binds a job kind to the gateway of its owning-entity family.
func (w *Worker) Register(kind queue.Kind, gw gateway.Gateway) {
	w.bindings[kind] = gw
}

// Handle processes one delivery. Returned errors are either marked
// permanent (discard) or left plain (queue-managed backoff+redelivery).
func (w *Worker) Handle(ctx context.Context, logger *slog.Logger, job queue.Job, attempt int) error {
	gw, ok := w.bindings[job.Kind]
	if !ok {
		return queue.Permanent(fmt.Errorf("no binding for kind %q", job.Kind))
	}
	logger = logger.With("file_id", job.FileRecordID, "owner_id", job.OwnerEntityID)

	status, err := gw.Status(ctx, job.FileRecordID)
	if err != nil {
		if errors.Is(err, gateway.ErrRecordNotFound) {
			logger.Warn("file record missing, discarding job")
			return queue.Permanent(err)
		}
		return fmt.Errorf("read status: %w", err)
	}

	switch {
	case status.Terminal():
		// Duplicate or late delivery; the row was already settled.
		logger.Info("file already settled, skipping", "status", status)
		return nil
	case status == gateway.StatusQueued:
		if err := gw.SetStatus(ctx, job.FileRecordID, gateway.StatusProcessing); err != nil {
			if errors.Is(err, gateway.ErrRecordNotFound) {
				return queue.Permanent(err)
			}
			return fmt.Errorf("mark processing: %w", err)
		}
	case status == gateway.StatusProcessing:
		// Redelivery after a transient failure; re-run in full. The
		// destination key is deterministic, so a partial earlier run is
		// overwritten rather than detected.
		logger.Info("resuming in-flight file")
	}

	data, err := w.store.Get(ctx, job.SourceKey)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			// No amount of retrying recreates a deleted upload.
			logger.Warn("source object missing, marking failed", "source_key", job.SourceKey)
			w.markFailed(ctx, logger, gw, job.FileRecordID)
			return queue.Permanent(err)
		}
		return fmt.Errorf("fetch source: %w", err)
	}

	out, err := w.transform(ctx, job, data)
	if err != nil {
		return fmt.Errorf("transform %s: %w", job.Kind, err)
	}

	destKey := blob.SwapExt(job.SourceKey, out.Ext)
	stored, err := w.store.Put(ctx, blob.PutInput{
		Data:        out.Data,
		ContentType: out.ContentType,
		Cacheable:   true,
		Key:         destKey,
	})
	if err != nil {
		return fmt.Errorf("write result: %w", err)
	}

	err = gw.CommitResult(ctx, job.OwnerEntityID, job.FileRecordID, gateway.Result{
		ProcessedKey: stored.Key,
		URL:          stored.URL,
		Width:        out.Width,
		Height:       out.Height,
	})
	if err != nil {
		if errors.Is(err, gateway.ErrRecordNotFound) {
			// Owner deleted mid-flight. The processed object must not
			// outlive the failed commit.
			logger.Warn("owner deleted mid-flight, removing processed object", "key", stored.Key)
			if derr := w.store.Delete(ctx, stored.Key); derr != nil {
				logger.Warn("cleanup of processed object failed", "key", stored.Key, "err", derr)
			}
			return queue.Permanent(err)
		}
		return fmt.Errorf("commit result: %w", err)
	}

	logger.Info("file processed", "processed_key", stored.Key, "width", out.Width, "height", out.Height)
	return nil
}

// MarkFailed is the exhaustion hook: a retryable error consumed the
// final attempt, so the row is settled as failed. Best-effort; the
// record may already be gone.
func (w *Worker) MarkFailed(ctx context.Context, logger *slog.Logger, job queue.Job) {
	gw, ok := w.bindings[job.Kind]
	if !ok {
		return
	}
	w.markFailed(ctx, logger.With("file_id", job.FileRecordID), gw, job.FileRecordID)
}

func (w *Worker) markFailed(ctx context.Context, logger *slog.Logger, gw gateway.Gateway, fileID int64) {
	if err := gw.SetStatus(ctx, fileID, gateway.StatusFailed); err != nil {
		logger.Warn("could not mark file failed", "err", err)
	}
}

// transform dispatches on the job kind. Image kinds may change the
// output format; document kinds keep the source extension so the public
// reference never changes type.
func (w *Worker) transform(ctx context.Context, job queue.Job, data []byte) (media.Output, error) {
	switch job.Kind {
	case queue.KindHeroSmall:
		return media.Hero(data, media.HeroSmall)
	case queue.KindHeroLarge:
		return media.Hero(data, media.HeroLarge)
	case queue.KindImageOptimize:
		return media.Optimize(data)
	case queue.KindDocumentAttachment:
		ext := path.Ext(job.SourceKey)
		out := w.docs.Optimize(ctx, data, ext)
		return media.Output{
			Data:        out,
			ContentType: mimetype.Detect(out).String(),
			Ext:         ext,
		}, nil
	default:
		return media.Output{}, fmt.Errorf("no transform for kind %q", job.Kind)
	}
}
