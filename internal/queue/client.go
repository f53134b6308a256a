// internal/queue/client.go
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// Config controls the delivery contract: at-least-once, up to
// MaxAttempts deliveries, exponential backoff from BackoffBase.
type Config struct {
	URL         string
	Stream      string
	Subject     string
	Queue       string
	MaxAttempts int
	BackoffBase time.Duration
	AckWait     time.Duration
	MaxInFlight int
}

// Handlers run against a deadline of AckWait minus this grace period, so
// a job that overruns still gets its Nak out before the server redelivers.
const ackGrace = 5 * time.Second

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 5 * time.Second
	}
	// Below 2*ackGrace the handler window collapses and every delivery
	// would time out before doing any work.
	if c.AckWait < 2*ackGrace {
		c.AckWait = 2 * time.Minute
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = 8
	}
	return c
}

// Handler processes one delivery of a job. A nil return acknowledges the
// message; a Permanent error discards it; anything else requeues it with
// backoff until the attempt cap.
type Handler func(ctx context.Context, logger *slog.Logger, job Job, attempt int) error

// ExhaustedFunc runs once when a retryable error consumed the final
// attempt, before the message is discarded.
type ExhaustedFunc func(ctx context.Context, logger *slog.Logger, job Job)

type Client struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	cfg    Config
	logger *slog.Logger
}

func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	nc, err := nats.Connect(cfg.URL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &Client{nc: nc, js: js, cfg: cfg, logger: logger}, nil
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

// EnsureStream creates the work-queue stream if it does not exist yet.
// Acked and terminated messages are removed, so a discarded job is gone
// for good while in-flight ones survive worker restarts.
func (c *Client) EnsureStream() error {
	_, err := c.js.StreamInfo(c.cfg.Stream)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("stream info %s: %w", c.cfg.Stream, err)
	}
	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Subject},
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil {
		return fmt.Errorf("add stream %s: %w", c.cfg.Stream, err)
	}
	return nil
}

// Enqueue publishes a job for later delivery to a worker.
func (c *Client) Enqueue(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = c.js.Publish(c.cfg.Subject, raw,
		nats.Context(ctx),
		nats.MsgId(uuid.NewString()),
	)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Subscribe attaches handler to the durable queue consumer. Every log
// line downstream of a delivery carries job_id, kind and attempt.
func (c *Client) Subscribe(handler Handler, exhausted ExhaustedFunc) (*nats.Subscription, error) {
	return c.js.QueueSubscribe(c.cfg.Subject, c.cfg.Queue, func(msg *nats.Msg) {
		// Each delivery gets its own goroutine so a slow transform never
		// blocks the subscription; jobs for the same owning entity may
		// run concurrently, the idempotency gate is the only guard.
		go c.dispatch(msg, handler, exhausted)
	},
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(c.cfg.AckWait),
		nats.MaxDeliver(c.cfg.MaxAttempts),
		// Caps outstanding deliveries and, with them, dispatch
		// goroutines: the server withholds further messages until a
		// slot acks or naks.
		nats.MaxAckPending(c.cfg.MaxInFlight),
	)
}

func (c *Client) dispatch(msg *nats.Msg, handler Handler, exhausted ExhaustedFunc) {
	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}
	jobID := msg.Header.Get(nats.MsgIdHdr)

	var job Job
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		c.logger.Error("undecodable job payload, discarding", "job_id", jobID, "err", err)
		_ = msg.Term()
		return
	}
	logger := c.logger.With("job_id", jobID, "kind", job.Kind, "attempt", attempt)

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.AckWait-ackGrace)
	defer cancel()

	err := handler(ctx, logger, job, attempt)
	switch {
	case err == nil:
		_ = msg.Ack()
	case IsPermanent(err):
		logger.Warn("permanent failure, discarding job", "err", err)
		_ = msg.Term()
	case attempt >= c.cfg.MaxAttempts:
		logger.Error("attempts exhausted, discarding job", "err", err)
		if exhausted != nil {
			// The usual reason attempts run out is the delivery deadline
			// itself, so the hook gets a fresh one: marking the record
			// failed must not die with the delivery context.
			hookCtx, hookCancel := context.WithTimeout(context.WithoutCancel(ctx), ackGrace)
			exhausted(hookCtx, logger, job)
			hookCancel()
		}
		_ = msg.Term()
	default:
		delay := c.backoff(attempt)
		logger.Warn("transient failure, requeueing", "err", err, "retry_in", delay)
		_ = msg.NakWithDelay(delay)
	}
}

// backoff doubles per attempt: base, 2*base, 4*base, ...
func (c *Client) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.cfg.BackoffBase << (attempt - 1)
}
