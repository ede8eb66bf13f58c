// Package ingest consumes exhibit ingestion jobs from NATS and feeds them
// to the knowledge store, with bounded redelivery and a dead letter queue.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/metrics"
	"github.com/MiraAI/mira-guide/pkg/natsutil"
)

const (
	// Subject carries IngestJob payloads.
	Subject = "ingest.exhibit"
	// Queue spreads jobs across worker processes.
	Queue = "ingest-workers"
	// DLQSubject receives jobs that exhausted their attempts.
	DLQSubject = "ingest.exhibit.dlq"
	// MaxAttempts before a failing job is dead-lettered.
	MaxAttempts = 3
)

// DLQMessage wraps a failed job with enough context to triage it.
type DLQMessage struct {
	Job      domain.IngestJob `json:"job"`
	Raw      json.RawMessage  `json:"raw,omitempty"`
	Error    string           `json:"error"`
	Attempts int              `json:"attempts"`
}

// Ingester is the slice of knowledge.Service the consumer needs.
type Ingester interface {
	Ingest(ctx context.Context, job domain.IngestJob) (int, error)
}

// Publisher abstracts the NATS side so handling is testable without a
// broker.
type Publisher interface {
	Retry(ctx context.Context, job domain.IngestJob, attempt int) error
	DeadLetter(ctx context.Context, m DLQMessage) error
}

type natsPublisher struct {
	nc *nats.Conn
}

func (p natsPublisher) Retry(ctx context.Context, job domain.IngestJob, attempt int) error {
	return natsutil.PublishRetry(ctx, p.nc, Subject, job, attempt)
}

func (p natsPublisher) DeadLetter(ctx context.Context, m DLQMessage) error {
	return natsutil.Publish(ctx, p.nc, DLQSubject, m)
}

// Consumer runs ingestion jobs delivered over NATS.
type Consumer struct {
	svc    Ingester
	pub    Publisher
	logger *slog.Logger

	processed *metrics.Counter
	retried   *metrics.Counter
	dead      *metrics.Counter
}

// NewConsumer builds a consumer. reg may be nil.
func NewConsumer(svc Ingester, pub Publisher, logger *slog.Logger, reg *metrics.Registry) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		svc:    svc,
		pub:    pub,
		logger: logger.With("component", "ingest"),
	}
	if reg != nil {
		c.processed = reg.Counter("ingest_jobs_processed_total", "Jobs ingested successfully")
		c.retried = reg.Counter("ingest_jobs_retried_total", "Jobs republished for another attempt")
		c.dead = reg.Counter("ingest_jobs_dead_total", "Jobs sent to the dead letter queue")
	}
	return c
}

// Start subscribes the consumer on the shared queue group.
func Start(nc *nats.Conn, svc Ingester, logger *slog.Logger, reg *metrics.Registry) (*nats.Subscription, error) {
	c := NewConsumer(svc, natsPublisher{nc: nc}, logger, reg)
	return natsutil.QueueSubscribe(nc, Subject, Queue, c.Handle)
}

// Handle processes one delivery. Malformed payloads and invalid jobs go
// straight to the DLQ; transient failures are republished with an
// incremented attempt count until MaxAttempts.
func (c *Consumer) Handle(ctx context.Context, job domain.IngestJob, ok bool, msg *nats.Msg) {
	if !ok {
		c.logger.Error("undecodable job payload", "bytes", len(msg.Data))
		c.deadLetter(ctx, DLQMessage{Raw: msg.Data, Error: "malformed payload", Attempts: 1})
		return
	}

	n, err := c.svc.Ingest(ctx, job)
	if err == nil {
		if c.processed != nil {
			c.processed.Inc()
		}
		c.logger.Info("job ingested", "exhibit_id", job.ExhibitID, "chunks", n)
		return
	}

	attempt := natsutil.RetryCount(msg) + 1
	if errors.Is(err, domain.ErrInvalidRequest) {
		// Retrying cannot fix a job that fails validation.
		c.deadLetter(ctx, DLQMessage{Job: job, Error: err.Error(), Attempts: attempt})
		return
	}
	if attempt >= MaxAttempts {
		c.logger.Error("job exhausted attempts", "exhibit_id", job.ExhibitID, "attempts", attempt, "err", err)
		c.deadLetter(ctx, DLQMessage{Job: job, Error: err.Error(), Attempts: attempt})
		return
	}

	c.logger.Warn("job failed, retrying", "exhibit_id", job.ExhibitID, "attempt", attempt, "err", err)
	if c.retried != nil {
		c.retried.Inc()
	}
	if pubErr := c.pub.Retry(ctx, job, attempt); pubErr != nil {
		c.logger.Error("retry publish failed", "exhibit_id", job.ExhibitID, "err", pubErr)
	}
}

func (c *Consumer) deadLetter(ctx context.Context, m DLQMessage) {
	if c.dead != nil {
		c.dead.Inc()
	}
	if err := c.pub.DeadLetter(ctx, m); err != nil {
		c.logger.Error("dead letter publish failed", "err", err)
	}
}
