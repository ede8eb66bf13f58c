package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/natsutil"
)

type fakeIngester struct {
	err   error
	calls []domain.IngestJob
}

func (f *fakeIngester) Ingest(_ context.Context, job domain.IngestJob) (int, error) {
	f.calls = append(f.calls, job)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

type fakePublisher struct {
	retries []int
	dead    []DLQMessage
}

func (f *fakePublisher) Retry(_ context.Context, _ domain.IngestJob, attempt int) error {
	f.retries = append(f.retries, attempt)
	return nil
}

func (f *fakePublisher) DeadLetter(_ context.Context, m DLQMessage) error {
	f.dead = append(f.dead, m)
	return nil
}

func testConsumer(svc Ingester, pub Publisher) *Consumer {
	return NewConsumer(svc, pub, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
}

func msgWithRetries(n int) *nats.Msg {
	msg := &nats.Msg{Subject: Subject, Header: nats.Header{}}
	if n > 0 {
		msg.Header.Set(natsutil.HeaderRetryCount, strconv.Itoa(n))
	}
	return msg
}

func job() domain.IngestJob {
	return domain.IngestJob{ID: "j1", ExhibitID: "mona_lisa", Text: "metin", Source: "curator"}
}

func TestHandleSuccess(t *testing.T) {
	svc := &fakeIngester{}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)

	c.Handle(context.Background(), job(), true, msgWithRetries(0))

	if len(svc.calls) != 1 {
		t.Fatalf("ingest calls = %d, want 1", len(svc.calls))
	}
	if len(pub.retries) != 0 || len(pub.dead) != 0 {
		t.Errorf("success should not republish: retries=%v dead=%v", pub.retries, pub.dead)
	}
}

func TestHandleFailureRetries(t *testing.T) {
	svc := &fakeIngester{err: errors.New("qdrant down")}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)

	c.Handle(context.Background(), job(), true, msgWithRetries(0))

	if len(pub.retries) != 1 || pub.retries[0] != 1 {
		t.Fatalf("retries = %v, want [1]", pub.retries)
	}
	if len(pub.dead) != 0 {
		t.Errorf("dead = %v, want none on first failure", pub.dead)
	}
}

func TestHandleExhaustedGoesToDLQ(t *testing.T) {
	svc := &fakeIngester{err: errors.New("qdrant down")}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)

	c.Handle(context.Background(), job(), true, msgWithRetries(2))

	if len(pub.retries) != 0 {
		t.Errorf("retries = %v, want none at attempt cap", pub.retries)
	}
	if len(pub.dead) != 1 {
		t.Fatalf("dead = %d messages, want 1", len(pub.dead))
	}
	if pub.dead[0].Attempts != 3 || pub.dead[0].Job.ExhibitID != "mona_lisa" {
		t.Errorf("dlq message = %+v", pub.dead[0])
	}
}

func TestHandleInvalidJobSkipsRetry(t *testing.T) {
	svc := &fakeIngester{err: domain.ErrInvalidRequest}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)

	c.Handle(context.Background(), job(), true, msgWithRetries(0))

	if len(pub.retries) != 0 {
		t.Errorf("validation failure should not retry, got %v", pub.retries)
	}
	if len(pub.dead) != 1 {
		t.Fatalf("dead = %d messages, want 1", len(pub.dead))
	}
}

func TestHandleMalformedPayload(t *testing.T) {
	svc := &fakeIngester{}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)

	msg := &nats.Msg{Subject: Subject, Data: []byte("{not json")}
	c.Handle(context.Background(), domain.IngestJob{}, false, msg)

	if len(svc.calls) != 0 {
		t.Error("malformed payload reached the ingester")
	}
	if len(pub.dead) != 1 {
		t.Fatalf("dead = %d messages, want 1", len(pub.dead))
	}
	if string(pub.dead[0].Raw) != "{not json" {
		t.Errorf("dlq raw = %q", pub.dead[0].Raw)
	}
}

func TestHandleRetryAttemptCounting(t *testing.T) {
	svc := &fakeIngester{err: errors.New("transient")}
	pub := &fakePublisher{}
	c := testConsumer(svc, pub)
	ctx := context.Background()

	c.Handle(ctx, job(), true, msgWithRetries(0))
	c.Handle(ctx, job(), true, msgWithRetries(1))
	c.Handle(ctx, job(), true, msgWithRetries(2))

	if len(pub.retries) != 2 || pub.retries[0] != 1 || pub.retries[1] != 2 {
		t.Errorf("retries = %v, want [1 2]", pub.retries)
	}
	if len(pub.dead) != 1 {
		t.Errorf("dead = %d, want 1 after third attempt", len(pub.dead))
	}
}
