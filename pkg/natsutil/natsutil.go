// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation and retry-count headers for
// redelivery flows.
package natsutil

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// HeaderRetryCount carries the redelivery attempt number for a message.
const HeaderRetryCount = "X-Retry-Count"

// headerCarrier adapts nats.Msg headers to OTel's TextMapCarrier.
type headerCarrier nats.Msg

func (c *headerCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *headerCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *headerCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

func marshalMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	msg := &nats.Msg{Subject: subject, Data: data}
	otel.GetTextMapPropagator().Inject(ctx, (*headerCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes it, injecting trace context
// into the message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := marshalMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// PublishRetry publishes v with the retry-count header set to attempt.
func PublishRetry[T any](ctx context.Context, nc *nats.Conn, subject string, v T, attempt int) error {
	msg, err := marshalMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	(*headerCarrier)(msg).Set(HeaderRetryCount, strconv.Itoa(attempt))
	return nc.PublishMsg(msg)
}

// RetryCount reads the retry-count header, returning 0 when absent or bad.
func RetryCount(msg *nats.Msg) int {
	if msg.Header == nil {
		return 0
	}
	n, err := strconv.Atoi(msg.Header.Get(HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Subscribe decodes JSON messages of type T into handler. Trace context is
// extracted from headers; malformed messages are dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		handler(ctx, v)
	})
}

// QueueSubscribe is Subscribe within a queue group. The raw message is passed
// through so handlers can inspect headers (retry counts) and route bad
// payloads; undecodable messages invoke handler with the zero value and
// ok=false.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(ctx context.Context, v T, ok bool, msg *nats.Msg)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*headerCarrier)(msg))
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			handler(ctx, v, false, msg)
			return
		}
		handler(ctx, v, true, msg)
	})
}

// Request sends a JSON request and decodes the JSON reply, bounded by timeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp
	msg, err := marshalMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	reply, err := nc.RequestMsg(msg, timeout)
	if err != nil {
		return zero, err
	}
	var resp Resp
	if err := json.Unmarshal(reply.Data, &resp); err != nil {
		return zero, err
	}
	return resp, nil
}
