package natsutil

import (
	"strconv"
	"testing"

	"github.com/nats-io/nats.go"
)

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)

	if got := c.Get("traceparent"); got != "" {
		t.Errorf("empty carrier Get = %q", got)
	}
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "Traceparent" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestRetryCount(t *testing.T) {
	cases := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"0", 0},
		{"2", 2},
		{"not-a-number", 0},
		{"-3", 0},
	}
	for _, tc := range cases {
		t.Run("val "+tc.header, func(t *testing.T) {
			msg := &nats.Msg{}
			if tc.header != "" {
				msg.Header = nats.Header{}
				msg.Header.Set(HeaderRetryCount, tc.header)
			}
			if got := RetryCount(msg); got != tc.want {
				t.Errorf("RetryCount = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestRetryCountRoundTrip(t *testing.T) {
	// PublishRetry sets the header via the carrier; emulate the same path.
	msg := &nats.Msg{}
	(*headerCarrier)(msg).Set(HeaderRetryCount, strconv.Itoa(3))
	if got := RetryCount(msg); got != 3 {
		t.Errorf("RetryCount = %d, want 3", got)
	}
}
