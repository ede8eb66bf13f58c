package speech

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/MiraAI/mira-guide/pkg/natsutil"
)

// FrameSubject returns the per-session subject animation frames are
// published on.
func FrameSubject(sessionID string) string {
	return "speech.frames." + sessionID
}

// NATSFrameSink publishes frames to the session's frame subject so any
// number of front ends can subscribe without touching the scheduler.
type NATSFrameSink struct {
	nc *nats.Conn
}

func NewNATSFrameSink(nc *nats.Conn) *NATSFrameSink {
	return &NATSFrameSink{nc: nc}
}

func (s *NATSFrameSink) Send(f Frame) error {
	if err := natsutil.Publish(context.Background(), s.nc, FrameSubject(f.SessionID), f); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}
