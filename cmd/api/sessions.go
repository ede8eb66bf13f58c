package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/speech"
	"github.com/MiraAI/mira-guide/pkg/llm"
	"github.com/MiraAI/mira-guide/pkg/natsutil"
	"github.com/MiraAI/mira-guide/pkg/tts"
)

// visitorLocks serializes answer handling per visitor. Anonymous requests
// share one slot.
type visitorLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newVisitorLocks() *visitorLocks {
	return &visitorLocks{locks: make(map[string]*sync.Mutex)}
}

func (v *visitorLocks) lock(visitorID string) (unlock func()) {
	if visitorID == "" {
		visitorID = "anonymous"
	}
	v.mu.Lock()
	m, ok := v.locks[visitorID]
	if !ok {
		m = &sync.Mutex{}
		v.locks[visitorID] = m
	}
	v.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// sessionRegistry holds one speech scheduler per active session.
type sessionRegistry struct {
	mu           sync.Mutex
	sessions     map[string]*speech.Scheduler
	newScheduler func(sessionID string) *speech.Scheduler
}

func newSessionRegistry(factory func(sessionID string) *speech.Scheduler) *sessionRegistry {
	return &sessionRegistry{
		sessions:     make(map[string]*speech.Scheduler),
		newScheduler: factory,
	}
}

func (r *sessionRegistry) get(sessionID string) *speech.Scheduler {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		s = r.newScheduler(sessionID)
		r.sessions[sessionID] = s
	}
	return s
}

// stop cancels a session's playback and prunes it. Unknown sessions are a
// no-op so DELETE is idempotent.
func (r *sessionRegistry) stop(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	if ok {
		delete(r.sessions, sessionID)
	}
	r.mu.Unlock()
	if ok {
		s.Stop()
	}
}

func (r *sessionRegistry) stopAll() {
	r.mu.Lock()
	all := make([]*speech.Scheduler, 0, len(r.sessions))
	for id, s := range r.sessions {
		all = append(all, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()
	for _, s := range all {
		s.Stop()
	}
}

// clockPlayer is the server-side audio "device": the audio itself is
// returned to the client in the speech response, so playback here only
// means letting the scheduler track elapsed time.
type clockPlayer struct{}

func (clockPlayer) Start(context.Context, tts.Synthesis) error { return nil }
func (clockPlayer) Stop()                                      {}

// transcriber is the provider slice the voice endpoint needs.
type transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string, cred llm.Credential) (string, error)
}

// ringTranscriber runs transcription with the ring's active credential.
type ringTranscriber struct {
	provider transcriber
	ring     *llm.Ring
}

func newRingTranscriber(provider transcriber, ring *llm.Ring) *ringTranscriber {
	return &ringTranscriber{provider: provider, ring: ring}
}

func (t *ringTranscriber) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	if t.provider == nil {
		return "", fmt.Errorf("%w: no transcription provider configured", domain.ErrGenerationFailed)
	}
	text, err := t.provider.Transcribe(ctx, audio, mime, t.ring.Current())
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}
	return text, nil
}

// natsFrameSource bridges a session's NATS frame subject to the SSE
// handler.
type natsFrameSource struct {
	nc *nats.Conn
}

func (s natsFrameSource) Frames(sessionID string, handler func(speech.Frame)) (func(), error) {
	sub, err := natsutil.Subscribe(s.nc, speech.FrameSubject(sessionID), func(_ context.Context, f speech.Frame) {
		handler(f)
	})
	if err != nil {
		return nil, err
	}
	return func() { _ = sub.Unsubscribe() }, nil
}
