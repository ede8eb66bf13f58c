// Package speech turns synthesized audio into a stream of facial animation
// frames. A Scheduler owns one avatar session: it synthesizes an utterance,
// starts audio playback, and drives morph-target weights along the viseme
// timeline until the audio ends or the utterance is stopped.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/metrics"
	"github.com/MiraAI/mira-guide/pkg/tts"
)

// Scheduler states.
const (
	StateIdle         = "idle"
	StateSynthesizing = "synthesizing"
	StatePlaying      = "playing"
	StateStopping     = "stopping"
)

// Player starts and stops audio output for a synthesized utterance.
// Start returns once playback has begun; the scheduler does not wait for
// the audio to finish through the player, it tracks elapsed time itself.
type Player interface {
	Start(ctx context.Context, s tts.Synthesis) error
	Stop()
}

// Frame is one animation tick: the morph-target weights the avatar should
// blend toward, stamped with how far into the utterance it was produced.
type Frame struct {
	SessionID string             `json:"session_id"`
	Elapsed   time.Duration      `json:"elapsed"`
	Weights   map[string]float64 `json:"weights"`
}

// FrameSink receives animation frames. Send must not block the loop for
// long; slow sinks drop the session behind the audio.
type FrameSink interface {
	Send(Frame) error
}

// Options are the animation knobs. Zero values are replaced by defaults.
type Options struct {
	// Tick is the frame interval.
	Tick time.Duration
	// Smoothing is the exponential approach factor per tick, in (0, 1].
	Smoothing float64
	// FadeTicks bounds the fade-out after the audio ends.
	FadeTicks int
}

// DefaultOptions drives roughly 30 frames per second.
var DefaultOptions = Options{
	Tick:      33 * time.Millisecond,
	Smoothing: 0.35,
	FadeTicks: 8,
}

// Utterance is the handle returned by Speak.
type Utterance struct {
	ID          string
	SessionID   string
	Duration    time.Duration
	VisemeCount int
	Synthesis   tts.Synthesis
}

// Scheduler runs the state machine for one session. Speak replaces any
// utterance already in flight; Stop is safe from any state.
type Scheduler struct {
	sessionID string
	synth     tts.Synthesizer
	player    Player
	sink      FrameSink
	opts      Options
	logger    *slog.Logger
	now       func() time.Time

	utterances *metrics.Counter
	frames     *metrics.Counter

	// speakMu makes cancel-and-replace atomic when two Speak calls race
	// for the same session.
	speakMu sync.Mutex

	mu      sync.Mutex
	state   string
	gen     uint64
	cancel  context.CancelFunc
	done    chan struct{}
	weights map[string]float64
}

// NewScheduler wires a scheduler for one session. reg may be nil.
func NewScheduler(sessionID string, synth tts.Synthesizer, player Player, sink FrameSink, opts Options, logger *slog.Logger, reg *metrics.Registry) *Scheduler {
	if opts.Tick <= 0 {
		opts.Tick = DefaultOptions.Tick
	}
	if opts.Smoothing <= 0 || opts.Smoothing > 1 {
		opts.Smoothing = DefaultOptions.Smoothing
	}
	if opts.FadeTicks <= 0 {
		opts.FadeTicks = DefaultOptions.FadeTicks
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		sessionID: sessionID,
		synth:     synth,
		player:    player,
		sink:      sink,
		opts:      opts,
		logger:    logger.With("component", "speech", "session", sessionID),
		now:       time.Now,
		state:     StateIdle,
		weights:   zeroWeights(),
	}
	if reg != nil {
		s.utterances = reg.Counter("speech_utterances_total", "Utterances synthesized and played")
		s.frames = reg.Counter("speech_frames_total", "Animation frames emitted")
	}
	return s
}

// State reports the current state of the machine.
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Speak synthesizes text and starts playback plus the animation loop.
// Any utterance already in flight is stopped first. Synthesis failures
// surface as domain errors without retry.
func (s *Scheduler) Speak(ctx context.Context, text string, voice tts.Voice) (*Utterance, error) {
	if err := domain.ValidateSpeechText(text); err != nil {
		return nil, err
	}
	s.speakMu.Lock()
	defer s.speakMu.Unlock()
	s.Stop()

	s.mu.Lock()
	s.state = StateSynthesizing
	gen := s.gen
	s.mu.Unlock()
	s.logger.Debug("state transition", "state", StateSynthesizing)

	syn, err := s.synth.Synthesize(ctx, text, voice)
	if err != nil {
		s.setState(StateIdle)
		switch {
		case errors.Is(err, tts.ErrAuth):
			return nil, fmt.Errorf("%w: %v", domain.ErrAuthRequired, err)
		case errors.Is(ctx.Err(), context.Canceled):
			return nil, ctx.Err()
		default:
			return nil, fmt.Errorf("%w: %v", domain.ErrSynthesisUnavailable, err)
		}
	}
	if ctx.Err() != nil {
		s.setState(StateIdle)
		return nil, ctx.Err()
	}

	// A Stop issued while synthesis was in flight has no cancel or done
	// handle to act on; it bumps the generation instead. Re-check it here
	// so the stopped utterance never reaches the player.
	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		return nil, context.Canceled
	}
	s.mu.Unlock()

	if err := s.player.Start(loopCtx, syn); err != nil {
		cancel()
		s.setState(StateIdle)
		return nil, fmt.Errorf("%w: %v", domain.ErrSynthesisUnavailable, err)
	}

	done := make(chan struct{})
	s.mu.Lock()
	if s.gen != gen {
		s.mu.Unlock()
		cancel()
		s.player.Stop()
		return nil, context.Canceled
	}
	s.cancel = cancel
	s.done = done
	s.state = StatePlaying
	s.mu.Unlock()
	s.logger.Debug("state transition", "state", StatePlaying, "visemes", len(syn.Visemes), "duration", syn.Duration)

	go s.animate(loopCtx, syn, done)

	if s.utterances != nil {
		s.utterances.Inc()
	}
	return &Utterance{
		ID:          uuid.NewString(),
		SessionID:   s.sessionID,
		Duration:    syn.Duration,
		VisemeCount: len(syn.Visemes),
		Synthesis:   syn,
	}, nil
}

// Stop halts playback and animation from any state. Weights are zeroed
// synchronously and one zero frame is emitted so the avatar closes its
// mouth without waiting for the loop to notice cancellation.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateIdle {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.gen++
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.weights = zeroWeights()
	s.mu.Unlock()

	s.logger.Debug("state transition", "state", StateStopping)
	if cancel != nil {
		cancel()
	}
	s.player.Stop()
	if done != nil {
		<-done
	}
	s.emit(Frame{SessionID: s.sessionID, Weights: zeroWeights()})
	s.setState(StateIdle)
}

// animate is the per-utterance loop. Each tick it checks cancellation,
// advances the viseme cursor, smooths weights toward the active shape,
// and emits a frame. Past the end of the audio it fades out over a
// bounded number of ticks, emits a final zero frame, and goes idle.
func (s *Scheduler) animate(ctx context.Context, syn tts.Synthesis, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	started := s.now()
	cursor := -1
	fading := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		elapsed := s.now().Sub(started)
		if elapsed >= syn.Duration {
			fading++
			if fading > s.opts.FadeTicks {
				s.emit(Frame{SessionID: s.sessionID, Elapsed: elapsed, Weights: zeroWeights()})
				s.finish()
				return
			}
			s.stepToward(RestTarget, 0, elapsed)
			continue
		}

		cursor = advanceCursor(syn.Visemes, cursor, elapsed)
		target, intensity := RestTarget, 1.0
		if cursor >= 0 {
			target, intensity = targetFor(syn.Visemes[cursor].Code)
		}
		s.stepToward(target, intensity, elapsed)
	}
}

// stepToward smooths every weight toward zero except the active target,
// which approaches its intensity, then emits the frame. The rest shape
// fading toward zero reads as a closing mouth.
func (s *Scheduler) stepToward(target string, intensity float64, elapsed time.Duration) {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	for name := range s.weights {
		goal := 0.0
		if name == target {
			goal = intensity
		}
		s.weights[name] += (goal - s.weights[name]) * s.opts.Smoothing
	}
	frame := Frame{SessionID: s.sessionID, Elapsed: elapsed, Weights: copyWeights(s.weights)}
	s.mu.Unlock()
	s.emit(frame)
}

func (s *Scheduler) finish() {
	s.mu.Lock()
	if s.state != StatePlaying {
		s.mu.Unlock()
		return
	}
	s.state = StateIdle
	s.cancel = nil
	s.done = nil
	s.weights = zeroWeights()
	s.mu.Unlock()
	s.player.Stop()
	s.logger.Debug("state transition", "state", StateIdle)
}

func (s *Scheduler) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
	s.logger.Debug("state transition", "state", state)
}

func (s *Scheduler) emit(f Frame) {
	if err := s.sink.Send(f); err != nil {
		s.logger.Warn("frame dropped", "error", err)
		return
	}
	if s.frames != nil {
		s.frames.Inc()
	}
}

// advanceCursor moves the cursor to the latest event whose offset has been
// reached. It never selects a future event and never moves backward.
func advanceCursor(events []tts.VisemeEvent, cursor int, elapsed time.Duration) int {
	for cursor+1 < len(events) && events[cursor+1].Offset <= elapsed {
		cursor++
	}
	return cursor
}

func zeroWeights() map[string]float64 {
	w := make(map[string]float64, len(targetNames))
	for _, name := range targetNames {
		w[name] = 0
	}
	return w
}

func copyWeights(w map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}
