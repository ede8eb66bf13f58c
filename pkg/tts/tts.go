// Package tts synthesizes speech and the viseme timeline that drives facial
// animation. The provider returns raw PCM so audio duration is a property of
// the byte count, not a guess.
package tts

import (
	"context"
	"errors"
	"time"
)

// Synthesis sentinel errors. engine/speech maps these onto the domain
// taxonomy before they reach HTTP handlers.
var (
	// ErrAuth means the provider rejected or could not find credentials.
	ErrAuth = errors.New("synthesis credentials rejected")

	// ErrUnavailable covers every other synthesis failure.
	ErrUnavailable = errors.New("synthesis unavailable")
)

// VisemeEvent is one mouth-shape cue: the provider's viseme code and its
// offset from the start of the audio. Sequences are ordered by Offset.
type VisemeEvent struct {
	Code   string
	Offset time.Duration
}

// Voice selects the synthesis voice.
type Voice struct {
	ID       string
	Engine   string
	Language string
}

// Synthesis is one rendered utterance: mono 16-bit little-endian PCM plus
// the viseme timeline covering it.
type Synthesis struct {
	Audio      []byte
	SampleRate int
	Visemes    []VisemeEvent
	Duration   time.Duration
}

// Synthesizer renders text to speech. Implementations do not retry; the
// speech path is latency-sensitive and failures surface immediately.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, v Voice) (Synthesis, error)
}

// PCMDuration computes playback time for 16-bit mono PCM.
func PCMDuration(pcm []byte, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
