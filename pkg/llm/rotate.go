package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MiraAI/mira-guide/pkg/metrics"
)

// ErrExhausted means every credential in the ring was tried once and all
// failed with a rotating failure class.
var ErrExhausted = errors.New("all credentials exhausted")

// Rotator drives a Generator through the credential ring. Each call makes at
// most one attempt per credential: quota and auth failures advance the ring,
// anything else fails the call on the spot.
type Rotator struct {
	gen      Generator
	ring     *Ring
	logger   *slog.Logger
	attempts *metrics.Counter
	rotated  *metrics.Counter
}

// NewRotator wires a generator to a credential ring. reg may be nil.
func NewRotator(gen Generator, ring *Ring, logger *slog.Logger, reg *metrics.Registry) *Rotator {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rotator{gen: gen, ring: ring, logger: logger}
	if reg != nil {
		r.attempts = reg.Counter("llm_generate_attempts_total", "Generation attempts across all credentials")
		r.rotated = reg.Counter("llm_credential_rotations_total", "Times the credential ring advanced")
	}
	return r
}

// Generate runs the prompt, rotating credentials on quota or auth failures.
// The attempt budget is exactly the ring size.
func (r *Rotator) Generate(ctx context.Context, prompt string) (string, error) {
	budget := r.ring.Len()
	var lastErr error

	for attempt := 1; attempt <= budget; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		cred := r.ring.Current()
		if r.attempts != nil {
			r.attempts.Inc()
		}

		text, err := r.gen.Generate(ctx, prompt, cred)
		if err == nil {
			return text, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}

		class := Classify(err)
		r.logger.Warn("generation attempt failed",
			"credential", cred.Label,
			"class", class.String(),
			"attempt", attempt,
			"budget", budget,
			"err", err)

		if !class.Rotates() {
			return "", fmt.Errorf("generate with %s: %w", cred.Label, err)
		}

		lastErr = err
		r.ring.Advance()
		if r.rotated != nil {
			r.rotated.Inc()
		}
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrExhausted, budget, lastErr)
}

// Snapshot exposes the underlying ring state for the status endpoint.
func (r *Rotator) Snapshot() RingStatus { return r.ring.Snapshot() }
