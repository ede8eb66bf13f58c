package llm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
)

// --- mocks ---

type scriptedGenerator struct {
	mu    sync.Mutex
	errs  []error
	reply string
	calls int
	seen  []string
}

func (g *scriptedGenerator) Generate(_ context.Context, _ string, cred Credential) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	i := g.calls
	g.calls++
	g.seen = append(g.seen, cred.Label)
	if i < len(g.errs) && g.errs[i] != nil {
		return "", g.errs[i]
	}
	return g.reply, nil
}

func threeKeyRing(t *testing.T) *Ring {
	t.Helper()
	ring, err := NewRing([]Credential{
		{Label: "key-1", Key: "k1"},
		{Label: "key-2", Key: "k2"},
		{Label: "key-3", Key: "k3"},
	})
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	return ring
}

var quotaErr = &HTTPStatusError{Status: 429, Body: "quota exceeded"}

// --- tests ---

func TestRotator_SucceedsAfterRotation(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{quotaErr, quotaErr, nil}, reply: "merhaba"}
	rot := NewRotator(gen, threeKeyRing(t), slog.Default(), nil)

	text, err := rot.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "merhaba" {
		t.Errorf("text = %q", text)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want 3", gen.calls)
	}
	want := []string{"key-1", "key-2", "key-3"}
	for i, label := range want {
		if gen.seen[i] != label {
			t.Errorf("attempt %d used %s, want %s", i+1, gen.seen[i], label)
		}
	}
}

func TestRotator_ExhaustsAfterExactlyRingSizeAttempts(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{quotaErr, quotaErr, quotaErr, quotaErr}}
	rot := NewRotator(gen, threeKeyRing(t), slog.Default(), nil)

	_, err := rot.Generate(context.Background(), "hi")
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if gen.calls != 3 {
		t.Errorf("calls = %d, want exactly 3", gen.calls)
	}
	if !errors.As(err, new(*HTTPStatusError)) {
		t.Errorf("last provider error should be wrapped, got %v", err)
	}
}

func TestRotator_AuthInvalidAlsoRotates(t *testing.T) {
	authErr := &HTTPStatusError{Status: 403, Body: "forbidden"}
	gen := &scriptedGenerator{errs: []error{authErr, nil}, reply: "ok"}
	ring := threeKeyRing(t)
	rot := NewRotator(gen, ring, slog.Default(), nil)

	if _, err := rot.Generate(context.Background(), "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gen.calls != 2 {
		t.Errorf("calls = %d, want 2", gen.calls)
	}
}

func TestRotator_TransientFailsWithoutRotation(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{&HTTPStatusError{Status: 500, Body: "boom"}}}
	ring := threeKeyRing(t)
	rot := NewRotator(gen, ring, slog.Default(), nil)

	_, err := rot.Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrExhausted) {
		t.Error("transient failure must not count as exhaustion")
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
	if ring.Snapshot().Active != 0 {
		t.Errorf("cursor moved to %d on a transient failure", ring.Snapshot().Active)
	}
}

func TestRotator_OtherFailsWithoutRotation(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{errors.New("mangled payload")}}
	rot := NewRotator(gen, threeKeyRing(t), slog.Default(), nil)

	_, err := rot.Generate(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if gen.calls != 1 {
		t.Errorf("calls = %d, want 1", gen.calls)
	}
}

func TestRotator_CursorSurvivesAcrossCalls(t *testing.T) {
	gen := &scriptedGenerator{errs: []error{quotaErr, nil, nil}, reply: "ok"}
	ring := threeKeyRing(t)
	rot := NewRotator(gen, ring, slog.Default(), nil)

	if _, err := rot.Generate(context.Background(), "first"); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if ring.Snapshot().Active != 1 {
		t.Fatalf("cursor = %d after rotation, want 1", ring.Snapshot().Active)
	}

	// The key that worked keeps serving the next call.
	if _, err := rot.Generate(context.Background(), "second"); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if last := gen.seen[len(gen.seen)-1]; last != "key-2" {
		t.Errorf("second call used %s, want key-2", last)
	}
}

func TestRotator_CanceledContextStopsAttempts(t *testing.T) {
	gen := &scriptedGenerator{reply: "ok"}
	rot := NewRotator(gen, threeKeyRing(t), slog.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := rot.Generate(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("calls = %d, want 0", gen.calls)
	}
}
