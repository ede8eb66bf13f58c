package llm

import (
	"fmt"
	"sync"
)

// Ring is an ordered set of credentials with a cursor. The cursor survives
// across calls so a key that worked keeps serving until it fails; Advance
// wraps past the end back to the first credential.
type Ring struct {
	mu     sync.Mutex
	creds  []Credential
	cursor int
}

// NewRing builds a ring from the given credentials, in order.
func NewRing(creds []Credential) (*Ring, error) {
	if len(creds) == 0 {
		return nil, fmt.Errorf("credential ring: no credentials configured")
	}
	for i, c := range creds {
		if c.Key == "" {
			return nil, fmt.Errorf("credential ring: empty key at position %d", i)
		}
		if c.Label == "" {
			creds[i].Label = fmt.Sprintf("key-%d", i+1)
		}
	}
	return &Ring{creds: creds}, nil
}

// Current returns the credential under the cursor.
func (r *Ring) Current() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds[r.cursor]
}

// Advance moves the cursor to the next credential, wrapping, and returns it.
func (r *Ring) Advance() Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cursor = (r.cursor + 1) % len(r.creds)
	return r.creds[r.cursor]
}

// Len returns the number of credentials in the ring.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creds)
}

// RingStatus describes the ring for the status endpoint. Key material is
// deliberately absent.
type RingStatus struct {
	Labels []string `json:"labels"`
	Active int      `json:"active"`
}

// Snapshot returns the ring's labels and active cursor position.
func (r *Ring) Snapshot() RingStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	labels := make([]string, len(r.creds))
	for i, c := range r.creds {
		labels[i] = c.Label
	}
	return RingStatus{Labels: labels, Active: r.cursor}
}
