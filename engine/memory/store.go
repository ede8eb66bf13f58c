// Package memory is the visitor memory store. It keeps one profile per
// visitor and grows it by monotonic merges: names overwrite only with
// non-empty values, interest and visit sets union, preferences overwrite
// key-wise. Nothing learned is ever silently dropped.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/pkg/metrics"
)

// Facts is one batch of extracted knowledge about a visitor.
type Facts struct {
	Name           string            `json:"name,omitempty"`
	Interests      []string          `json:"interests,omitempty"`
	VisitedExhibit string            `json:"visited_exhibit,omitempty"`
	Preferences    map[string]string `json:"preferences,omitempty"`
}

// Empty reports whether the facts carry nothing worth merging.
func (f Facts) Empty() bool {
	return f.Name == "" && len(f.Interests) == 0 &&
		f.VisitedExhibit == "" && len(f.Preferences) == 0
}

// Store serializes profile mutations per visitor so concurrent merges never
// lose updates.
type Store struct {
	kv     KV
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	merges *metrics.Counter
}

// NewStore creates a visitor memory store. reg may be nil.
func NewStore(kv KV, logger *slog.Logger, reg *metrics.Registry) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		kv:     kv,
		logger: logger,
		now:    time.Now,
		locks:  map[string]*sync.Mutex{},
	}
	if reg != nil {
		s.merges = reg.Counter("memory_merges_total", "Profile merges applied")
	}
	return s
}

func profileKey(visitorID string) string { return "visitor:" + visitorID }

// visitorLock returns the mutex for one visitor, creating it on first use.
func (s *Store) visitorLock(visitorID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[visitorID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[visitorID] = l
	}
	return l
}

// Load returns the visitor's profile, or an empty one for unknown visitors.
// Absence is never an error.
func (s *Store) Load(ctx context.Context, visitorID string) (domain.VisitorProfile, error) {
	raw, err := s.kv.Get(ctx, profileKey(visitorID))
	if errors.Is(err, ErrNotFound) {
		now := s.now()
		return domain.VisitorProfile{VisitorID: visitorID, CreatedAt: now, UpdatedAt: now}, nil
	}
	if err != nil {
		return domain.VisitorProfile{}, fmt.Errorf("load %s: %w", visitorID, err)
	}

	var p domain.VisitorProfile
	if err := json.Unmarshal(raw, &p); err != nil {
		return domain.VisitorProfile{}, fmt.Errorf("load %s: decode: %w", visitorID, err)
	}
	p.VisitorID = visitorID
	return p, nil
}

// Merge applies facts to the visitor's profile under a per-visitor lock and
// returns the resulting full profile.
func (s *Store) Merge(ctx context.Context, visitorID string, facts Facts) (domain.VisitorProfile, error) {
	lock := s.visitorLock(visitorID)
	lock.Lock()
	defer lock.Unlock()

	p, err := s.Load(ctx, visitorID)
	if err != nil {
		return domain.VisitorProfile{}, err
	}

	apply(&p, facts)
	p.UpdatedAt = s.now()

	raw, err := json.Marshal(p)
	if err != nil {
		return domain.VisitorProfile{}, fmt.Errorf("merge %s: encode: %w", visitorID, err)
	}
	if err := s.kv.Set(ctx, profileKey(visitorID), raw); err != nil {
		return domain.VisitorProfile{}, fmt.Errorf("merge %s: %w", visitorID, err)
	}

	if s.merges != nil {
		s.merges.Inc()
	}
	s.logger.Debug("profile merged", "visitor_id", visitorID,
		"interests", len(p.Interests), "visited", len(p.VisitedExhibits))
	return p, nil
}

// Forget deletes the visitor's record. Unknown visitors are a no-op.
func (s *Store) Forget(ctx context.Context, visitorID string) error {
	if err := s.kv.Del(ctx, profileKey(visitorID)); err != nil {
		return fmt.Errorf("forget %s: %w", visitorID, err)
	}
	return nil
}

// apply implements the field-level merge rules.
func apply(p *domain.VisitorProfile, f Facts) {
	if name := strings.TrimSpace(f.Name); name != "" {
		p.Name = name
	}
	p.Interests = unionFold(p.Interests, f.Interests)
	if f.VisitedExhibit != "" {
		p.VisitedExhibits = unionFold(p.VisitedExhibits, []string{f.VisitedExhibit})
	}
	if len(f.Preferences) > 0 && p.Preferences == nil {
		p.Preferences = map[string]string{}
	}
	for k, v := range f.Preferences {
		p.Preferences[k] = v
	}
}

// unionFold appends unseen values, deduping case-insensitively while keeping
// the original order and spelling of first sightings.
func unionFold(have, add []string) []string {
	seen := make(map[string]bool, len(have))
	for _, v := range have {
		seen[strings.ToLower(v)] = true
	}
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if seen[key] {
			continue
		}
		seen[key] = true
		have = append(have, v)
	}
	return have
}
