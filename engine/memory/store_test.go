package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MiraAI/mira-guide/engine/domain"
)

// mapKV is an in-memory KV for tests.
type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
	errs map[string]error // per-op injected failures: "get", "set", "del"
}

func newMapKV() *mapKV {
	return &mapKV{data: map[string][]byte{}, errs: map[string]error{}}
}

func (m *mapKV) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["get"]; err != nil {
		return nil, err
	}
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (m *mapKV) Set(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["set"]; err != nil {
		return err
	}
	m.data[key] = val
	return nil
}

func (m *mapKV) Del(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs["del"]; err != nil {
		return err
	}
	delete(m.data, key)
	return nil
}

func TestLoad_UnknownVisitorIsEmptyProfile(t *testing.T) {
	s := NewStore(newMapKV(), nil, nil)

	p, err := s.Load(context.Background(), "v-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.VisitorID != "v-1" {
		t.Errorf("visitor id = %q", p.VisitorID)
	}
	if p.Name != "" || len(p.Interests) != 0 {
		t.Errorf("expected empty profile, got %+v", p)
	}
	if p.CreatedAt.IsZero() {
		t.Error("CreatedAt not set on default profile")
	}
}

func TestMerge_IsMonotonic(t *testing.T) {
	s := NewStore(newMapKV(), nil, nil)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "v-1", Facts{Name: "Ayşe"}); err != nil {
		t.Fatalf("merge name: %v", err)
	}
	if _, err := s.Merge(ctx, "v-1", Facts{Interests: []string{"rönesans"}}); err != nil {
		t.Fatalf("merge interests: %v", err)
	}

	p, err := s.Load(ctx, "v-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Name != "Ayşe" {
		t.Errorf("name lost across merges: %q", p.Name)
	}
	if len(p.Interests) != 1 || p.Interests[0] != "rönesans" {
		t.Errorf("interests = %v", p.Interests)
	}
}

func TestMerge_FieldRules(t *testing.T) {
	tests := []struct {
		name  string
		base  Facts
		facts Facts
		check func(t *testing.T, p domain.VisitorProfile)
	}{
		{
			name:  "empty name does not erase",
			base:  Facts{Name: "Mehmet"},
			facts: Facts{Name: "", Interests: []string{"heykel"}},
			check: func(t *testing.T, p domain.VisitorProfile) {
				if p.Name != "Mehmet" {
					t.Errorf("name = %q", p.Name)
				}
			},
		},
		{
			name:  "non-empty name supersedes",
			base:  Facts{Name: "Mehmet"},
			facts: Facts{Name: "Mehmet Bey"},
			check: func(t *testing.T, p domain.VisitorProfile) {
				if p.Name != "Mehmet Bey" {
					t.Errorf("name = %q", p.Name)
				}
			},
		},
		{
			name:  "interests union case-insensitive",
			base:  Facts{Interests: []string{"Empresyonizm"}},
			facts: Facts{Interests: []string{"empresyonizm", "heykel"}},
			check: func(t *testing.T, p domain.VisitorProfile) {
				if len(p.Interests) != 2 {
					t.Errorf("interests = %v", p.Interests)
				}
				if p.Interests[0] != "Empresyonizm" {
					t.Errorf("first sighting spelling lost: %v", p.Interests)
				}
			},
		},
		{
			name:  "visited exhibits union",
			base:  Facts{VisitedExhibit: "mona_lisa"},
			facts: Facts{VisitedExhibit: "mona_lisa"},
			check: func(t *testing.T, p domain.VisitorProfile) {
				if len(p.VisitedExhibits) != 1 {
					t.Errorf("visited = %v", p.VisitedExhibits)
				}
			},
		},
		{
			name:  "preferences overwrite key-wise",
			base:  Facts{Preferences: map[string]string{"language": "tr", "pace": "slow"}},
			facts: Facts{Preferences: map[string]string{"pace": "fast"}},
			check: func(t *testing.T, p domain.VisitorProfile) {
				if p.Preferences["language"] != "tr" || p.Preferences["pace"] != "fast" {
					t.Errorf("preferences = %v", p.Preferences)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewStore(newMapKV(), nil, nil)
			ctx := context.Background()
			if _, err := s.Merge(ctx, "v-1", tt.base); err != nil {
				t.Fatalf("base merge: %v", err)
			}
			p, err := s.Merge(ctx, "v-1", tt.facts)
			if err != nil {
				t.Fatalf("merge: %v", err)
			}
			tt.check(t, p)
		})
	}
}

func TestMerge_ConcurrentMergesAreLinearized(t *testing.T) {
	s := NewStore(newMapKV(), nil, nil)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Merge(ctx, "v-1", Facts{Interests: []string{fmt.Sprintf("topic-%d", i)}})
			if err != nil {
				t.Errorf("merge %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	p, err := s.Load(ctx, "v-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(p.Interests) != n {
		t.Errorf("lost updates: %d interests, want %d", len(p.Interests), n)
	}
}

func TestMerge_BumpsUpdatedAt(t *testing.T) {
	s := NewStore(newMapKV(), nil, nil)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	p, err := s.Merge(context.Background(), "v-1", Facts{Name: "Zeynep"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if !p.UpdatedAt.Equal(base) {
		t.Errorf("UpdatedAt = %v, want %v", p.UpdatedAt, base)
	}
}

func TestForget_RemovesRecord(t *testing.T) {
	s := NewStore(newMapKV(), nil, nil)
	ctx := context.Background()

	if _, err := s.Merge(ctx, "v-1", Facts{Name: "Ali"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := s.Forget(ctx, "v-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	p, err := s.Load(ctx, "v-1")
	if err != nil {
		t.Fatalf("load after forget: %v", err)
	}
	if p.Name != "" {
		t.Errorf("profile survived forget: %+v", p)
	}
}

func TestMerge_StorageFailureSurfaces(t *testing.T) {
	kv := newMapKV()
	kv.errs["set"] = errors.New("redis down")
	s := NewStore(kv, nil, nil)

	if _, err := s.Merge(context.Background(), "v-1", Facts{Name: "Ali"}); err == nil {
		t.Fatal("expected error from failing KV")
	}
}

func TestFactsEmpty(t *testing.T) {
	if !(Facts{}).Empty() {
		t.Error("zero facts should be empty")
	}
	if (Facts{VisitedExhibit: "mona_lisa"}).Empty() {
		t.Error("facts with a visit are not empty")
	}
}
