package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// VisitorProfile accumulates what the guide has learned about one visitor.
// Merges are monotonic: a fact once learned is only ever superseded, never
// silently erased.
type VisitorProfile struct {
	VisitorID       string            `json:"visitor_id"`
	Name            string            `json:"name,omitempty"`
	Interests       []string          `json:"interests,omitempty"`
	VisitedExhibits []string          `json:"visited_exhibits,omitempty"`
	Preferences     map[string]string `json:"preferences,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

const maxSummaryRunes = 280

// Summary renders the profile as one short hint line for prompts and API
// responses. Empty profiles summarize to "".
func (p VisitorProfile) Summary() string {
	var parts []string
	if p.Name != "" {
		parts = append(parts, fmt.Sprintf("name: %s", p.Name))
	}
	if len(p.Interests) > 0 {
		parts = append(parts, fmt.Sprintf("interests: %s", strings.Join(p.Interests, ", ")))
	}
	if len(p.VisitedExhibits) > 0 {
		parts = append(parts, fmt.Sprintf("visited: %s", strings.Join(p.VisitedExhibits, ", ")))
	}
	keys := make([]string, 0, len(p.Preferences))
	for k := range p.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, p.Preferences[k]))
	}
	s := strings.Join(parts, "; ")
	runes := []rune(s)
	if len(runes) > maxSummaryRunes {
		s = string(runes[:maxSummaryRunes-1]) + "…"
	}
	return s
}
