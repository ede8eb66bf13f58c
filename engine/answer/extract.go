package answer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MiraAI/mira-guide/engine/memory"
)

const extractionPrompt = `Extract facts about the visitor from this museum
conversation. Reply with strict JSON only, no prose, matching:
{"name": "", "interests": [], "preferences": {}}
Leave fields empty when the exchange reveals nothing. Interests are topics
the visitor shows curiosity about (art movements, artists, techniques).

Visitor: %s
Guide: %s`

// extractFacts asks the model for a strict-JSON fact extraction over the
// latest user+assistant pair. Any failure returns an error; callers swallow
// it, extraction is best-effort.
func (s *Service) extractFacts(ctx context.Context, question, reply string) (memory.Facts, error) {
	raw, err := s.generator.Generate(ctx, fmt.Sprintf(extractionPrompt, question, reply))
	if err != nil {
		return memory.Facts{}, fmt.Errorf("extraction call: %w", err)
	}

	var facts memory.Facts
	if err := json.Unmarshal([]byte(stripFences(raw)), &facts); err != nil {
		return memory.Facts{}, fmt.Errorf("extraction parse: %w", err)
	}
	return facts, nil
}

// stripFences removes markdown code fences models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
