package exhibits

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MiraAI/mira-guide/engine/domain"
)

// Searcher is the slice of the knowledge service recommendations need.
type Searcher interface {
	Query(ctx context.Context, question, exhibitID string, topK int) (domain.RetrievalResult, error)
}

// RelatedContext is a short grounding snippet from another exhibit.
type RelatedContext struct {
	ExhibitID string `json:"exhibit_id"`
	Snippet   string `json:"snippet"`
}

const snippetRunes = 200

// Recommend pulls short context snippets for exhibits the question mentions
// beyond the active one. Retrieval failures drop the mention silently; this
// is enrichment, not grounding.
func Recommend(ctx context.Context, search Searcher, activeExhibit, question string, logger *slog.Logger) []RelatedContext {
	if logger == nil {
		logger = slog.Default()
	}

	var out []RelatedContext
	for _, m := range Extract(question) {
		if m.ExhibitID == activeExhibit || m.Confidence < 0.5 {
			continue
		}
		hits, err := search.Query(ctx, question, m.ExhibitID, 2)
		if err != nil {
			logger.Warn("related-exhibit retrieval skipped", "exhibit_id", m.ExhibitID, "err", err)
			continue
		}
		if len(hits) == 0 {
			continue
		}
		out = append(out, RelatedContext{
			ExhibitID: m.ExhibitID,
			Snippet:   truncateRunes(hits[0].Chunk.Text, snippetRunes),
		})
	}
	return out
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
