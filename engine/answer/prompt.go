package answer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/exhibits"
)

const persona = `You are Mira, a warm and knowledgeable museum guide.
Answer in the visitor's language. Ground every fact in the reference
passages below; when the passages do not cover the question, say you are
not sure instead of inventing. Stay with the exhibit the visitor is viewing
unless they ask to compare it with another work.`

const exhibitModeRules = `The visitor is standing in front of this exhibit.
Keep the answer focused on it; mention other works only if the visitor
asked about them.`

const (
	// maxPassages caps the context block regardless of retrieval depth.
	maxPassages = 5
	// maxPassageRunes keeps one passage at roughly 500 tokens.
	maxPassageRunes = 2000
)

// promptInput carries everything the composer folds into one prompt.
type promptInput struct {
	question  string
	qtype     domain.QuestionType
	exhibitID string
	retrieved domain.RetrievalResult
	history   []domain.ConversationTurn
	profile   domain.VisitorProfile
	statsLine string
	related   []exhibits.RelatedContext
}

// composePrompt builds the grounded prompt: persona, exhibit rules,
// passages most relevant first, optional stats and cross-exhibit context,
// profile hints, bounded history, the question, and a length instruction.
func composePrompt(in promptInput) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")

	if in.exhibitID != "" {
		fmt.Fprintf(&b, "Active exhibit: %s\n%s\n\n", in.exhibitID, exhibitModeRules)
	}

	if len(in.retrieved) > 0 {
		b.WriteString("Reference passages (most relevant first):\n")
		for i, hit := range in.retrieved {
			if i >= maxPassages {
				break
			}
			fmt.Fprintf(&b, "[%d] (exhibit: %s, score: %.3f)\n%s\n\n",
				i+1, hit.Chunk.ExhibitID, hit.Score, trimPassage(hit.Chunk.Text))
		}
	} else {
		b.WriteString("No reference passages are available; answer from general knowledge and say so.\n\n")
	}

	if in.statsLine != "" {
		fmt.Fprintf(&b, "Museum collection: %s\n\n", in.statsLine)
	}

	if len(in.related) > 0 {
		b.WriteString("Context on other works the visitor mentioned:\n")
		for _, rc := range in.related {
			fmt.Fprintf(&b, "- %s: %s\n", rc.ExhibitID, rc.Snippet)
		}
		b.WriteString("\n")
	}

	if hints := in.profile.Summary(); hints != "" {
		fmt.Fprintf(&b, "What you know about this visitor: %s\n\n", hints)
	}

	if history := boundHistory(in.history); len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, turn := range history {
			label := "Visitor"
			if turn.Role == domain.RoleAssistant {
				label = "Guide"
			}
			fmt.Fprintf(&b, "%s: %s\n", label, turn.Content)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "Visitor: %s\n\n%s", in.question, lengthInstruction(in.qtype))
	return b.String()
}

// boundHistory keeps the most recent MaxHistoryTurns turns, oldest dropped
// first.
func boundHistory(history []domain.ConversationTurn) []domain.ConversationTurn {
	if len(history) <= domain.MaxHistoryTurns {
		return history
	}
	return history[len(history)-domain.MaxHistoryTurns:]
}

func trimPassage(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= maxPassageRunes {
		return string(runes)
	}
	return string(runes[:maxPassageRunes]) + "…"
}

// statsQuestion reports whether the visitor is asking about the collection
// itself rather than one work.
var statsWords = []string{
	"kaç eser", "kaç tablo", "koleksiyon", "müzede kaç",
	"how many works", "how many paintings", "collection size", "how many exhibits",
}

func isStatsQuestion(question string) bool {
	q := strings.ToLower(question)
	for _, w := range statsWords {
		if strings.Contains(q, w) {
			return true
		}
	}
	return false
}

// formatStats renders registry stats as one prompt line.
func formatStats(s exhibits.Stats) string {
	if s.Total == 0 {
		return ""
	}
	parts := make([]string, 0, len(s.ByCategory))
	for _, cat := range sortedKeys(s.ByCategory) {
		parts = append(parts, fmt.Sprintf("%d %s", s.ByCategory[cat], cat))
	}
	return fmt.Sprintf("%d works in total (%s)", s.Total, strings.Join(parts, ", "))
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
