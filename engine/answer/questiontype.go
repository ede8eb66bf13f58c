package answer

import (
	"strings"

	"github.com/MiraAI/mira-guide/engine/domain"
)

// Keyword tables for question-type detection, Turkish first since that is
// the museum's house language.
var (
	listWords = []string{
		"listele", "hangileri", "sırala", "kaç tane", "neler var",
		"list", "which ones", "enumerate", "name all",
	}
	detailedWords = []string{
		"anlat", "detaylı", "ayrıntılı", "açıkla", "hikayesi", "tarihçesi",
		"explain", "tell me about", "describe", "in detail", "history of",
	}
	shortWords = []string{
		"kimdir", "kim yaptı", "kimin", "nedir", "ne zaman", "nerede", "hangi yıl",
		"who", "what is", "when", "where", "which year",
	}
)

// DetectQuestionType classifies how much detail a question wants. The type
// picks retrieval depth and the response-length instruction.
func DetectQuestionType(question string) domain.QuestionType {
	q := strings.ToLower(question)
	for _, w := range listWords {
		if strings.Contains(q, w) {
			return domain.QuestionList
		}
	}
	for _, w := range detailedWords {
		if strings.Contains(q, w) {
			return domain.QuestionDetailed
		}
	}
	for _, w := range shortWords {
		if strings.Contains(q, w) {
			return domain.QuestionShort
		}
	}
	return domain.QuestionMedium
}

// retrievalDepth maps question type to how many candidates to retrieve. The
// context block still caps at maxPassages regardless of depth.
func retrievalDepth(t domain.QuestionType) int {
	switch t {
	case domain.QuestionShort:
		return 4
	case domain.QuestionDetailed:
		return 10
	case domain.QuestionList:
		return 12
	default:
		return 6
	}
}

// lengthInstruction tells the model how long to answer.
func lengthInstruction(t domain.QuestionType) string {
	switch t {
	case domain.QuestionShort:
		return "Answer in one or two sentences."
	case domain.QuestionDetailed:
		return "Give a rich, multi-paragraph answer with the story behind the work."
	case domain.QuestionList:
		return "Answer as a concise list, one item per line."
	default:
		return "Answer in a short paragraph."
	}
}
