package domain

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Exhibit ids are lowercase slugs, e.g. "mona_lisa".
var exhibitIDRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

const (
	maxQuestionRunes = 2000
	// Polly rejects requests above 3000 characters; keep headroom for SSML.
	maxSpeechRunes = 2800
)

// ValidateAnswerRequest checks a visitor question before pipeline entry.
func ValidateAnswerRequest(req AnswerRequest) error {
	q := strings.TrimSpace(req.Question)
	if q == "" {
		return NewValidationError("question", q, ErrQuestionEmpty)
	}
	if utf8.RuneCountInString(q) > maxQuestionRunes {
		return NewValidationError("question", truncateRunes(q, 32), ErrQuestionTooLong)
	}
	if hasControlChars(q) {
		return NewValidationError("question", q, ErrQuestionEmpty)
	}
	if req.ExhibitID != "" && !exhibitIDRegex.MatchString(req.ExhibitID) {
		return NewValidationError("exhibit_id", req.ExhibitID, ErrInvalidExhibit)
	}
	for _, turn := range req.History {
		if turn.Role != RoleUser && turn.Role != RoleAssistant {
			return NewValidationError("history.role", turn.Role, ErrInvalidRole)
		}
	}
	return nil
}

// ValidateIngest checks an ingestion payload. Source is optional but must be
// a recognised source when set.
func ValidateIngest(job IngestJob) error {
	if !exhibitIDRegex.MatchString(job.ExhibitID) {
		return NewValidationError("exhibit_id", job.ExhibitID, ErrInvalidExhibit)
	}
	if strings.TrimSpace(job.Text) == "" {
		return NewValidationError("text", "", ErrTextEmpty)
	}
	if job.Source != "" && !validSource(job.Source) {
		return NewValidationError("source", job.Source, ErrInvalidRequest)
	}
	return nil
}

// ValidateSpeechText checks text bound for synthesis.
func ValidateSpeechText(text string) error {
	t := strings.TrimSpace(text)
	if t == "" {
		return NewValidationError("text", t, ErrTextEmpty)
	}
	if utf8.RuneCountInString(t) > maxSpeechRunes {
		return NewValidationError("text", truncateRunes(t, 32), ErrTextTooLong)
	}
	return nil
}

// truncateRunes shortens s to at most n runes without cutting mid-rune.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// hasControlChars reports whether s contains non-printable control runes
// other than ordinary whitespace.
func hasControlChars(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r' {
			return true
		}
	}
	return false
}
