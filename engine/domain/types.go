// Package domain defines core domain types, constants, and validation for the
// Mira guide engine. It acts as the validation gate at pipeline entry points.
package domain

// ExhibitChunk is one bounded segment of an exhibit's source text, stored with
// its embedding for retrieval. Chunks are immutable once ingested and belong
// to exactly one exhibit.
type ExhibitChunk struct {
	ID        string    `json:"id"`
	ExhibitID string    `json:"exhibit_id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	Seq       int       `json:"seq"`
	Source    string    `json:"source,omitempty"`
}

// ScoredChunk pairs a retrieved chunk with its similarity score.
type ScoredChunk struct {
	Chunk ExhibitChunk `json:"chunk"`
	Score float32      `json:"score"`
}

// RetrievalResult is an ordered sequence of scored chunks, descending by score.
type RetrievalResult []ScoredChunk

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationTurn is one turn of visitor/guide dialogue. History is held by
// the caller and never persisted server-side.
type ConversationTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// MaxHistoryTurns bounds how much conversation history enters a prompt.
// Older turns are dropped first.
const MaxHistoryTurns = 10

// QuestionType classifies how much detail a question is asking for.
type QuestionType string

const (
	QuestionShort    QuestionType = "short"
	QuestionMedium   QuestionType = "medium"
	QuestionDetailed QuestionType = "detailed"
	QuestionList     QuestionType = "list"
)

// ValidQuestionTypes is the set of recognised question types.
var ValidQuestionTypes = map[QuestionType]bool{
	QuestionShort: true, QuestionMedium: true,
	QuestionDetailed: true, QuestionList: true,
}

// AnswerRequest is a visitor question plus its surrounding context.
type AnswerRequest struct {
	Question  string             `json:"question"`
	ExhibitID string             `json:"exhibit_id,omitempty"`
	VisitorID string             `json:"visitor_id,omitempty"`
	History   []ConversationTurn `json:"history,omitempty"`
}

// AnswerResult is the pipeline's final output for one question.
type AnswerResult struct {
	Answer         string       `json:"answer"`
	QuestionType   QuestionType `json:"question_type"`
	Sources        int          `json:"sources"`
	ProfileSummary string       `json:"profile_summary,omitempty"`
}

// IngestJob is the payload of one ingestion request. ID is minted when the
// job is accepted; chunk point IDs derive from it, so redelivering the same
// job cannot double-append while two distinct jobs with identical text can.
type IngestJob struct {
	ID        string `json:"id"`
	ExhibitID string `json:"exhibit_id"`
	Source    string `json:"source,omitempty"`
	Text      string `json:"text"`
}
