// Package answer runs the question-to-answer pipeline: validate, retrieve
// grounding passages, compose the prompt, generate, and extract visitor
// memory. Retrieval and extraction are enrichment and never fail a request;
// generation is essential and surfaces ErrGenerationFailed when the
// credential ring is exhausted.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/exhibits"
	"github.com/MiraAI/mira-guide/engine/memory"
	"github.com/MiraAI/mira-guide/pkg/metrics"
)

// Pipeline states, exported through the state-transition metric and debug
// logs only.
const (
	stateReceived   = "received"
	stateRetrieving = "retrieving"
	stateComposing  = "composing"
	stateGenerating = "generating"
	stateExtracting = "extracting_memory"
	stateDone       = "done"
	stateFailed     = "failed"
)

// Retriever is the knowledge-store slice the pipeline needs.
type Retriever interface {
	Query(ctx context.Context, question, exhibitID string, topK int) (domain.RetrievalResult, error)
}

// Generator runs a prompt through the rotating credential ring.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// MemoryStore is the visitor-memory slice the pipeline needs.
type MemoryStore interface {
	Load(ctx context.Context, visitorID string) (domain.VisitorProfile, error)
	Merge(ctx context.Context, visitorID string, facts memory.Facts) (domain.VisitorProfile, error)
}

// StatsSource supplies the museum-stats context line.
type StatsSource interface {
	Stats(ctx context.Context) (exhibits.Stats, error)
}

// Service orchestrates one answer per call. Safe for concurrent use across
// visitors; per-visitor serialization is the HTTP layer's job.
type Service struct {
	retriever Retriever
	generator Generator
	mem       MemoryStore
	stats     StatsSource
	logger    *slog.Logger

	transitions func(state string) *metrics.Counter
	answered    *metrics.Counter
	degraded    *metrics.Counter
}

// ServiceOption customizes the pipeline.
type ServiceOption func(*Service)

// WithMemory attaches the visitor memory store. Without it the extraction
// stage is skipped entirely.
func WithMemory(mem MemoryStore) ServiceOption {
	return func(s *Service) { s.mem = mem }
}

// WithStats attaches the registry stats source for collection questions.
func WithStats(src StatsSource) ServiceOption {
	return func(s *Service) { s.stats = src }
}

// NewService creates the answer pipeline. reg may be nil.
func NewService(retriever Retriever, generator Generator, logger *slog.Logger, reg *metrics.Registry, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		retriever: retriever,
		generator: generator,
		logger:    logger,
	}
	if reg != nil {
		s.transitions = func(state string) *metrics.Counter {
			return reg.Counter(
				metrics.WithLabels("answer_state_transitions_total", "state", state),
				"Pipeline state transitions")
		}
		s.answered = reg.Counter("answer_requests_total", "Questions answered")
		s.degraded = reg.Counter("answer_ungrounded_total", "Answers produced without retrieval grounding")
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) enter(state string, req domain.AnswerRequest) {
	if s.transitions != nil {
		s.transitions(state).Inc()
	}
	s.logger.Debug("pipeline state", "state", state,
		"exhibit_id", req.ExhibitID, "visitor_id", req.VisitorID)
}

// Answer runs the full pipeline for one request.
func (s *Service) Answer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerResult, error) {
	s.enter(stateReceived, req)
	if err := domain.ValidateAnswerRequest(req); err != nil {
		s.enter(stateFailed, req)
		return domain.AnswerResult{}, err
	}

	qtype := DetectQuestionType(req.Question)

	s.enter(stateRetrieving, req)
	retrieved := s.retrieve(ctx, req, qtype)

	s.enter(stateComposing, req)
	in := promptInput{
		question:  req.Question,
		qtype:     qtype,
		exhibitID: req.ExhibitID,
		retrieved: retrieved,
		history:   req.History,
	}
	if s.mem != nil && req.VisitorID != "" {
		profile, err := s.mem.Load(ctx, req.VisitorID)
		if err != nil {
			s.logger.Warn("profile load skipped", "visitor_id", req.VisitorID, "err", err)
		} else {
			in.profile = profile
		}
	}
	if s.stats != nil && isStatsQuestion(req.Question) {
		if stats, err := s.stats.Stats(ctx); err == nil {
			in.statsLine = formatStats(stats)
		} else {
			s.logger.Warn("stats line skipped", "err", err)
		}
	}
	if exhibits.HasComparisonIntent(req.Question) {
		in.related = exhibits.Recommend(ctx, s.retriever, req.ExhibitID, req.Question, s.logger)
	}
	prompt := composePrompt(in)

	s.enter(stateGenerating, req)
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.enter(stateFailed, req)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return domain.AnswerResult{}, err
		}
		return domain.AnswerResult{}, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	result := domain.AnswerResult{
		Answer:       text,
		QuestionType: qtype,
		Sources:      min(len(retrieved), maxPassages),
	}

	s.enter(stateExtracting, req)
	if summary := s.rememberVisitor(ctx, req, text); summary != "" {
		result.ProfileSummary = summary
	}

	s.enter(stateDone, req)
	if s.answered != nil {
		s.answered.Inc()
	}
	return result, nil
}

// retrieve queries the knowledge store. Every failure degrades to an empty
// result; an ungrounded answer beats no answer.
func (s *Service) retrieve(ctx context.Context, req domain.AnswerRequest, qtype domain.QuestionType) domain.RetrievalResult {
	hits, err := s.retriever.Query(ctx, req.Question, req.ExhibitID, retrievalDepth(qtype))
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			s.logger.Warn("unexpected retrieval error, degrading anyway", "err", err)
		}
		if s.degraded != nil {
			s.degraded.Inc()
		}
		return nil
	}
	return hits
}

// rememberVisitor extracts and merges visitor facts. Failures are logged
// and swallowed; personalization never blocks answer delivery. The active
// exhibit is recorded as visited even when extraction fails.
func (s *Service) rememberVisitor(ctx context.Context, req domain.AnswerRequest, reply string) string {
	if s.mem == nil || req.VisitorID == "" {
		return ""
	}

	facts, err := s.extractFacts(ctx, req.Question, reply)
	if err != nil {
		s.logger.Warn("memory extraction failed", "visitor_id", req.VisitorID, "err", err)
		facts = memory.Facts{}
	}
	if req.ExhibitID != "" {
		facts.VisitedExhibit = req.ExhibitID
	}
	if facts.Empty() {
		return ""
	}

	profile, err := s.mem.Merge(ctx, req.VisitorID, facts)
	if err != nil {
		s.logger.Warn("memory merge failed", "visitor_id", req.VisitorID, "err", err)
		return ""
	}
	return profile.Summary()
}
