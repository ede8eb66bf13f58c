package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/exhibits"
	"github.com/MiraAI/mira-guide/engine/speech"
	"github.com/MiraAI/mira-guide/pkg/fn"
	"github.com/MiraAI/mira-guide/pkg/llm"
	"github.com/MiraAI/mira-guide/pkg/tts"
)

// Narrow views of the engine services, so handlers are testable with fakes.

type answerer interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (domain.AnswerResult, error)
}

type knowledgeAPI interface {
	Ingest(ctx context.Context, job domain.IngestJob) (int, error)
	Purge(ctx context.Context, exhibitID string) (int, error)
	ChunkTotal(ctx context.Context) (uint64, error)
}

type registryAPI interface {
	ByCode(ctx context.Context, code string) (exhibits.Exhibit, error)
	List(ctx context.Context, category string, offset, limit int) ([]exhibits.Exhibit, error)
	Related(ctx context.Context, id string, limit int) ([]exhibits.Exhibit, error)
	Remove(ctx context.Context, id string) error
	Stats(ctx context.Context) (exhibits.Stats, error)
}

type memoryAPI interface {
	Load(ctx context.Context, visitorID string) (domain.VisitorProfile, error)
	Forget(ctx context.Context, visitorID string) error
}

// frameSource subscribes a handler to a session's animation frames and
// returns an unsubscribe func.
type frameSource interface {
	Frames(sessionID string, handler func(speech.Frame)) (func(), error)
}

type serverDeps struct {
	answers     answerer
	transcriber *ringTranscriber
	knowledge   knowledgeAPI
	registry    registryAPI
	memory      memoryAPI
	sessions    *sessionRegistry
	frames      frameSource
	ringStatus  func() llm.RingStatus
	logger      *slog.Logger
}

type server struct {
	serverDeps
	visitors *visitorLocks
	started  time.Time
}

func newServer(deps serverDeps) *server {
	if deps.logger == nil {
		deps.logger = slog.Default()
	}
	return &server{
		serverDeps: deps,
		visitors:   newVisitorLocks(),
		started:    time.Now(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/answer", s.handleAnswer)
	mux.HandleFunc("POST /api/v1/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/v1/speech", s.handleSpeak)
	mux.HandleFunc("DELETE /api/v1/speech/{session}", s.handleSpeechCancel)
	mux.HandleFunc("GET /api/v1/speech/{session}/frames", s.handleFrames)
	mux.HandleFunc("GET /api/v1/exhibits", s.handleExhibits)
	mux.HandleFunc("GET /api/v1/exhibits/{code}", s.handleExhibit)
	mux.HandleFunc("GET /api/v1/exhibits/{code}/related", s.handleRelated)
	mux.HandleFunc("DELETE /api/v1/exhibits/{code}", s.handleExhibitRemove)
	mux.HandleFunc("DELETE /api/v1/exhibits/{code}/chunks", s.handlePurge)
	mux.HandleFunc("POST /api/v1/ingest", s.handleIngest)
	mux.HandleFunc("GET /api/v1/visitors/{id}", s.handleVisitor)
	mux.HandleFunc("DELETE /api/v1/visitors/{id}", s.handleVisitorForget)
	return mux
}

// --- responses ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the domain taxonomy onto HTTP statuses. Generation
// failures get a visitor-friendly apology instead of internals.
func (s *server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, domain.ErrAuthRequired):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "synthesis credentials rejected"})
	case errors.Is(err, domain.ErrGenerationFailed):
		s.logger.Error("generation failed", "err", err)
		writeJSON(w, http.StatusBadGateway, errorBody{Error: "I could not think of an answer right now, please try again in a moment."})
	case errors.Is(err, domain.ErrSynthesisUnavailable), errors.Is(err, domain.ErrStoreUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "service temporarily unavailable"})
	default:
		s.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error"})
	}
}

func decode[T any](w http.ResponseWriter, r *http.Request, v *T) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

// --- handlers ---

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req domain.AnswerRequest
	if !decode(w, r, &req) {
		return
	}

	// One answer at a time per visitor; concurrent requests queue here.
	unlock := s.visitors.lock(req.VisitorID)
	defer unlock()

	result, err := s.answers.Answer(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type transcribeRequest struct {
	AudioB64 string `json:"audio_b64"`
	Mime     string `json:"mime"`
}

func (s *server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if !decode(w, r, &req) {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.AudioB64)
	if err != nil || len(audio) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid audio payload"})
		return
	}

	text, err := s.transcriber.Transcribe(r.Context(), audio, req.Mime)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type speakRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
}

type speakResponse struct {
	SessionID  string `json:"session_id"`
	DurationMS int64  `json:"duration_ms"`
	Visemes    int    `json:"visemes"`
	AudioB64   string `json:"audio_b64"`
	SampleRate int    `json:"sample_rate"`
}

func (s *server) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if !decode(w, r, &req) {
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	sched := s.sessions.get(req.SessionID)
	utt, err := sched.Speak(r.Context(), req.Text, speech.VoiceByName(req.Voice))
	if err != nil {
		s.writeError(w, err)
		return
	}

	wav := tts.WrapWAV(utt.Synthesis.Audio, utt.Synthesis.SampleRate)
	writeJSON(w, http.StatusOK, speakResponse{
		SessionID:  req.SessionID,
		DurationMS: utt.Duration.Milliseconds(),
		Visemes:    utt.VisemeCount,
		AudioB64:   base64.StdEncoding.EncodeToString(wav),
		SampleRate: utt.Synthesis.SampleRate,
	})
}

func (s *server) handleSpeechCancel(w http.ResponseWriter, r *http.Request) {
	s.sessions.stop(r.PathValue("session"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleFrames(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	frames := make(chan speech.Frame, 64)
	unsubscribe, err := s.frames.Frames(sessionID, func(f speech.Frame) {
		select {
		case frames <- f:
		default: // slow client, drop the frame
		}
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	enc := json.NewEncoder(w)
	for {
		select {
		case <-r.Context().Done():
			return
		case f := <-frames:
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(f); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// exhibitRow is the listing shape; the detail endpoint carries the full
// record, summary included.
type exhibitRow struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Title    string `json:"title"`
	Artist   string `json:"artist,omitempty"`
	Category string `json:"category,omitempty"`
}

func (s *server) handleExhibits(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	items, err := s.registry.List(r.Context(), q.Get("category"), offset, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows := fn.Map(items, func(e exhibits.Exhibit) exhibitRow {
		return exhibitRow{ID: e.ID, Code: e.Code, Title: e.Title, Artist: e.Artist, Category: e.Category}
	})
	writeJSON(w, http.StatusOK, map[string]any{"exhibits": rows, "count": len(rows)})
}

// handleExhibitRemove retires an exhibit: its chunks leave the index
// before the registry node goes, so retrieval never outlives the record.
func (s *server) handleExhibitRemove(w http.ResponseWriter, r *http.Request) {
	code, err := exhibits.ParseCode(r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.registry.ByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	purged, err := s.knowledge.Purge(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.registry.Remove(r.Context(), e.ID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": e.ID, "purged": purged})
}

func (s *server) handleExhibit(w http.ResponseWriter, r *http.Request) {
	code, err := exhibits.ParseCode(r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.registry.ByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *server) handleRelated(w http.ResponseWriter, r *http.Request) {
	code, err := exhibits.ParseCode(r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.registry.ByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	related, err := s.registry.Related(r.Context(), e.ID, 5)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exhibit_id": e.ID, "related": related})
}

type ingestRequest struct {
	ExhibitID string `json:"exhibit_id"`
	Text      string `json:"text"`
	Source    string `json:"source,omitempty"`
}

func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := s.knowledge.Ingest(r.Context(), domain.IngestJob{
		ExhibitID: req.ExhibitID,
		Text:      req.Text,
		Source:    req.Source,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"chunks": n})
}

func (s *server) handlePurge(w http.ResponseWriter, r *http.Request) {
	code, err := exhibits.ParseCode(r.PathValue("code"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	e, err := s.registry.ByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.knowledge.Purge(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"purged": n})
}

func (s *server) handleVisitor(w http.ResponseWriter, r *http.Request) {
	profile, err := s.memory.Load(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (s *server) handleVisitorForget(w http.ResponseWriter, r *http.Request) {
	if err := s.memory.Forget(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type statusResponse struct {
	Credentials llm.RingStatus `json:"credentials"`
	Chunks      uint64         `json:"chunks"`
	Exhibits    exhibits.Stats `json:"exhibits"`
	UptimeS     int64          `json:"uptime_s"`
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{UptimeS: int64(time.Since(s.started).Seconds())}
	if s.ringStatus != nil {
		resp.Credentials = s.ringStatus()
	}
	if n, err := s.knowledge.ChunkTotal(r.Context()); err == nil {
		resp.Chunks = n
	} else {
		s.logger.Warn("chunk total unavailable", "err", err)
	}
	if stats, err := s.registry.Stats(r.Context()); err == nil {
		resp.Exhibits = stats
	} else {
		s.logger.Warn("registry stats unavailable", "err", err)
	}
	writeJSON(w, http.StatusOK, resp)
}
