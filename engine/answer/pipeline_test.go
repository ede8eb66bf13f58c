package answer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MiraAI/mira-guide/engine/domain"
	"github.com/MiraAI/mira-guide/engine/memory"
)

// --- fakes ---

type fakeRetriever struct {
	hits domain.RetrievalResult
	err  error
	topK int
}

func (f *fakeRetriever) Query(_ context.Context, _, _ string, topK int) (domain.RetrievalResult, error) {
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

type fakeGenerator struct {
	replies []string
	errs    []error
	prompts []string
}

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	i := len(f.prompts)
	f.prompts = append(f.prompts, prompt)
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.replies) {
		return f.replies[i], nil
	}
	return "cevap", nil
}

type fakeMemory struct {
	profile  domain.VisitorProfile
	loadErr  error
	merged   []memory.Facts
	mergeErr error
}

func (f *fakeMemory) Load(_ context.Context, id string) (domain.VisitorProfile, error) {
	if f.loadErr != nil {
		return domain.VisitorProfile{}, f.loadErr
	}
	p := f.profile
	p.VisitorID = id
	return p, nil
}

func (f *fakeMemory) Merge(_ context.Context, id string, facts memory.Facts) (domain.VisitorProfile, error) {
	if f.mergeErr != nil {
		return domain.VisitorProfile{}, f.mergeErr
	}
	f.merged = append(f.merged, facts)
	p := f.profile
	p.VisitorID = id
	if facts.VisitedExhibit != "" {
		p.VisitedExhibits = append(p.VisitedExhibits, facts.VisitedExhibit)
	}
	return p, nil
}

func hit(exhibitID, text string, score float32) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.ExhibitChunk{ExhibitID: exhibitID, Text: text},
		Score: score,
	}
}

// --- tests ---

func TestAnswer_GroundedHappyPath(t *testing.T) {
	ret := &fakeRetriever{hits: domain.RetrievalResult{
		hit("mona_lisa", "Painted by Leonardo da Vinci around 1503.", 0.91),
	}}
	gen := &fakeGenerator{replies: []string{"Leonardo da Vinci tarafından yapılmıştır."}}
	svc := NewService(ret, gen, nil, nil)

	res, err := svc.Answer(context.Background(), domain.AnswerRequest{
		Question:  "Mona Lisa kimin eseri?",
		ExhibitID: "mona_lisa",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Answer != "Leonardo da Vinci tarafından yapılmıştır." {
		t.Errorf("answer = %q", res.Answer)
	}
	if res.Sources != 1 {
		t.Errorf("sources = %d", res.Sources)
	}
	if !strings.Contains(gen.prompts[0], "Leonardo da Vinci around 1503") {
		t.Error("prompt missing the retrieved passage")
	}
	if !strings.Contains(gen.prompts[0], "Active exhibit: mona_lisa") {
		t.Error("prompt missing exhibit-mode rules")
	}
}

func TestAnswer_EmptyQuestionIsInvalidRequest(t *testing.T) {
	svc := NewService(&fakeRetriever{}, &fakeGenerator{}, nil, nil)
	_, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "   "})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAnswer_RetrievalFailureDegradesGracefully(t *testing.T) {
	ret := &fakeRetriever{err: fmt.Errorf("%w: qdrant down", domain.ErrStoreUnavailable)}
	gen := &fakeGenerator{replies: []string{"Elimde kaynak yok ama bildiğim kadarıyla..."}}
	svc := NewService(ret, gen, nil, nil)

	res, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "Mona Lisa nedir?"})
	if err != nil {
		t.Fatalf("retrieval failure must not fail the request: %v", err)
	}
	if res.Sources != 0 {
		t.Errorf("sources = %d, want 0", res.Sources)
	}
	if !strings.Contains(gen.prompts[0], "No reference passages") {
		t.Error("prompt should flag the missing grounding")
	}
}

func TestAnswer_GenerationFailureSurfaces(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("all credentials exhausted")}}
	svc := NewService(&fakeRetriever{}, gen, nil, nil)

	_, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "Mona Lisa nedir?"})
	if !errors.Is(err, domain.ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
}

func TestAnswer_HistoryIsFIFOBounded(t *testing.T) {
	gen := &fakeGenerator{}
	svc := NewService(&fakeRetriever{}, gen, nil, nil)

	history := make([]domain.ConversationTurn, 0, 14)
	for i := 0; i < 7; i++ {
		history = append(history,
			domain.ConversationTurn{Role: domain.RoleUser, Content: fmt.Sprintf("soru-%d", i)},
			domain.ConversationTurn{Role: domain.RoleAssistant, Content: fmt.Sprintf("cevap-%d", i)},
		)
	}

	_, err := svc.Answer(context.Background(), domain.AnswerRequest{
		Question: "peki ya bu?",
		History:  history,
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}

	prompt := gen.prompts[0]
	if strings.Contains(prompt, "soru-0") || strings.Contains(prompt, "cevap-1") {
		t.Error("oldest turns should be dropped from the prompt")
	}
	if !strings.Contains(prompt, "cevap-6") {
		t.Error("newest turn missing from the prompt")
	}
	// 14 turns, bound is 10: entries before soru-2 are gone, soru-2 survives.
	if !strings.Contains(prompt, "soru-2") {
		t.Error("turn at the bound boundary missing")
	}
}

func TestAnswer_RetrievalDepthFollowsQuestionType(t *testing.T) {
	tests := []struct {
		question string
		depth    int
	}{
		{"Mona Lisa kimin eseri?", 4},
		{"Bana bu tablonun hikayesini anlat", 10},
		{"Bu müzedeki Van Gogh eserlerini listele", 12},
		{"Mona Lisa hakkında bilgi", 6},
	}
	for _, tt := range tests {
		ret := &fakeRetriever{}
		svc := NewService(ret, &fakeGenerator{}, nil, nil)
		if _, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: tt.question}); err != nil {
			t.Fatalf("answer %q: %v", tt.question, err)
		}
		if ret.topK != tt.depth {
			t.Errorf("%q retrieved topK=%d, want %d", tt.question, ret.topK, tt.depth)
		}
	}
}

func TestAnswer_SourcesCappedAtMaxPassages(t *testing.T) {
	var hits domain.RetrievalResult
	for i := 0; i < 9; i++ {
		hits = append(hits, hit("mona_lisa", fmt.Sprintf("passage %d", i), float32(1)-float32(i)/10))
	}
	svc := NewService(&fakeRetriever{hits: hits}, &fakeGenerator{}, nil, nil)

	res, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "anlat bakalım"})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if res.Sources != maxPassages {
		t.Errorf("sources = %d, want %d", res.Sources, maxPassages)
	}
}

func TestAnswer_ExtractsAndMergesMemory(t *testing.T) {
	gen := &fakeGenerator{replies: []string{
		"Çok güzel bir soru Ayşe!",
		"```json\n{\"name\":\"Ayşe\",\"interests\":[\"rönesans\"],\"preferences\":{}}\n```",
	}}
	mem := &fakeMemory{}
	svc := NewService(&fakeRetriever{}, gen, nil, nil, WithMemory(mem))

	res, err := svc.Answer(context.Background(), domain.AnswerRequest{
		Question:  "Merhaba, ben Ayşe. Mona Lisa nedir?",
		ExhibitID: "mona_lisa",
		VisitorID: "v-1",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(mem.merged) != 1 {
		t.Fatalf("merged %d times, want 1", len(mem.merged))
	}
	facts := mem.merged[0]
	if facts.Name != "Ayşe" || len(facts.Interests) != 1 {
		t.Errorf("facts = %+v", facts)
	}
	if facts.VisitedExhibit != "mona_lisa" {
		t.Errorf("visited exhibit = %q", facts.VisitedExhibit)
	}
	if res.ProfileSummary == "" {
		t.Error("profile summary missing from result")
	}
}

func TestAnswer_ExtractionFailureStillRecordsVisit(t *testing.T) {
	gen := &fakeGenerator{
		replies: []string{"cevap", "this is not json"},
	}
	mem := &fakeMemory{}
	svc := NewService(&fakeRetriever{}, gen, nil, nil, WithMemory(mem))

	_, err := svc.Answer(context.Background(), domain.AnswerRequest{
		Question:  "Mona Lisa nedir?",
		ExhibitID: "mona_lisa",
		VisitorID: "v-1",
	})
	if err != nil {
		t.Fatalf("extraction failure must not surface: %v", err)
	}
	if len(mem.merged) != 1 || mem.merged[0].VisitedExhibit != "mona_lisa" {
		t.Errorf("visit not recorded despite extraction failure: %v", mem.merged)
	}
}

func TestAnswer_NoVisitorSkipsExtraction(t *testing.T) {
	gen := &fakeGenerator{}
	mem := &fakeMemory{}
	svc := NewService(&fakeRetriever{}, gen, nil, nil, WithMemory(mem))

	if _, err := svc.Answer(context.Background(), domain.AnswerRequest{Question: "soru"}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if len(gen.prompts) != 1 {
		t.Errorf("extraction call happened without a visitor: %d prompts", len(gen.prompts))
	}
	if len(mem.merged) != 0 {
		t.Errorf("merge happened without a visitor")
	}
}

func TestAnswer_ProfileHintsReachThePrompt(t *testing.T) {
	gen := &fakeGenerator{replies: []string{"cevap", `{"name":"","interests":[],"preferences":{}}`}}
	mem := &fakeMemory{profile: domain.VisitorProfile{
		Name:      "Mehmet",
		Interests: []string{"heykel"},
	}}
	svc := NewService(&fakeRetriever{}, gen, nil, nil, WithMemory(mem))

	_, err := svc.Answer(context.Background(), domain.AnswerRequest{
		Question:  "Düşünen Adam nerede?",
		VisitorID: "v-1",
	})
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !strings.Contains(gen.prompts[0], "Mehmet") || !strings.Contains(gen.prompts[0], "heykel") {
		t.Error("profile hints missing from prompt")
	}
}

func TestDetectQuestionType(t *testing.T) {
	tests := []struct {
		q    string
		want domain.QuestionType
	}{
		{"Mona Lisa'yı kim yaptı?", domain.QuestionShort},
		{"who painted this", domain.QuestionShort},
		{"bana hikayesini anlat", domain.QuestionDetailed},
		{"tell me about the artist", domain.QuestionDetailed},
		{"müzedeki eserleri listele", domain.QuestionList},
		{"which ones are from the renaissance", domain.QuestionList},
		{"bu tablo güzel mi", domain.QuestionMedium},
	}
	for _, tt := range tests {
		if got := DetectQuestionType(tt.q); got != tt.want {
			t.Errorf("DetectQuestionType(%q) = %s, want %s", tt.q, got, tt.want)
		}
	}
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"{\"a\":1}", "{\"a\":1}"},
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"  {\"a\":1}  ", "{\"a\":1}"},
	}
	for _, tt := range tests {
		if got := stripFences(tt.in); got != tt.want {
			t.Errorf("stripFences(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
