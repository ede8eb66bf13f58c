package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MiraAI/mira-guide/pkg/metrics"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel = "gemini-2.0-flash"

	// Provider error bodies are only ever logged, no point holding megabytes.
	maxErrorBody = 4 << 10
)

// Gemini calls the Generative Language REST API. One instance serves every
// credential in the ring; the key travels per request.
type Gemini struct {
	baseURL     string
	model       string
	temperature float32
	maxTokens   int
	client      *http.Client

	requests     *metrics.Counter
	inputTokens  *metrics.Counter
	outputTokens *metrics.Counter
}

// GeminiOption customizes the client.
type GeminiOption func(*Gemini)

// WithGeminiModel overrides the default model.
func WithGeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithGeminiBaseURL points the client elsewhere, mainly at test servers.
func WithGeminiBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimSuffix(u, "/") }
}

// WithGeminiTemperature overrides the sampling temperature.
func WithGeminiTemperature(t float32) GeminiOption {
	return func(g *Gemini) { g.temperature = t }
}

// WithGeminiHTTPClient swaps the underlying HTTP client.
func WithGeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// NewGemini creates a Gemini client. reg may be nil to skip token accounting.
func NewGemini(reg *metrics.Registry, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		baseURL:     defaultGeminiBase,
		model:       defaultGeminiModel,
		temperature: 0.2,
		maxTokens:   1024,
		client:      &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	if reg != nil {
		g.requests = reg.Counter("llm_requests_total", "Requests sent to the model provider")
		g.inputTokens = reg.Counter(
			metrics.WithLabels("llm_tokens_total", "direction", "input"),
			"Tokens consumed by prompts")
		g.outputTokens = reg.Counter(
			metrics.WithLabels("llm_tokens_total", "direction", "output"),
			"Tokens produced by completions")
	}
	return g
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig *geminiGenConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, prompt string, cred Credential) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: &geminiGenConfig{
			Temperature:     g.temperature,
			MaxOutputTokens: g.maxTokens,
		},
	}
	return g.generateContent(ctx, req, cred)
}

// Transcribe sends audio as an inline part and asks the model for a verbatim
// transcript. mime is the audio container type, e.g. "audio/webm".
func (g *Gemini) Transcribe(ctx context.Context, audio []byte, mime string, cred Credential) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{
				{Text: "Transcribe this audio verbatim. Reply with the transcript only, no commentary."},
				{InlineData: &geminiInlineData{
					MimeType: mime,
					Data:     base64.StdEncoding.EncodeToString(audio),
				}},
			}},
		},
	}
	return g.generateContent(ctx, req, cred)
}

func (g *Gemini) generateContent(ctx context.Context, payload geminiRequest, cred Credential) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", cred.Key)

	if g.requests != nil {
		g.requests.Inc()
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &HTTPStatusError{Status: resp.StatusCode, Body: string(msg)}
	}

	var result geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}

	if g.inputTokens != nil {
		g.inputTokens.Add(result.UsageMetadata.PromptTokenCount)
		g.outputTokens.Add(result.UsageMetadata.CandidatesTokenCount)
	}

	if len(result.Candidates) == 0 {
		return "", fmt.Errorf("gemini: no candidates in response")
	}
	var b strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("gemini: empty completion (finish=%s)", result.Candidates[0].FinishReason)
	}
	return text, nil
}
