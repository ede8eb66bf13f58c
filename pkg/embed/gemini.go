package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultEmbedModel = "text-embedding-004"

// Gemini embeds with the Generative Language embedContent API.
type Gemini struct {
	baseURL string
	model   string
	key     string
	client  *http.Client
}

// GeminiOption customizes the embedding client.
type GeminiOption func(*Gemini)

// WithModel overrides the embedding model.
func WithModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithBaseURL points the client at a test server.
func WithBaseURL(u string) GeminiOption {
	return func(g *Gemini) { g.baseURL = strings.TrimSuffix(u, "/") }
}

// NewGemini creates a Gemini embedding client with a fixed API key.
func NewGemini(key string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		baseURL: "https://generativelanguage.googleapis.com/v1beta",
		model:   defaultEmbedModel,
		key:     key,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

type geminiContent struct {
	Parts []struct {
		Text string `json:"text"`
	} `json:"parts"`
}

func textContent(text string) geminiContent {
	var c geminiContent
	c.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}
	return c
}

type embedContentReq struct {
	Model   string        `json:"model"`
	Content geminiContent `json:"content"`
}

type embedContentResp struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
}

type batchEmbedReq struct {
	Requests []embedContentReq `json:"requests"`
}

type batchEmbedResp struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

func (g *Gemini) post(ctx context.Context, endpoint string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("gemini embed: marshal: %w", err)
	}
	url := fmt.Sprintf("%s/models/%s:%s", g.baseURL, g.model, endpoint)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.key)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gemini embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("gemini embed: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gemini embed decode: %w", err)
	}
	return nil
}

// Embed implements Embedder.
func (g *Gemini) Embed(ctx context.Context, text string) ([]float32, error) {
	req := embedContentReq{Model: "models/" + g.model, Content: textContent(text)}
	var result embedContentResp
	if err := g.post(ctx, "embedContent", req, &result); err != nil {
		return nil, err
	}
	if len(result.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty vector")
	}
	return result.Embedding.Values, nil
}

// EmbedBatch implements Embedder using batchEmbedContents.
func (g *Gemini) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	batch := batchEmbedReq{Requests: make([]embedContentReq, len(texts))}
	for i, text := range texts {
		batch.Requests[i] = embedContentReq{Model: "models/" + g.model, Content: textContent(text)}
	}
	var result batchEmbedResp
	if err := g.post(ctx, "batchEmbedContents", batch, &result); err != nil {
		return nil, err
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d vectors for %d texts", len(result.Embeddings), len(texts))
	}
	out := make([][]float32, len(result.Embeddings))
	for i, e := range result.Embeddings {
		out[i] = e.Values
	}
	return out, nil
}
