// Package embed turns text into vectors for the knowledge index. Both
// implementations speak plain HTTP; callers decide how failures degrade.
package embed

import "context"

// Embedder produces a fixed-dimension vector per input text. The same text
// must always embed to the same vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}
