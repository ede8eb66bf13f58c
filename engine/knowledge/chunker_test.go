package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestChunkerWindows(t *testing.T) {
	c := DefaultChunker
	text := strings.Repeat("a", 1500)

	chunks := c.Split(text)

	// Stride 500 over 1500 runes: windows at 0, 500, 1000.
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if len(chunks[0]) != 600 || len(chunks[1]) != 600 {
		t.Errorf("full window sizes = %d, %d, want 600", len(chunks[0]), len(chunks[1]))
	}
	if len(chunks[2]) != 500 {
		t.Errorf("final window = %d runes, want 500", len(chunks[2]))
	}
}

func TestChunkerOverlapSharesTail(t *testing.T) {
	c := Chunker{Size: 10, Overlap: 4}
	text := "abcdefghijklmnopqrst"

	chunks := c.Split(text)

	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want at least 2", len(chunks))
	}
	tail := chunks[0][len(chunks[0])-4:]
	if !strings.HasPrefix(chunks[1], tail) {
		t.Errorf("window 1 %q does not start with window 0 tail %q", chunks[1], tail)
	}
}

func TestChunkerShortInput(t *testing.T) {
	chunks := DefaultChunker.Split("kısa metin")
	if len(chunks) != 1 || chunks[0] != "kısa metin" {
		t.Errorf("chunks = %v, want the input unchanged", chunks)
	}
}

func TestChunkerEmptyInput(t *testing.T) {
	if chunks := DefaultChunker.Split(""); chunks != nil {
		t.Errorf("chunks = %v, want nil", chunks)
	}
}

func TestChunkerRuneBoundaries(t *testing.T) {
	c := Chunker{Size: 5, Overlap: 2}
	text := strings.Repeat("ğüşiö", 4)

	for i, chunk := range c.Split(text) {
		if !utf8.ValidString(chunk) {
			t.Errorf("chunk %d is not valid UTF-8: %q", i, chunk)
		}
	}
}

func TestChunkerDegenerateOverlap(t *testing.T) {
	// Overlap >= Size would loop forever with a naive stride; it falls back
	// to non-overlapping windows.
	c := Chunker{Size: 4, Overlap: 8}
	chunks := c.Split("abcdefgh")
	if len(chunks) != 2 {
		t.Fatalf("chunks = %v, want two non-overlapping windows", chunks)
	}
}
