package knowledge

// Chunker splits exhibit text into fixed-size rune windows. Consecutive
// windows share Overlap runes so sentences crossing a boundary survive in
// at least one chunk.
type Chunker struct {
	Size    int
	Overlap int
}

// DefaultChunker matches the curator tooling: 600-rune windows, 100 shared.
var DefaultChunker = Chunker{Size: 600, Overlap: 100}

// Split windows the text. The final window may be shorter than Size; empty
// input yields no chunks.
func (c Chunker) Split(text string) []string {
	if c.Size <= 0 {
		return nil
	}
	stride := c.Size - c.Overlap
	if stride <= 0 {
		stride = c.Size
	}

	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += stride {
		end := i + c.Size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}
