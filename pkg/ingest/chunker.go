package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/atriumhq/atrium/pkg/utils"
)

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 64

	// bytesPerToken sizes the byte-window fallback used when the token
	// encoding cannot be loaded, matching utils.EstimateTokens.
	bytesPerToken = 4
)

// Chunk is one window of a document, ordered by Index.
type Chunk struct {
	Content string
	Index   int
}

// ChunkerConfig sizes the token window.
type ChunkerConfig struct {
	// Size is the window size in tokens.
	Size int

	// Overlap is how many tokens of a chunk are repeated at the start of
	// the next one.
	Overlap int
}

// DefaultChunkerConfig returns the standard window: 512 tokens with a
// 64 token overlap.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{Size: defaultChunkSize, Overlap: defaultChunkOverlap}
}

// SetDefaults repairs unusable values.
func (c *ChunkerConfig) SetDefaults() {
	if c.Size <= 0 {
		c.Size = defaultChunkSize
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
}

// Validate checks the window parameters.
func (c ChunkerConfig) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Size)
	}
	if c.Overlap < 0 {
		return fmt.Errorf("chunk overlap must be non-negative, got %d", c.Overlap)
	}
	if c.Overlap >= c.Size {
		return fmt.Errorf("chunk overlap (%d) must be less than size (%d)", c.Overlap, c.Size)
	}
	return nil
}

// Chunker splits document text into token windows. Blank-line separated
// paragraphs are kept whole whenever they fit the window; only a paragraph
// larger than the whole window is cut at raw token boundaries.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker from configuration.
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunker config: %w", err)
	}
	return &Chunker{size: cfg.Size, overlap: cfg.Overlap}, nil
}

// Chunk splits text into windows of at most the configured token size.
// With a positive overlap each window opens with the trailing paragraphs of
// its predecessor, up to the overlap budget. Empty text yields no chunks.
func (c *Chunker) Chunk(text string) []Chunk {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if utils.CountTokens(text) <= c.size {
		return []Chunk{{Content: text, Index: 0}}
	}

	var (
		chunks  []Chunk
		current []string
	)
	emit := func(content string) {
		chunks = append(chunks, Chunk{Content: content, Index: len(chunks)})
	}
	flush := func() {
		if len(current) == 0 {
			return
		}
		emit(strings.Join(current, "\n\n"))

		// Carry trailing paragraphs into the next window up to the
		// overlap budget.
		var seed []string
		seedTokens := 0
		for i := len(current) - 1; i >= 0; i-- {
			n := utils.CountTokens(current[i])
			if seedTokens+n > c.overlap {
				break
			}
			seed = append([]string{current[i]}, seed...)
			seedTokens += n
		}
		current = seed
	}

	for _, para := range splitParagraphs(text) {
		if utils.CountTokens(para) > c.size {
			flush()
			current = nil
			for _, piece := range c.splitByTokens(para) {
				emit(piece)
			}
			continue
		}
		if len(current) > 0 && utils.CountTokens(strings.Join(append(current, para), "\n\n")) > c.size {
			flush()
			// The seed alone may not leave room for the paragraph.
			if len(current) > 0 && utils.CountTokens(strings.Join(append(current, para), "\n\n")) > c.size {
				current = nil
			}
		}
		current = append(current, para)
	}
	if len(current) > 0 {
		emit(strings.Join(current, "\n\n"))
	}
	return chunks
}

// splitParagraphs splits on blank lines and drops empty segments.
func splitParagraphs(text string) []string {
	var paragraphs []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

// splitByTokens cuts text into windows of size tokens stepping by
// size-overlap. When the encoding is unavailable it falls back to byte
// windows at four bytes per token.
func (c *Chunker) splitByTokens(text string) []string {
	step := c.size - c.overlap
	tk, err := utils.Tokenizer()
	if err != nil {
		return splitByBytes(text, c.size*bytesPerToken, c.overlap*bytesPerToken)
	}

	ids := tk.Encode(text, nil, nil)
	var parts []string
	for start := 0; start < len(ids); start += step {
		end := start + c.size
		if end > len(ids) {
			end = len(ids)
		}
		parts = append(parts, tk.Decode(ids[start:end]))
		if end == len(ids) {
			break
		}
	}
	return parts
}

// splitByBytes windows text by byte length, nudging cut points back onto
// rune boundaries.
func splitByBytes(text string, size, overlap int) []string {
	var parts []string
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			parts = append(parts, text[start:])
			break
		}
		for end > start && !utf8.RuneStart(text[end]) {
			end--
		}
		parts = append(parts, text[start:end])

		next := end - overlap
		if next <= start {
			next = end
		}
		for next < len(text) && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return parts
}
