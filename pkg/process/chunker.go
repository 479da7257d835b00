package process

import (
	"strings"

	"github.com/tmc/langchaingo/textsplitter"
)

// Passage is one retrieval-sized slice of a page
type Passage struct {
	Content    string
	TokenCount int
}

// ChunkerConfig holds passage sizing in tokens
type ChunkerConfig struct {
	MaxChunkSize int
	ChunkOverlap int
}

// DefaultChunkerConfig approximates the passage size answer engines retrieve
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
	}
}

// Self-contained passages fall within this token window
const (
	minAnswerTokens = 40
	maxAnswerTokens = 300
)

// SplitPassages splits markdown by headers, falling back to recursive splitting for
// sections still larger than MaxChunkSize. Each passage keeps its heading context.
func SplitPassages(markdown string, cfg ChunkerConfig) ([]Passage, error) {
	if strings.TrimSpace(markdown) == "" {
		return nil, nil
	}

	lenFunc := func(s string) int {
		if n := CountTokens(s); n >= 0 {
			return n
		}
		return len(strings.Fields(s))
	}

	recursive := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(lenFunc),
	)
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursive),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, err
	}

	passages := make([]Passage, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}
		passages = append(passages, Passage{Content: part, TokenCount: lenFunc(part)})
	}
	return passages, nil
}

// AnswerReady counts passages sized to be quoted on their own
func AnswerReady(passages []Passage) int {
	n := 0
	for _, p := range passages {
		if p.TokenCount >= minAnswerTokens && p.TokenCount <= maxAnswerTokens {
			n++
		}
	}
	return n
}
