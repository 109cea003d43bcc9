// Package chunker splits extracted document text into overlapping,
// size-bounded segments suitable for embedding and retrieval.
package chunker

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxSize is the default chunk size in characters.
	DefaultMaxSize = 900
	// DefaultOverlap is the default number of trailing characters carried
	// into the next chunk.
	DefaultOverlap = 150
)

// ErrInvalidMaxSize is returned when the requested chunk size is not positive.
var ErrInvalidMaxSize = errors.New("chunker: max size must be positive")

// Chunk splits text into ordered, sentence-aware segments of at most maxSize
// characters. Runs of whitespace are collapsed before splitting. When a chunk
// is flushed, the trailing overlap characters of it seed the next chunk so
// adjacent chunks share context. A single sentence longer than maxSize is
// truncated to maxSize. Empty or whitespace-only input yields no chunks.
//
// Sizes are measured in runes, so truncation never splits a UTF-8 sequence.
func Chunk(text string, maxSize, overlap int) ([]string, error) {
	if maxSize <= 0 {
		return nil, ErrInvalidMaxSize
	}

	normalized := Normalize(text)
	if normalized == "" {
		return nil, nil
	}

	var chunks []string
	current := ""

	for _, sentence := range splitSentences(normalized) {
		candidate := strings.TrimSpace(current + " " + sentence)
		if utf8.RuneCountInString(candidate) <= maxSize {
			if current == "" {
				current = sentence
			} else {
				current += " " + sentence
			}
			continue
		}

		if current != "" {
			chunks = append(chunks, current)
		}
		if overlap > 0 && len(chunks) > 0 {
			tail := lastRunes(chunks[len(chunks)-1], overlap)
			current = firstRunes(tail+" "+sentence, maxSize)
		} else {
			current = firstRunes(sentence, maxSize)
		}
	}

	if current != "" {
		chunks = append(chunks, current)
	}
	return chunks, nil
}

// Normalize collapses all runs of whitespace to single spaces and trims the
// result.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// splitSentences splits normalized text into sentence-like units. A boundary
// is sentence-terminal punctuation followed by whitespace; the punctuation
// stays with the preceding unit. A unit may exceed any chunk size limit.
func splitSentences(text string) []string {
	var sentences []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes)-1; i++ {
		if isTerminal(runes[i]) && runes[i+1] == ' ' {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 2
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
