package pipeline

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/hyperjump/kakuri/internal/citation"
	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/pkg/utils"
)

// maxContextChars caps each chunk's contribution to a prompt.
const maxContextChars = 1000

// Generator turns a retrieval prompt into an answer. It only ever sees the filtered,
// selected chunks.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// BuildPrompt renders the selected chunks as numbered context followed by the question.
// Numbers come from registry, so the answer's [n] markers line up with the sources block.
func BuildPrompt(query string, selection []*models.RankedChunk, registry *citation.Registry) string {
	var b strings.Builder
	b.WriteString("Use the following documents to answer the question.\n")
	b.WriteString("Cite sources with their [n] markers. If the documents do not contain the answer, say so.\n\n")
	for i, rc := range selection {
		if i > 0 {
			b.WriteString("\n---\n")
		}
		n := registry.Cite(rc.Chunk)
		fmt.Fprintf(&b, "[%d] %s\n", n, utils.Truncate(strings.TrimSpace(rc.Chunk.Content), maxContextChars))
	}
	fmt.Fprintf(&b, "\nQuestion: %s\nAnswer:", query)
	return b.String()
}

// Extractive answers with the first sentence of each context document, keeping its
// citation marker. It needs no model and is meant for local runs.
type Extractive struct{}

// Generate implements Generator.
func (Extractive) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var parts []string
	for _, line := range strings.Split(prompt, "\n") {
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "] ")
		if end < 0 {
			continue
		}
		marker, text := line[:end+1], firstSentence(line[end+2:])
		if text == "" {
			continue
		}
		parts = append(parts, text+" "+marker)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no context to extract from")
	}
	return strings.Join(parts, " "), nil
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(s) || unicode.IsSpace(rune(s[i+1])) {
				return s[:i+1]
			}
		}
	}
	return s
}
