package pipeline

import (
	"context"
	"strings"
	"testing"

	"github.com/hyperjump/kakuri/internal/citation"
	"github.com/hyperjump/kakuri/internal/models"
)

func TestBuildPrompt(t *testing.T) {
	reg := citation.NewRegistry()
	a := &models.Chunk{ID: "a", Content: "First chunk."}
	b := &models.Chunk{ID: "b", Content: strings.Repeat("x", 1500)}
	reg.Cite(b)

	prompt := BuildPrompt("what happened", []*models.RankedChunk{{Chunk: a}, {Chunk: b}}, reg)
	if !strings.Contains(prompt, "[2] First chunk.") {
		t.Errorf("chunk a should reuse the registry numbering:\n%s", prompt)
	}
	if !strings.Contains(prompt, "[1] "+strings.Repeat("x", 1000)+"...") {
		t.Error("long chunk should be truncated")
	}
	if !strings.HasSuffix(prompt, "Question: what happened\nAnswer:") {
		t.Errorf("prompt should end with the question:\n%s", prompt)
	}
}

func TestExtractive(t *testing.T) {
	reg := citation.NewRegistry()
	sel := []*models.RankedChunk{
		{Chunk: &models.Chunk{ID: "a", Content: "Revenue grew 15%. It was a good year."}},
		{Chunk: &models.Chunk{ID: "b", Content: "Version 2.1 shipped"}},
	}
	got, err := Extractive{}.Generate(context.Background(), BuildPrompt("q", sel, reg))
	if err != nil {
		t.Fatal(err)
	}
	if got != "Revenue grew 15%. [1] Version 2.1 shipped [2]" {
		t.Errorf("got %q", got)
	}

	if _, err := (Extractive{}).Generate(context.Background(), "no context"); err == nil {
		t.Error("expected error without context lines")
	}
}
