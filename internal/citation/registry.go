// Package citation numbers the sources of one response.
//
// A Registry belongs to exactly one response-building session. Numbering is never
// shared between requests.
package citation

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kakuri/internal/models"
)

// SourcesHeader heads the rendered sources block.
const SourcesHeader = "Sources:"

// Registry maps chunk IDs to citation numbers starting at 1. Not safe for concurrent use.
type Registry struct {
	numbers   map[string]int
	citations []models.Citation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{numbers: make(map[string]int)}
}

// Cite returns the citation number for c, allocating the next one on first sight.
func (r *Registry) Cite(c *models.Chunk) int {
	if n, ok := r.numbers[c.ID]; ok {
		return n
	}
	n := len(r.citations) + 1
	r.numbers[c.ID] = n
	r.citations = append(r.citations, models.Citation{
		Number:     n,
		ChunkID:    c.ID,
		SourceLine: SourceLine(n, c),
	})
	return n
}

// Citations returns the allocated citations in allocation order.
func (r *Registry) Citations() []models.Citation {
	out := make([]models.Citation, len(r.citations))
	copy(out, r.citations)
	return out
}

// Len returns how many citations have been allocated.
func (r *Registry) Len() int { return len(r.citations) }

// SourcesBlock renders every allocated source, or "" when nothing was cited.
func (r *Registry) SourcesBlock() string {
	if len(r.citations) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(SourcesHeader)
	for _, c := range r.citations {
		b.WriteByte('\n')
		b.WriteString(c.SourceLine)
	}
	return b.String()
}

// Annotate cites every chunk of selection in order and returns their contents each
// followed by its marker, e.g. "Revenue grew 15%. [1] Churn fell. [2]".
func (r *Registry) Annotate(selection []*models.RankedChunk) string {
	parts := make([]string, 0, len(selection))
	for _, s := range selection {
		n := r.Cite(s.Chunk)
		text := strings.TrimSpace(s.Chunk.Content)
		if text == "" {
			parts = append(parts, fmt.Sprintf("[%d]", n))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s [%d]", text, n))
	}
	return strings.Join(parts, " ")
}

// SourceLine formats "[n] department/origin - section (chunk_id: id)", leaving out
// whatever the chunk does not carry.
func SourceLine(n int, c *models.Chunk) string {
	dept := c.Department
	if dept == "" {
		dept = c.MetaString(models.MetaDepartment)
	}
	origin := c.MetaString(models.MetaSourceFile)
	if origin == "" {
		origin = c.MetaString(models.MetaSource)
	}
	section := c.MetaString(models.MetaSection)

	var b strings.Builder
	fmt.Fprintf(&b, "[%d]", n)
	switch {
	case dept != "" && origin != "":
		fmt.Fprintf(&b, " %s/%s", dept, origin)
	case dept != "":
		fmt.Fprintf(&b, " %s", dept)
	case origin != "":
		fmt.Fprintf(&b, " %s", origin)
	}
	if section != "" {
		if dept != "" || origin != "" {
			b.WriteString(" -")
		}
		fmt.Fprintf(&b, " %s", section)
	}
	fmt.Fprintf(&b, " (chunk_id: %s)", c.ID)
	return b.String()
}
