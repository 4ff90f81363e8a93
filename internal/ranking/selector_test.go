package ranking

import (
	"math"
	"reflect"
	"testing"

	"github.com/hyperjump/kakuri/internal/models"
)

func chunks(scores ...float64) []*models.Chunk {
	out := make([]*models.Chunk, len(scores))
	for i, s := range scores {
		out[i] = &models.Chunk{ID: string(rune('a' + i)), RawScore: s}
	}
	return out
}

func selectedIDs(rs []*models.RankedChunk) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Chunk.ID
	}
	return out
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{"lower_is_better", LowerIsBetter, false},
		{"HIGHER_IS_BETTER", HigherIsBetter, false},
		{" higher_is_better ", HigherIsBetter, false},
		{"", Unspecified, true},
		{"distance", Unspecified, true},
	}
	for _, tt := range tests {
		got, err := ParseDirection(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDirection(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseDirection(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewSelector_Invalid(t *testing.T) {
	if _, err := NewSelector(0, 0.7, LowerIsBetter); err == nil {
		t.Error("k=0 should fail")
	}
	if _, err := NewSelector(5, 0.7, Unspecified); err == nil {
		t.Error("unspecified direction should fail")
	}
	if _, err := NewSelector(5, math.NaN(), HigherIsBetter); err == nil {
		t.Error("NaN cutoff should fail")
	}
}

func TestSelect(t *testing.T) {
	tests := []struct {
		name   string
		k      int
		cutoff float64
		dir    Direction
		in     []*models.Chunk
		want   []string
	}{
		{"lower: cutoff and ascending order", 5, 0.7, LowerIsBetter, chunks(0.5, 0.1, 0.9, 0.7), []string{"b", "a", "d"}},
		{"higher: cutoff and descending order", 5, 0.3, HigherIsBetter, chunks(0.5, 0.1, 0.9, 0.3), []string{"c", "a", "d"}},
		{"truncate to k", 2, 1, LowerIsBetter, chunks(0.4, 0.3, 0.2, 0.1), []string{"d", "c"}},
		{"ties keep input order", 5, 1, LowerIsBetter, chunks(0.2, 0.1, 0.2, 0.1), []string{"b", "d", "a", "c"}},
		{"everything fails cutoff", 5, 0.1, LowerIsBetter, chunks(0.5, 0.9), []string{}},
		{"empty input", 5, 0.7, LowerIsBetter, nil, []string{}},
		{"NaN scores are dropped", 5, 0.3, HigherIsBetter, chunks(math.NaN(), 0.5), []string{"b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSelector(tt.k, tt.cutoff, tt.dir)
			if err != nil {
				t.Fatal(err)
			}
			got := selectedIDs(s.Select(tt.in))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Select() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSelect_RanksAndSimilarity(t *testing.T) {
	s, _ := NewSelector(5, 0.7, LowerIsBetter)
	got := s.Select(chunks(0.3, 0.1))
	if got[0].Rank != 1 || got[1].Rank != 2 {
		t.Errorf("ranks = %d, %d", got[0].Rank, got[1].Rank)
	}
	if math.Abs(got[0].Similarity-0.9) > 1e-9 || math.Abs(got[1].Similarity-0.7) > 1e-9 {
		t.Errorf("similarities = %v, %v", got[0].Similarity, got[1].Similarity)
	}
}

func TestSelect_DoesNotMutateInput(t *testing.T) {
	in := chunks(0.3, 0.1, 0.2)
	before := append([]*models.Chunk(nil), in...)
	s, _ := NewSelector(2, 1, LowerIsBetter)
	s.Select(in)
	if !reflect.DeepEqual(in, before) {
		t.Error("Select reordered its input")
	}
}

func TestSelect_Idempotent(t *testing.T) {
	in := chunks(0.4, 0.2, 0.2, 0.6, 0.1, 0.2, 0.9, 0.05)
	s, _ := NewSelector(4, 0.7, LowerIsBetter)
	first := selectedIDs(s.Select(in))
	second := selectedIDs(s.Select(in))
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Select not deterministic: %v vs %v", first, second)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		dir  Direction
		raw  float64
		want float64
	}{
		{LowerIsBetter, 0.2, 0.8},
		{LowerIsBetter, 1.5, 0},
		{LowerIsBetter, -0.5, 1},
		{HigherIsBetter, 0.9, 0.9},
		{HigherIsBetter, 1.2, 1},
		{HigherIsBetter, -0.1, 0},
	}
	for _, tt := range tests {
		if got := tt.dir.Similarity(tt.raw); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("%v.Similarity(%v) = %v, want %v", tt.dir, tt.raw, got, tt.want)
		}
	}
}
