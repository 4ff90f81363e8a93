package search

import (
	"math"
	"testing"

	"github.com/hyperjump/kakuri/internal/models"
)

func TestSaturateKeywordScore(t *testing.T) {
	tests := []struct {
		score float64
		want  float64
	}{
		{0, 0},
		{-2, 0},
		{math.NaN(), 0},
		{1, 0.5},
		{3, 0.75},
		{math.Inf(1), 1},
	}
	for _, tt := range tests {
		if got := SaturateKeywordScore(tt.score); got != tt.want {
			t.Errorf("SaturateKeywordScore(%v) = %v, want %v", tt.score, got, tt.want)
		}
	}
	if SaturateKeywordScore(2) >= SaturateKeywordScore(4) {
		t.Error("saturation must preserve order")
	}
}

func TestNormalizeByMax(t *testing.T) {
	chunks := []*models.Chunk{{ID: "a", RawScore: 0.2}, {ID: "b", RawScore: 0.4}, {ID: "c", RawScore: 0.1}}
	NormalizeByMax(chunks)
	if chunks[1].RawScore != 1 || chunks[0].RawScore != 0.5 || chunks[2].RawScore != 0.25 {
		t.Errorf("normalized = %v, %v, %v", chunks[0].RawScore, chunks[1].RawScore, chunks[2].RawScore)
	}

	zero := []*models.Chunk{{ID: "z", RawScore: 0}}
	NormalizeByMax(zero)
	if zero[0].RawScore != 0 {
		t.Errorf("all-zero scores should stay 0, got %v", zero[0].RawScore)
	}
	NormalizeByMax(nil)
}

func TestFuse(t *testing.T) {
	kw := map[string]float64{"c1": 1.0, "c2": 0.5}
	sem := map[string]float64{"c1": 0.5, "c3": 1.0}
	results := Fuse(kw, sem, 0.5, 0.5)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ChunkID != "c1" || results[0].Score != 0.75 {
		t.Errorf("top = %+v", results[0])
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Error("results should be sorted by score descending")
		}
	}
}

func TestFuse_TiesByID(t *testing.T) {
	results := Fuse(map[string]float64{"b": 1, "a": 1}, nil, 1, 0)
	if results[0].ChunkID != "a" || results[1].ChunkID != "b" {
		t.Errorf("ties should order by id: %s, %s", results[0].ChunkID, results[1].ChunkID)
	}
}
