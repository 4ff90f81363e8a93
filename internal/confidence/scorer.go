// Package confidence scores how much a selection can be trusted.
package confidence

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/kakuri/internal/models"
	"github.com/hyperjump/kakuri/pkg/utils"
)

const (
	defaultSaturationCount  = 5
	defaultLengthSaturation = 1000
	structureBonus          = 0.2
	neutralRecency          = 0.5
	weightTolerance         = 1e-6
)

// Warning text for the empty selection.
const NoCandidatesWarning = "No candidates were available to answer this query."

var numberedItem = regexp.MustCompile(`(?m)^\s*\d+\.\s`)

// Weights are the factor weights; they must sum to 1.
type Weights struct {
	Similarity  float64 `yaml:"similarity" json:"similarity"`
	SourceCount float64 `yaml:"source_count" json:"source_count"`
	Specificity float64 `yaml:"specificity" json:"specificity"`
	Recency     float64 `yaml:"recency" json:"recency"`
}

// DefaultWeights returns 0.4/0.2/0.3/0.1.
func DefaultWeights() Weights {
	return Weights{Similarity: 0.4, SourceCount: 0.2, Specificity: 0.3, Recency: 0.1}
}

// Validate checks every weight is in [0,1] and the sum is 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"similarity":   w.Similarity,
		"source_count": w.SourceCount,
		"specificity":  w.Specificity,
		"recency":      w.Recency,
	} {
		if math.IsNaN(v) || v < 0 || v > 1 {
			return fmt.Errorf("weight %s must be within [0,1], got %v", name, v)
		}
	}
	sum := w.Similarity + w.SourceCount + w.Specificity + w.Recency
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// Thresholds map a score to a level. High > Medium > Low.
type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
	Low    float64 `yaml:"low" json:"low"`
}

// DefaultThresholds returns 0.7/0.5/0.3.
func DefaultThresholds() Thresholds {
	return Thresholds{High: 0.7, Medium: 0.5, Low: 0.3}
}

// Validate checks ordering and range.
func (t Thresholds) Validate() error {
	if t.Low < 0 || t.High > 1 {
		return fmt.Errorf("thresholds must be within [0,1]")
	}
	if !(t.High > t.Medium && t.Medium > t.Low) {
		return fmt.Errorf("thresholds must satisfy high > medium > low, got %v > %v > %v", t.High, t.Medium, t.Low)
	}
	return nil
}

// Scorer computes confidence reports. It is immutable and safe for concurrent use.
type Scorer struct {
	weights          Weights
	thresholds       Thresholds
	saturationCount  int
	lengthSaturation int
}

// NewScorer validates the configuration. Non-positive saturation values take defaults.
func NewScorer(w Weights, t Thresholds, saturationCount, lengthSaturation int) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if saturationCount <= 0 {
		saturationCount = defaultSaturationCount
	}
	if lengthSaturation <= 0 {
		lengthSaturation = defaultLengthSaturation
	}
	return &Scorer{weights: w, thresholds: t, saturationCount: saturationCount, lengthSaturation: lengthSaturation}, nil
}

// Score computes the report for a selection. An empty selection scores 0, level low,
// with a warning.
func (s *Scorer) Score(selection []*models.RankedChunk) models.ConfidenceReport {
	if len(selection) == 0 {
		return models.ConfidenceReport{
			Score:   0,
			Level:   models.LevelLow,
			Warning: NoCandidatesWarning,
		}
	}

	sims := make([]float64, len(selection))
	specs := make([]float64, len(selection))
	timestamped := 0
	for i, r := range selection {
		sims[i] = utils.Clamp01(r.Similarity)
		specs[i] = s.specificity(r.Chunk)
		if r.Chunk.HasMeta(models.MetaTimestamp) {
			timestamped++
		}
	}

	f := models.ConfidenceFactors{
		AvgSimilarity: utils.Mean(sims),
		SourceCount:   math.Min(1, float64(len(selection))/float64(s.saturationCount)),
		Specificity:   utils.Mean(specs),
		Recency:       neutralRecency,
	}
	if timestamped > 0 {
		f.Recency = float64(timestamped) / float64(len(selection))
	}

	score := utils.Clamp01(s.weights.Similarity*f.AvgSimilarity +
		s.weights.SourceCount*f.SourceCount +
		s.weights.Specificity*f.Specificity +
		s.weights.Recency*f.Recency)

	report := models.ConfidenceReport{Score: score, Factors: f}
	switch {
	case score >= s.thresholds.High:
		report.Level = models.LevelHigh
	case score >= s.thresholds.Medium:
		report.Level = models.LevelMedium
	default:
		report.Level = models.LevelLow
	}
	if score < s.thresholds.Low {
		report.Warning = fmt.Sprintf("Low confidence score (%.2f). Results may be unreliable.", score)
	}
	return report
}

func (s *Scorer) specificity(c *models.Chunk) float64 {
	if c == nil {
		return 0
	}
	v := math.Min(1, float64(utf8.RuneCountInString(c.Content))/float64(s.lengthSaturation))
	if hasStructure(c.Content) {
		v = math.Min(1, v+structureBonus)
	}
	return v
}

// hasStructure reports fenced code, bullet items or numbered list items.
func hasStructure(content string) bool {
	return strings.Contains(content, "```") ||
		strings.Contains(content, "- ") ||
		strings.Contains(content, "* ") ||
		numberedItem.MatchString(content)
}

// Format renders a report for terminal output.
func Format(r models.ConfidenceReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Confidence: %.2f (%s)", r.Score, strings.ToUpper(r.Level))
	if r.Warning != "" {
		fmt.Fprintf(&b, "\nWarning: %s", r.Warning)
	}
	return b.String()
}
