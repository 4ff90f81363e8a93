package ranking

import (
	"fmt"
	"strings"

	"github.com/hyperjump/kakuri/pkg/utils"
)

// Direction states how the similarity index's raw scores are ordered.
type Direction int

const (
	// Unspecified is the zero value and is never valid.
	Unspecified Direction = iota
	// LowerIsBetter means raw scores are distances.
	LowerIsBetter
	// HigherIsBetter means raw scores are similarities.
	HigherIsBetter
)

func (d Direction) String() string {
	switch d {
	case LowerIsBetter:
		return "lower_is_better"
	case HigherIsBetter:
		return "higher_is_better"
	default:
		return "unspecified"
	}
}

// ParseDirection parses a configured score direction. There is no default: an empty or
// unrecognized value is an error.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lower_is_better":
		return LowerIsBetter, nil
	case "higher_is_better":
		return HigherIsBetter, nil
	case "":
		return Unspecified, fmt.Errorf("score_direction must be set to lower_is_better or higher_is_better")
	default:
		return Unspecified, fmt.Errorf("unknown score_direction %q (want lower_is_better or higher_is_better)", s)
	}
}

// UnmarshalText lets Direction be decoded straight from configuration.
func (d *Direction) UnmarshalText(text []byte) error {
	v, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MarshalText renders the configuration spelling.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Valid reports whether d is one of the two defined directions.
func (d Direction) Valid() bool {
	return d == LowerIsBetter || d == HigherIsBetter
}

// Passes reports whether raw is within cutoff under d.
func (d Direction) Passes(raw, cutoff float64) bool {
	if d == LowerIsBetter {
		return raw <= cutoff
	}
	return raw >= cutoff
}

// Better reports whether a ranks strictly ahead of b under d.
func (d Direction) Better(a, b float64) bool {
	if d == LowerIsBetter {
		return a < b
	}
	return a > b
}

// Similarity converts a raw score to the internal higher-is-better convention in [0,1].
func (d Direction) Similarity(raw float64) float64 {
	if d == LowerIsBetter {
		return utils.Clamp01(1 - raw)
	}
	return utils.Clamp01(raw)
}
