// Package vector provides the similarity index the pipeline searches for candidates.
package vector

import "context"

// VectorIndex defines vector storage and similarity search.
type VectorIndex interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Remove(ctx context.Context, ids []string) error
	Save(path string) error
	Load(path string) error
	Size() int
	// Metric describes what Search scores mean.
	Metric() Metric
	Close() error
}

// VectorResult is a single vector search hit keyed by chunk ID. Score is the index's
// native score, interpreted according to its Metric.
type VectorResult struct {
	ID    string
	Score float64
}

// Metric names the scoring convention of an index.
type Metric string

const (
	// MetricCosineDistance is 1 - cosine similarity; lower is better.
	MetricCosineDistance Metric = "cosine_distance"
	// MetricL2 is Euclidean distance; lower is better.
	MetricL2 Metric = "L2"
	// MetricIP is inner product; higher is better.
	MetricIP Metric = "IP"
	// MetricCosine is cosine similarity; higher is better.
	MetricCosine Metric = "COSINE"
)

// LowerIsBetter reports whether smaller scores rank first.
func (m Metric) LowerIsBetter() bool {
	return m == MetricCosineDistance || m == MetricL2
}
