package vector

import (
	"context"
	"fmt"
)

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeMemory uses in-memory brute-force search persisted to a local file.
	IndexTypeMemory IndexType = "memory"
	// IndexTypeMilvus uses an external Milvus collection.
	IndexTypeMilvus IndexType = "milvus"
)

// NewVectorIndex creates a vector index of the specified type.
// Supported types: "memory" (default), "milvus".
func NewVectorIndex(ctx context.Context, indexType string, dimensions int, milvus MilvusConfig) (VectorIndex, error) {
	switch IndexType(indexType) {
	case IndexTypeMemory, "":
		return NewMemoryIndex(dimensions)
	case IndexTypeMilvus:
		return NewMilvusIndex(ctx, milvus, dimensions)
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: memory, milvus)", indexType)
	}
}
