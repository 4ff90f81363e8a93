package vector

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hyperjump/kakuri/internal/vector")

const (
	milvusIDField     = "id"
	milvusVectorField = "vector"
	milvusIDMaxLength = 256
	statsTimeout      = 5 * time.Second
)

// MilvusConfig holds connection and index settings for a Milvus collection.
type MilvusConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	User               string `yaml:"user"`
	Password           string `yaml:"password"`
	Collection         string `yaml:"collection"`
	MetricType         string `yaml:"metric_type"`
	HNSWM              int    `yaml:"hnsw_m"`
	HNSWEfConstruction int    `yaml:"hnsw_ef_construction"`
	SearchEf           int    `yaml:"search_ef"`
}

// MilvusIndex stores chunk vectors in a Milvus collection. Chunk content and department
// stay in local storage; the collection only maps IDs to vectors.
type MilvusIndex struct {
	milvus     client.Client
	collection string
	dimensions int
	metric     entity.MetricType
	searchEf   int
}

// NewMilvusIndex connects to Milvus and ensures the collection, its HNSW index, and its
// loaded state.
func NewMilvusIndex(ctx context.Context, cfg MilvusConfig, dimensions int) (*MilvusIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	metric, err := parseMilvusMetric(cfg.MetricType)
	if err != nil {
		return nil, err
	}
	if cfg.Collection == "" {
		cfg.Collection = "kakuri_chunks"
	}
	if cfg.HNSWM <= 0 {
		cfg.HNSWM = 16
	}
	if cfg.HNSWEfConstruction <= 0 {
		cfg.HNSWEfConstruction = 200
	}
	if cfg.SearchEf <= 0 {
		cfg.SearchEf = 128
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	mc, err := client.NewClient(ctx, client.Config{
		Address:  addr,
		Username: cfg.User,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to milvus at %s: %w", addr, err)
	}

	m := &MilvusIndex{
		milvus:     mc,
		collection: cfg.Collection,
		dimensions: dimensions,
		metric:     metric,
		searchEf:   cfg.SearchEf,
	}
	if err := m.ensureCollection(ctx, cfg); err != nil {
		_ = mc.Close()
		return nil, err
	}
	return m, nil
}

func parseMilvusMetric(s string) (entity.MetricType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "COSINE":
		return entity.COSINE, nil
	case "IP":
		return entity.IP, nil
	case "L2":
		return entity.L2, nil
	default:
		return "", fmt.Errorf("unsupported milvus metric_type %q (supported: COSINE, IP, L2)", s)
	}
}

func (m *MilvusIndex) ensureCollection(ctx context.Context, cfg MilvusConfig) error {
	ctx, span := tracer.Start(ctx, "milvus.EnsureCollection",
		trace.WithAttributes(attribute.String("collection", m.collection)))
	defer span.End()

	has, err := m.milvus.HasCollection(ctx, m.collection)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: m.collection,
			Description:    "Chunk vectors for access-controlled retrieval",
			Fields: []*entity.Field{
				{
					Name:       milvusIDField,
					DataType:   entity.FieldTypeVarChar,
					PrimaryKey: true,
					AutoID:     false,
					TypeParams: map[string]string{"max_length": strconv.Itoa(milvusIDMaxLength)},
				},
				{
					Name:       milvusVectorField,
					DataType:   entity.FieldTypeFloatVector,
					TypeParams: map[string]string{"dim": strconv.Itoa(m.dimensions)},
				},
			},
		}
		if err := m.milvus.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create collection: %w", err)
		}
		idx, err := entity.NewIndexHNSW(m.metric, cfg.HNSWM, cfg.HNSWEfConstruction)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to build index params: %w", err)
		}
		if err := m.milvus.CreateIndex(ctx, m.collection, milvusVectorField, idx, false); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	if err := m.milvus.LoadCollection(ctx, m.collection, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to load collection: %w", err)
	}
	return nil
}

// Metric reports the configured Milvus metric.
func (m *MilvusIndex) Metric() Metric { return Metric(m.metric) }

// Add upserts vectors: existing IDs are deleted before insert.
func (m *MilvusIndex) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	if len(ids) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Add",
		trace.WithAttributes(
			attribute.String("collection", m.collection),
			attribute.Int("count", len(ids)),
		))
	defer span.End()

	for _, v := range vectors {
		if len(v) != m.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(v), m.dimensions)
		}
	}
	if err := m.Remove(ctx, ids); err != nil {
		return err
	}

	idCol := entity.NewColumnVarChar(milvusIDField, ids)
	vectorCol := entity.NewColumnFloatVector(milvusVectorField, m.dimensions, vectors)
	if _, err := m.milvus.Insert(ctx, m.collection, "", idCol, vectorCol); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to insert vectors: %w", err)
	}
	if err := m.milvus.Flush(ctx, m.collection, false); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to flush collection: %w", err)
	}
	return nil
}

// Search returns up to k hits in the order Milvus ranks them.
func (m *MilvusIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != m.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), m.dimensions)
	}
	if k <= 0 {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Search",
		trace.WithAttributes(
			attribute.String("collection", m.collection),
			attribute.Int("top_k", k),
		))
	defer span.End()

	sp, err := entity.NewIndexHNSWSearchParam(m.searchEf)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create search param: %w", err)
	}

	results, err := m.milvus.Search(ctx,
		m.collection,
		nil,
		"",
		[]string{milvusIDField},
		[]entity.Vector{entity.FloatVector(query)},
		milvusVectorField,
		m.metric,
		k,
		sp,
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	var out []*VectorResult
	for _, result := range results {
		idCol, ok := result.IDs.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		ids := idCol.Data()
		for i := 0; i < result.ResultCount && i < len(ids); i++ {
			out = append(out, &VectorResult{ID: ids[i], Score: float64(result.Scores[i])})
		}
	}
	span.SetAttributes(attribute.Int("result_count", len(out)))
	return out, nil
}

// Remove deletes vectors by ID.
func (m *MilvusIndex) Remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	ctx, span := tracer.Start(ctx, "milvus.Remove",
		trace.WithAttributes(attribute.Int("count", len(ids))))
	defer span.End()

	if err := m.milvus.Delete(ctx, m.collection, "", idInExpr(ids)); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	return nil
}

func idInExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = strconv.Quote(id)
	}
	return milvusIDField + " in [" + strings.Join(quoted, ",") + "]"
}

// Save is a no-op: Milvus persists server side.
func (m *MilvusIndex) Save(path string) error { return nil }

// Load is a no-op: the collection is loaded on connect.
func (m *MilvusIndex) Load(path string) error { return nil }

// Size returns the collection row count, or 0 when statistics are unavailable.
func (m *MilvusIndex) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
	defer cancel()
	stats, err := m.milvus.GetCollectionStatistics(ctx, m.collection)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(stats["row_count"])
	if err != nil {
		return 0
	}
	return n
}

// Close closes the Milvus connection.
func (m *MilvusIndex) Close() error {
	return m.milvus.Close()
}
