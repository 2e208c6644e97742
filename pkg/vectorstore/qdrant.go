// Package vectorstore persists parsed markdown and chunk vectors,
// content-addressed by parsed hash and partitioned by indexer version.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/seemantic/seemantic/pkg/config"
	"github.com/seemantic/seemantic/pkg/model"
)

const (
	payloadParsedHash = "parsed_hash"
	payloadStart      = "start"
	payloadEnd        = "end"
	payloadMarkdown   = "markdown"
)

// QueryResult groups the nearest chunks of one document with its
// markdown.
type QueryResult struct {
	ParsedHash model.Hash
	Markdown   string
	Chunks     []model.ChunkHit
}

// Store is the parsed+vector store consumed by the indexer and the
// search engine.
type Store interface {
	// Index replaces all chunk vectors for parsed.Hash with the given
	// set and upserts the markdown row. Idempotent.
	Index(ctx context.Context, parsed model.ParsedDocument, chunks []model.EmbeddedChunk) error

	// IsIndexed reports whether chunk rows exist for the hash. Chunks
	// are written last, so presence implies the markdown is present too.
	IsIndexed(ctx context.Context, parsedHash model.Hash) (bool, error)

	// Query returns the top-k nearest chunks grouped by document.
	Query(ctx context.Context, vector []float32, k int) ([]QueryResult, error)

	// GetDocument returns the markdown for a hash, or "" when absent.
	GetDocument(ctx context.Context, parsedHash model.Hash) (string, error)

	Close() error
}

// QdrantStore implements Store on two qdrant collections per indexer
// version: chunk_v{V} for vectors and parsed_v{V} for markdown rows.
type QdrantStore struct {
	client              *qdrant.Client
	chunkCollection     string
	parsedCollection    string
	dimension           int
	distance            qdrant.Distance
	metric              model.DistanceMetric
	consistencyInterval time.Duration
}

// NewQdrantStoreFromConfig connects to qdrant and ensures both
// version-partitioned collections exist.
func NewQdrantStoreFromConfig(ctx context.Context, cfg *config.VectorStoreConfig, version int, dimension int, metric model.DistanceMetric) (*QdrantStore, error) {
	useTLS := false
	if cfg.EnableTLS != nil {
		useTLS = *cfg.EnableTLS
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	distance, err := toQdrantDistance(metric)
	if err != nil {
		return nil, err
	}

	store := &QdrantStore{
		client:              client,
		chunkCollection:     fmt.Sprintf("chunk_v%d", version),
		parsedCollection:    fmt.Sprintf("parsed_v%d", version),
		dimension:           dimension,
		distance:            distance,
		metric:              metric,
		consistencyInterval: time.Duration(cfg.ReadConsistencyIntervalS * float64(time.Second)),
	}

	if err := store.ensureCollections(ctx); err != nil {
		client.Close()
		return nil, err
	}

	return store, nil
}

func toQdrantDistance(metric model.DistanceMetric) (qdrant.Distance, error) {
	switch metric {
	case model.DistanceCosine:
		return qdrant.Distance_Cosine, nil
	case model.DistanceL2:
		return qdrant.Distance_Euclid, nil
	case model.DistanceDot:
		return qdrant.Distance_Dot, nil
	default:
		return 0, fmt.Errorf("unsupported distance metric %q", metric)
	}
}

func (s *QdrantStore) ensureCollections(ctx context.Context) error {
	if err := s.ensureCollection(ctx, s.chunkCollection, uint64(s.dimension), s.distance); err != nil {
		return err
	}
	// Markdown rows are addressed by hash, not similarity; the vector
	// is a 1-dim placeholder.
	return s.ensureCollection(ctx, s.parsedCollection, 1, qdrant.Distance_Dot)
}

func (s *QdrantStore) ensureCollection(ctx context.Context, collection string, size uint64, distance qdrant.Distance) error {
	exists, err := s.client.CollectionExists(ctx, collection)
	if err != nil {
		return fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     size,
			Distance: distance,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection %s: %w", collection, err)
	}
	return nil
}

// Index upserts the markdown row first, then replaces the chunk set
// for the hash. Point IDs are derived from content, so overlapping
// writers converge on the same state.
func (s *QdrantStore) Index(ctx context.Context, parsed model.ParsedDocument, chunks []model.EmbeddedChunk) error {
	markdownPayload, err := newPayload(map[string]interface{}{
		payloadParsedHash: string(parsed.Hash),
		payloadMarkdown:   parsed.Markdown,
	})
	if err != nil {
		return err
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.parsedCollection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(parsedPointID(parsed.Hash)),
			Vectors: qdrant.NewVectors(1.0),
			Payload: markdownPayload,
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to upsert markdown for %s: %w", parsed.Hash, err)
	}

	// Drop chunks from any previous set for this hash, then write the
	// new set. Deterministic IDs make the rewrite idempotent.
	if err := s.deleteChunks(ctx, parsed.Hash); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, chunk := range chunks {
		payload, err := newPayload(map[string]interface{}{
			payloadParsedHash: string(parsed.Hash),
			payloadStart:      int64(chunk.Chunk.Start),
			payloadEnd:        int64(chunk.Chunk.End),
		})
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(chunkPointID(parsed.Hash, chunk.Chunk)),
			Vectors: qdrant.NewVectors(chunk.Vector...),
			Payload: payload,
		})
	}

	if len(points) == 0 {
		return nil
	}

	_, err = s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.chunkCollection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert chunks for %s: %w", parsed.Hash, err)
	}
	return nil
}

func (s *QdrantStore) deleteChunks(ctx context.Context, parsedHash model.Hash) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.chunkCollection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
				Filter: parsedHashFilter(parsedHash),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", parsedHash, err)
	}
	return nil
}

// IsIndexed counts chunk rows for the hash.
func (s *QdrantStore) IsIndexed(ctx context.Context, parsedHash model.Hash) (bool, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.chunkCollection,
		Filter:         parsedHashFilter(parsedHash),
	})
	if err != nil {
		return false, fmt.Errorf("failed to count chunks for %s: %w", parsedHash, err)
	}
	return count > 0, nil
}

// Query searches the top-k nearest chunks, groups them by document and
// joins each group with its markdown.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, k int) ([]QueryResult, error) {
	pointsClient := s.client.GetPointsClient()
	searchResult, err := pointsClient.Search(ctx, &qdrant.SearchPoints{
		CollectionName: s.chunkCollection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	// Group hits per document, preserving best-hit order.
	var order []model.Hash
	grouped := make(map[model.Hash][]model.ChunkHit)
	for _, point := range searchResult.Result {
		payload := point.Payload
		hash := model.Hash(payload[payloadParsedHash].GetStringValue())
		if hash == "" {
			continue
		}
		if _, seen := grouped[hash]; !seen {
			order = append(order, hash)
		}
		grouped[hash] = append(grouped[hash], model.ChunkHit{
			Chunk: model.Chunk{
				Start: int(payload[payloadStart].GetIntegerValue()),
				End:   int(payload[payloadEnd].GetIntegerValue()),
			},
			Distance: s.scoreToDistance(point.Score),
		})
	}

	results := make([]QueryResult, 0, len(order))
	for _, hash := range order {
		markdown, err := s.GetDocument(ctx, hash)
		if err != nil {
			return nil, err
		}
		results = append(results, QueryResult{
			ParsedHash: hash,
			Markdown:   markdown,
			Chunks:     grouped[hash],
		})
	}
	return results, nil
}

// GetDocument fetches the markdown row by its deterministic point ID.
func (s *QdrantStore) GetDocument(ctx context.Context, parsedHash model.Hash) (string, error) {
	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.parsedCollection,
		Ids:            []*qdrant.PointId{qdrant.NewID(parsedPointID(parsedHash))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to get markdown for %s: %w", parsedHash, err)
	}
	if len(points) == 0 {
		return "", nil
	}
	return points[0].Payload[payloadMarkdown].GetStringValue(), nil
}

// ConsistencyInterval bounds how long a just-written chunk set may be
// missing from query results.
func (s *QdrantStore) ConsistencyInterval() time.Duration {
	return s.consistencyInterval
}

// Close releases the qdrant connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// scoreToDistance converts qdrant similarity scores to distances so
// that smaller is always closer.
func (s *QdrantStore) scoreToDistance(score float32) float32 {
	switch s.metric {
	case model.DistanceCosine:
		return 1 - score
	case model.DistanceDot:
		return -score
	default:
		return score
	}
}

func parsedHashFilter(parsedHash model.Hash) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key: payloadParsedHash,
					Match: &qdrant.Match{
						MatchValue: &qdrant.Match_Keyword{
							Keyword: string(parsedHash),
						},
					},
				},
			},
		}},
	}
}

func newPayload(values map[string]interface{}) (map[string]*qdrant.Value, error) {
	payload := make(map[string]*qdrant.Value, len(values))
	for key, value := range values {
		val, err := qdrant.NewValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload value for key %s: %w", key, err)
		}
		payload[key] = val
	}
	return payload, nil
}

// parsedPointID derives a stable UUID for a markdown row.
func parsedPointID(parsedHash model.Hash) string {
	return uuid.NewMD5(uuid.Nil, []byte("parsed:"+string(parsedHash))).String()
}

// chunkPointID derives a stable UUID for a chunk vector.
func chunkPointID(parsedHash model.Hash, chunk model.Chunk) string {
	return uuid.NewMD5(uuid.Nil, []byte(fmt.Sprintf("chunk:%s:%d:%d", parsedHash, chunk.Start, chunk.End))).String()
}

var _ Store = (*QdrantStore)(nil)
