package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/grpc/status"

	grpccodes "google.golang.org/grpc/codes"
)

// Tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("reviewd.vectorstore.qdrant")

// pointNamespace seeds deterministic Qdrant point IDs. Qdrant requires
// UUID point ids, so the chunk id is hashed into the UUID space; equal
// chunk ids always map to the same point, making upserts overwrite in
// place.
var pointNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Payload field names for persisted chunk metadata.
const (
	fieldChunkID   = "chunk_id"
	fieldFilePath  = "file_path"
	fieldStartLine = "start_line"
	fieldEndLine   = "end_line"
)

// QdrantConfig holds configuration for the Qdrant gRPC store.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// CollectionName is the collection holding the code index.
	CollectionName string

	// VectorSize is the embedding dimensionality. Must match the
	// embedding model; changing models means rebuilding the collection.
	VectorSize uint64

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// MaxRetries is the retry budget for transient failures.
	MaxRetries int

	// RetryBackoff is the initial backoff; doubles per attempt.
	RetryBackoff time.Duration
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size required", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// QdrantStore is a Store backed by Qdrant's native gRPC client.
type QdrantStore struct {
	client qdrantClient
	config QdrantConfig
}

// qdrantClient is the slice of the Qdrant client surface the store
// uses. Narrowing it keeps the store testable without a live server.
type qdrantClient interface {
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// NewQdrantStore connects to Qdrant, verifies health, and ensures the
// configured collection exists with the configured vector size.
func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &QdrantStore{client: client, config: config}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrConnectionFailed, err)
	}

	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// ensureCollection creates the collection when it does not exist yet.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	_, err := s.client.GetCollectionInfo(ctx, s.config.CollectionName)
	if err == nil {
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", s.config.CollectionName, err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.config.CollectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.config.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.config.CollectionName, err)
	}
	return nil
}

// isTransientError reports whether an error is worth retrying.
func isTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retryOperation retries an operation with exponential backoff for
// transient failures.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := s.config.RetryBackoff

	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// PointID maps a chunk id into Qdrant's UUID point id space. The
// mapping is deterministic so re-upserting a chunk overwrites it.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// entryPayload builds the Qdrant payload for one entry.
func entryPayload(e Entry) map[string]*qdrant.Value {
	return map[string]*qdrant.Value{
		fieldChunkID:   {Kind: &qdrant.Value_StringValue{StringValue: e.ID}},
		fieldFilePath:  {Kind: &qdrant.Value_StringValue{StringValue: e.Metadata.FilePath}},
		fieldStartLine: {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(e.Metadata.StartLine)}},
		fieldEndLine:   {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(e.Metadata.EndLine)}},
	}
}

// matchFromPoint converts a scored point back into a Match.
func matchFromPoint(point *qdrant.ScoredPoint) Match {
	m := Match{Score: point.GetScore()}
	payload := point.GetPayload()
	if payload == nil {
		return m
	}
	if v, ok := payload[fieldFilePath]; ok {
		m.Metadata.FilePath = v.GetStringValue()
	}
	if v, ok := payload[fieldStartLine]; ok {
		m.Metadata.StartLine = int(v.GetIntegerValue())
	}
	if v, ok := payload[fieldEndLine]; ok {
		m.Metadata.EndLine = int(v.GetIntegerValue())
	}
	return m
}

// Upsert inserts or overwrites entries by id.
func (s *QdrantStore) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.Int("entry_count", len(entries)),
		attribute.String("collection", s.config.CollectionName),
	)

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(entry.ID)),
			Vectors: qdrant.NewVectors(entry.Vector...),
			Payload: entryPayload(entry),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.CollectionName,
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("upserting %d points: %w", len(points), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// DeleteByFilePaths removes every entry whose file path is in paths.
// An empty path set performs no store call.
func (s *QdrantStore) DeleteByFilePaths(ctx context.Context, paths []string) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.DeleteByFilePaths")
	defer span.End()
	span.SetAttributes(
		attribute.Int("path_count", len(paths)),
		attribute.String("collection", s.config.CollectionName),
	)

	if len(paths) == 0 {
		return nil
	}

	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.CollectionName,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{
						Must: []*qdrant.Condition{
							{
								ConditionOneOf: &qdrant.Condition_Field{
									Field: &qdrant.FieldCondition{
										Key: fieldFilePath,
										Match: &qdrant.Match{
											MatchValue: &qdrant.Match_Keywords{
												Keywords: &qdrant.RepeatedStrings{Strings: paths},
											},
										},
									},
								},
							},
						},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting entries for %d paths: %w", len(paths), err)
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Query returns at most topK matches ordered by descending similarity.
func (s *QdrantStore) Query(ctx context.Context, vector []float32, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.String("collection", s.config.CollectionName),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("%w: top_k must be positive, got %d", ErrInvalidConfig, topK)
	}
	if len(vector) != int(s.config.VectorSize) {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, index has %d",
			ErrInvalidConfig, len(vector), s.config.VectorSize)
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.CollectionName,
			Query:          qdrant.NewQuery(vector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.CollectionName, err)
	}

	matches := make([]Match, len(points))
	for i, point := range points {
		matches[i] = matchFromPoint(point)
	}

	span.SetAttributes(attribute.Int("match_count", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Count returns the total number of entries in the collection.
func (s *QdrantStore) Count(ctx context.Context) (uint64, error) {
	ctx, span := tracer.Start(ctx, "QdrantStore.Count")
	defer span.End()

	var count uint64
	err := s.retryOperation(ctx, "count", func() error {
		info, err := s.client.GetCollectionInfo(ctx, s.config.CollectionName)
		if err != nil {
			return err
		}
		if info.PointsCount != nil {
			count = *info.PointsCount
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("counting collection %s: %w", s.config.CollectionName, err)
	}

	span.SetAttributes(attribute.Int64("point_count", int64(count)))
	span.SetStatus(codes.Ok, "success")
	return count, nil
}

// Ensure QdrantStore implements Store.
var _ Store = (*QdrantStore)(nil)
