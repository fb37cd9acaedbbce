// Package uploader writes embedded chunks into a Qdrant collection, using
// deterministic UUIDv5 point IDs so re-running the upload stage overwrites
// the same points rather than accumulating duplicates.
package uploader

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/pkg/fn"
	"github.com/ragforge/docpipe/pkg/resilience"
)

// defaultRetry is the upsert batch retry budget: max 5 attempts, 1s base
// backoff, 60s cap.
var defaultRetry = fn.RetryOpts{
	MaxAttempts: 5,
	InitialWait: time.Second,
	MaxWait:     60 * time.Second,
	Jitter:      true,
}

// uploadNamespace seeds the UUIDv5 derivation of point IDs from chunk IDs,
// so the same chunk always maps to the same point regardless of upload order.
var uploadNamespace = uuid.MustParse("6f6a0f1e-6f1a-4b3e-9b8a-9a6b6c6d6e6f")

// PointID derives a stable point ID for a chunk ID. Re-uploading a chunk
// with the same ID overwrites its prior point instead of creating a
// duplicate with a fresh ID, which per-batch incrementing integers cannot
// guarantee across resumed runs.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uploadNamespace, []byte(chunkID)).String()
}

// Options configures a VectorStore.
type Options struct {
	Host       string
	Port       int // default 6334
	APIKey     string
	UseTLS     bool
	Collection string
	VectorSize uint64
	BatchSize  int // points per upsert call, default 100
	Retry      fn.RetryOpts
	// MaxBatchesPerSec paces upsert batches against the collection, default
	// 5/s with a burst of 2. Set a higher MaxBatchesPerSec to loosen this for a
	// Qdrant deployment known to handle more throughput.
	MaxBatchesPerSec float64
}

func (o Options) withDefaults() Options {
	if o.Port == 0 {
		o.Port = 6334
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = defaultRetry
	}
	if o.MaxBatchesPerSec <= 0 {
		o.MaxBatchesPerSec = 5
	}
	return o
}

// pointsClient is the slice of *qdrant.Client this package depends on. It
// exists so tests can substitute an in-memory fake instead of a live Qdrant
// server or a mocking framework.
type pointsClient interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, name string) error
	CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error)
	Close() error
}

// VectorStore upserts embedded chunks into a Qdrant collection.
type VectorStore struct {
	client  pointsClient
	opts    Options
	limiter *resilience.Limiter
}

// New connects to Qdrant. It does not create the collection; call
// EnsureCollection for that.
func New(opts Options) (*VectorStore, error) {
	opts = opts.withDefaults()
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   opts.Host,
		Port:   opts.Port,
		APIKey: opts.APIKey,
		UseTLS: opts.UseTLS,
	})
	if err != nil {
		return nil, model.NewStoreError("connect", err)
	}
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.MaxBatchesPerSec, Burst: 2})
	return &VectorStore{client: client, opts: opts, limiter: limiter}, nil
}

// newWithClient builds a VectorStore around an already-constructed
// pointsClient, used by tests to inject an in-memory fake.
func newWithClient(client pointsClient, opts Options) *VectorStore {
	opts = opts.withDefaults()
	limiter := resilience.NewLimiter(resilience.LimiterOpts{Rate: opts.MaxBatchesPerSec, Burst: 2})
	return &VectorStore{client: client, opts: opts, limiter: limiter}
}

// EnsureCollection creates the collection (cosine distance, the configured
// vector size) if it doesn't exist, or recreates it from scratch when
// recreate is true. Returns whether the collection was (re)created.
func (s *VectorStore) EnsureCollection(ctx context.Context, recreate bool) (bool, error) {
	exists, err := s.client.CollectionExists(ctx, s.opts.Collection)
	if err != nil {
		return false, model.NewStoreError("collection_exists", err)
	}

	if exists && recreate {
		if err := s.client.DeleteCollection(ctx, s.opts.Collection); err != nil {
			return false, model.NewStoreError("delete_collection", err)
		}
		exists = false
	}

	if exists {
		return false, nil
	}

	if err := s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.opts.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.opts.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	}); err != nil {
		return false, model.NewStoreError("create_collection", err)
	}

	_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
		CollectionName: s.opts.Collection,
		FieldName:      "url",
		FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
	})
	if err != nil {
		return true, model.NewStoreError("create_field_index", err)
	}

	return true, nil
}

// UploadEmbeddings upserts every pair in batches of opts.BatchSize. Chunks
// that fail within a batch are retried individually so one bad record
// doesn't sink the rest of the batch; failed returns a chunk ID to error
// string map for whatever could not be uploaded after that retry.
func (s *VectorStore) UploadEmbeddings(ctx context.Context, pairs []model.EmbeddingPair) (uploaded []string, failed map[string]string, err error) {
	failed = make(map[string]string)

	for start := 0; start < len(pairs); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		if err := s.limiter.Wait(ctx); err != nil {
			return uploaded, failed, err
		}

		result := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) fn.Result[struct{}] {
			if err := s.upsertBatch(ctx, batch); err != nil {
				return fn.Err[struct{}](err)
			}
			return fn.Ok(struct{}{})
		})
		if _, batchErr := result.Unwrap(); batchErr != nil {
			// Batch failed even after retry: fall back to per-record upserts
			// so a single bad point doesn't fail the whole batch.
			for _, pair := range batch {
				if recErr := s.upsertBatch(ctx, []model.EmbeddingPair{pair}); recErr != nil {
					failed[pair.Chunk.ChunkID] = recErr.Error()
					continue
				}
				uploaded = append(uploaded, pair.Chunk.ChunkID)
			}
			continue
		}

		for _, pair := range batch {
			uploaded = append(uploaded, pair.Chunk.ChunkID)
		}
	}

	return uploaded, failed, nil
}

func (s *VectorStore) upsertBatch(ctx context.Context, pairs []model.EmbeddingPair) error {
	points := make([]*qdrant.PointStruct, 0, len(pairs))
	for _, pair := range pairs {
		record, err := model.NewVectorRecord(PointID(pair.Chunk.ChunkID), pair.Embedding.Vector, model.PayloadFromPair(pair))
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(record.ID),
			Vectors: qdrant.NewVectors(record.Vector...),
			Payload: qdrant.NewValueMap(record.Payload),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.opts.Collection,
		Points:         points,
		Wait:           &wait,
	})
	if err != nil {
		return model.NewStoreError("upsert", err)
	}
	return nil
}

// Count returns the number of points currently stored in the collection.
func (s *VectorStore) Count(ctx context.Context) (uint64, error) {
	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.opts.Collection,
	})
	if err != nil {
		return 0, model.NewStoreError("count", err)
	}
	return count, nil
}

var _ pointsClient = (*qdrant.Client)(nil)

// Close closes the underlying gRPC connection.
func (s *VectorStore) Close() error {
	return s.client.Close()
}
