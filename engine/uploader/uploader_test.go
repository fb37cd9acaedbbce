package uploader

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/pkg/fn"
)

// fakeClient is an in-memory stand-in for *qdrant.Client, following the
// pack's preference for hand-written test doubles over a mocking framework.
type fakeClient struct {
	mu              sync.Mutex
	collectionExist bool
	points          map[string]*qdrant.PointStruct
	failUpsertIDs   map[string]bool
	closed          bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{points: make(map[string]*qdrant.PointStruct), failUpsertIDs: make(map[string]bool)}
}

func (f *fakeClient) CollectionExists(ctx context.Context, name string) (bool, error) {
	return f.collectionExist, nil
}

func (f *fakeClient) CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error {
	f.collectionExist = true
	return nil
}

func (f *fakeClient) DeleteCollection(ctx context.Context, name string) error {
	f.collectionExist = false
	f.points = make(map[string]*qdrant.PointStruct)
	return nil
}

func (f *fakeClient) CreateFieldIndex(ctx context.Context, req *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error) {
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range req.Points {
		id := p.GetId().GetUuid()
		if f.failUpsertIDs[id] {
			return nil, fmt.Errorf("simulated upsert failure for %s", id)
		}
	}
	for _, p := range req.Points {
		f.points[p.GetId().GetUuid()] = p
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Count(ctx context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.points)), nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func mustPair(t *testing.T, chunkID string, vec []float32) model.EmbeddingPair {
	t.Helper()
	chunk, err := model.NewTextChunk(chunkID, "chunk text content here", "https://docs.example.com/a", "A", 0, 1, 5, 0, 10, "hash")
	if err != nil {
		t.Fatalf("unexpected chunk error: %v", err)
	}
	emb, err := model.NewEmbedding(chunkID, vec, "model-x", time.Now(), len(vec))
	if err != nil {
		t.Fatalf("unexpected embedding error: %v", err)
	}
	return model.EmbeddingPair{Chunk: chunk, Embedding: emb}
}

func TestPointID_StableAcrossCalls(t *testing.T) {
	a := PointID("chunk-1")
	b := PointID("chunk-1")
	if a != b {
		t.Errorf("expected stable point id, got %s vs %s", a, b)
	}
	if PointID("chunk-1") == PointID("chunk-2") {
		t.Error("expected distinct chunk ids to map to distinct point ids")
	}
}

func TestEnsureCollection_CreatesWhenMissing(t *testing.T) {
	fc := newFakeClient()
	s := newWithClient(fc, Options{Collection: "docs", VectorSize: 3})

	created, err := s.EnsureCollection(t.Context(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected collection to be created")
	}
	if !fc.collectionExist {
		t.Error("expected fake to reflect created collection")
	}
}

func TestEnsureCollection_NoOpWhenPresent(t *testing.T) {
	fc := newFakeClient()
	fc.collectionExist = true
	s := newWithClient(fc, Options{Collection: "docs", VectorSize: 3})

	created, err := s.EnsureCollection(t.Context(), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if created {
		t.Error("expected no-op when collection already exists")
	}
}

func TestEnsureCollection_Recreate(t *testing.T) {
	fc := newFakeClient()
	fc.collectionExist = true
	fc.points["x"] = &qdrant.PointStruct{}
	s := newWithClient(fc, Options{Collection: "docs", VectorSize: 3})

	created, err := s.EnsureCollection(t.Context(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Error("expected recreate to report created=true")
	}
	if len(fc.points) != 0 {
		t.Error("expected points cleared on recreate")
	}
}

func TestUploadEmbeddings_AllSucceed(t *testing.T) {
	fc := newFakeClient()
	s := newWithClient(fc, Options{Collection: "docs", BatchSize: 2})

	pairs := []model.EmbeddingPair{
		mustPair(t, "a", []float32{1, 2}),
		mustPair(t, "b", []float32{3, 4}),
		mustPair(t, "c", []float32{5, 6}),
	}

	uploaded, failed, err := s.UploadEmbeddings(t.Context(), pairs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploaded) != 3 {
		t.Errorf("expected 3 uploaded, got %d", len(uploaded))
	}
	if len(failed) != 0 {
		t.Errorf("expected no failures, got %v", failed)
	}

	count, err := s.Count(t.Context())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 points stored, got %d", count)
	}
}

func TestUploadEmbeddings_StableIDAcrossReruns(t *testing.T) {
	fc := newFakeClient()
	s := newWithClient(fc, Options{Collection: "docs", BatchSize: 10})

	pairs := []model.EmbeddingPair{mustPair(t, "chunk-1", []float32{1, 2})}

	if _, _, err := s.UploadEmbeddings(t.Context(), pairs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := s.UploadEmbeddings(t.Context(), pairs); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(fc.points) != 1 {
		t.Errorf("expected re-upload to overwrite the same point, got %d distinct points", len(fc.points))
	}
}

func TestUploadEmbeddings_PartialFailureFallsBackPerRecord(t *testing.T) {
	fc := newFakeClient()
	fc.failUpsertIDs[PointID("bad")] = true
	s := newWithClient(fc, Options{
		Collection: "docs", BatchSize: 10,
		Retry: fn.RetryOpts{MaxAttempts: 1, InitialWait: time.Millisecond, MaxWait: time.Millisecond},
	})

	pairs := []model.EmbeddingPair{
		mustPair(t, "good1", []float32{1}),
		mustPair(t, "bad", []float32{2}),
		mustPair(t, "good2", []float32{3}),
	}

	uploaded, failed, err := s.UploadEmbeddings(t.Context(), pairs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploaded) != 2 {
		t.Errorf("expected 2 uploaded, got %d: %v", len(uploaded), uploaded)
	}
	if _, ok := failed["bad"]; !ok {
		t.Errorf("expected 'bad' chunk to be recorded as failed, got %v", failed)
	}
}

func TestUploadEmbeddings_Empty(t *testing.T) {
	fc := newFakeClient()
	s := newWithClient(fc, Options{Collection: "docs"})

	uploaded, failed, err := s.UploadEmbeddings(t.Context(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(uploaded) != 0 || len(failed) != 0 {
		t.Errorf("expected no-op on empty input, got uploaded=%v failed=%v", uploaded, failed)
	}
}

func TestClose_ClosesUnderlyingClient(t *testing.T) {
	fc := newFakeClient()
	s := newWithClient(fc, Options{Collection: "docs"})
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fc.closed {
		t.Error("expected underlying client to be closed")
	}
}
