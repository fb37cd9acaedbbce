package chunker

import (
	"strings"
	"testing"
	"time"

	"github.com/ragforge/docpipe/engine/model"
)

func mustPage(t *testing.T, url, text string) model.DocumentPage {
	t.Helper()
	page, err := model.NewDocumentPage(url, "Title", text, time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error building page: %v", err)
	}
	return page
}

func TestChunk_SmallDocumentSingleChunk(t *testing.T) {
	page := mustPage(t, "https://x/y", "A short paragraph that is long enough to be a chunk.")
	chunks, err := Chunk(page, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].TotalChunks != 1 || chunks[0].ChunkIndex != 0 {
		t.Errorf("unexpected chunk indices: %+v", chunks[0])
	}
}

func TestChunk_Invariants(t *testing.T) {
	text := strings.Repeat("Paragraph content that repeats many times over. ", 200)
	page := mustPage(t, "https://x/long", text)
	chunks, err := Chunk(page, Options{ChunkSize: 100, Overlap: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for long text, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c.Text) < 10 {
			t.Errorf("chunk %d text too short: %q", i, c.Text)
		}
		if c.CharEnd <= c.CharStart {
			t.Errorf("chunk %d: char_end %d <= char_start %d", i, c.CharEnd, c.CharStart)
		}
		if c.ChunkIndex < 0 || c.ChunkIndex >= c.TotalChunks {
			t.Errorf("chunk %d: index %d out of range [0,%d)", i, c.ChunkIndex, c.TotalChunks)
		}
		if c.TokenCount < 1 {
			t.Errorf("chunk %d: token count must be >= 1, got %d", i, c.TokenCount)
		}
	}
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("Repeatable text block for determinism checks. ", 150)
	page := mustPage(t, "https://x/det", text)

	a, err := Chunk(page, Options{ChunkSize: 80, Overlap: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Chunk(page, Options{ChunkSize: 80, Overlap: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("chunk count differs across runs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs across runs:\n%+v\n%+v", i, a[i], b[i])
		}
	}
}

func TestChunk_BoundaryOverlap(t *testing.T) {
	chunkSize := 50
	overlap := 10
	// A single paragraph, no sentence terminators, exactly 2*chunkSize*4 chars.
	text := strings.Repeat("x", 2*chunkSize*4)
	page := mustPage(t, "https://x/boundary", text)

	chunks, err := Chunk(page, Options{ChunkSize: chunkSize, Overlap: overlap})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	tailOfFirst := chunks[0].Text[len(chunks[0].Text)-overlap*4:]
	leadOfSecond := chunks[1].Text[:overlap*4]
	if tailOfFirst != leadOfSecond {
		t.Errorf("expected second chunk to lead with first chunk's overlap tail:\ntail=%q\nlead=%q", tailOfFirst, leadOfSecond)
	}
}

func TestChunk_IDStableAcrossReruns(t *testing.T) {
	page := mustPage(t, "https://docs.example.com/stable", "Text content that is definitely long enough to chunk.")
	a, err := Chunk(page, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Chunk(page, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a[0].ChunkID != b[0].ChunkID {
		t.Errorf("expected stable chunk_id, got %s vs %s", a[0].ChunkID, b[0].ChunkID)
	}
}

func TestChunk_EmptyTextYieldsNoChunks(t *testing.T) {
	chunks, err := Chunk(model.DocumentPage{URL: "https://x", Title: "t"}, Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if chunks != nil {
		t.Errorf("expected nil chunks for empty document text, got %v", chunks)
	}
}

func TestTokenCount_Approximation(t *testing.T) {
	if tokenCount("abcd") != 1 {
		t.Errorf("expected 4 chars = 1 token")
	}
	if tokenCount("") != 1 {
		t.Errorf("expected minimum token count of 1")
	}
}
