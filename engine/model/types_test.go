package model

import (
	"errors"
	"testing"
	"time"
)

func TestNewDocumentPage_Valid(t *testing.T) {
	page, err := NewDocumentPage("https://docs.example.com/intro", "Intro", "hello world", time.Now(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.ContentHash != HashText("hello world") {
		t.Errorf("content hash mismatch")
	}
}

func TestNewDocumentPage_EmptyTitle(t *testing.T) {
	_, err := NewDocumentPage("https://docs.example.com/intro", "", "hello world", time.Now(), nil)
	if err == nil {
		t.Fatal("expected error for empty title")
	}
}

func TestNewDocumentPage_EmptyText(t *testing.T) {
	_, err := NewDocumentPage("https://docs.example.com/intro", "Intro", "", time.Now(), nil)
	if err == nil {
		t.Fatal("expected error for empty extracted text")
	}
}

func TestHashText_Deterministic(t *testing.T) {
	if HashText("abc") != HashText("abc") {
		t.Fatal("hash should be deterministic")
	}
	if HashText("abc") == HashText("abd") {
		t.Fatal("different text should hash differently")
	}
}

func TestNewTextChunk_Valid(t *testing.T) {
	c, err := NewTextChunk("abcd1234_0", "a sentence long enough", "https://x", "X", 0, 2, 5, 0, 23, "hash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.TokenCount != 5 {
		t.Errorf("expected token count 5, got %d", c.TokenCount)
	}
}

func TestNewTextChunk_TooShort(t *testing.T) {
	_, err := NewTextChunk("id_0", "short", "https://x", "X", 0, 1, 1, 0, 5, "hash")
	if err == nil {
		t.Fatal("expected error for text under 10 chars")
	}
}

func TestNewTextChunk_BadCharRange(t *testing.T) {
	_, err := NewTextChunk("id_0", "a sentence long enough", "https://x", "X", 0, 1, 5, 10, 5, "hash")
	if err == nil {
		t.Fatal("expected error for char_end <= char_start")
	}
}

func TestNewTextChunk_IndexOutOfRange(t *testing.T) {
	_, err := NewTextChunk("id_0", "a sentence long enough", "https://x", "X", 3, 2, 5, 0, 23, "hash")
	if err == nil {
		t.Fatal("expected error for chunk_index out of range")
	}
}

func TestNewEmbedding_DimensionMismatch(t *testing.T) {
	_, err := NewEmbedding("id_0", make([]float32, 3), "embed-english-v3.0", time.Now(), 4)
	var ppe *ProviderProtocolError
	if !errors.As(err, &ppe) {
		t.Fatalf("expected ProviderProtocolError, got %v", err)
	}
	if ppe.Expected != 4 || ppe.Got != 3 {
		t.Errorf("unexpected error fields: %+v", ppe)
	}
}

func TestNewEmbedding_Valid(t *testing.T) {
	e, err := NewEmbedding("id_0", make([]float32, 4), "embed-english-v3.0", time.Now(), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(e.Vector) != 4 {
		t.Errorf("expected vector length 4")
	}
}

func TestNewVectorRecord_MissingKey(t *testing.T) {
	payload := map[string]any{
		"text": "x", "url": "y", "title": "z", "chunk_index": 0,
		"total_chunks": 1, "token_count": 5, "model": "m",
		// created_at missing
	}
	_, err := NewVectorRecord("id", []float32{1, 2}, payload)
	if err == nil {
		t.Fatal("expected error for missing created_at key")
	}
}

func TestNewVectorRecord_Valid(t *testing.T) {
	pair := EmbeddingPair{
		Chunk: TextChunk{Text: "t", SourceURL: "u", SourceTitle: "s", ChunkIndex: 0, TotalChunks: 1, TokenCount: 2, ContentHash: "h"},
		Embedding: Embedding{Model: "m", CreatedAt: time.Now()},
	}
	payload := PayloadFromPair(pair)
	record, err := NewVectorRecord("id", []float32{1, 2}, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Payload["url"] != "u" {
		t.Errorf("expected url payload to carry through")
	}
}

func TestCrawlState_Pending(t *testing.T) {
	s := NewCrawlState()
	s.URLsDiscovered = []string{"a", "b", "c"}
	s.URLsCompleted = []string{"a"}
	s.URLsFailed["b"] = "boom"
	pending := s.Pending()
	if len(pending) != 1 || pending[0] != "c" {
		t.Errorf("expected pending=[c], got %v", pending)
	}
}
