// Package model holds the data types shared across the ingestion pipeline
// stages: crawled pages, text chunks, embeddings, and their vector-store
// representation.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DocumentPage is one crawled and extracted page. It is created by the
// extractor, cached to disk, and never mutated afterward.
type DocumentPage struct {
	URL           string            `json:"url"`
	Title         string            `json:"title"`
	ExtractedText string            `json:"extracted_text"`
	CrawledAt     time.Time         `json:"crawled_at"`
	ContentHash   string            `json:"content_hash"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewDocumentPage builds a DocumentPage, computing ContentHash from the
// (already normalized) extracted text.
func NewDocumentPage(url, title, extractedText string, crawledAt time.Time, meta map[string]string) (DocumentPage, error) {
	if title == "" {
		return DocumentPage{}, fmt.Errorf("document page: title is empty for %s", url)
	}
	if len(title) > 500 {
		title = title[:500]
	}
	if extractedText == "" {
		return DocumentPage{}, fmt.Errorf("document page: extracted text is empty for %s", url)
	}
	return DocumentPage{
		URL:           url,
		Title:         title,
		ExtractedText: extractedText,
		CrawledAt:     crawledAt,
		ContentHash:   HashText(extractedText),
		Metadata:      meta,
	}, nil
}

// HashText computes the hex SHA-256 digest used as a page's content hash.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// TextChunk is one unit of embedding input, carved out of a DocumentPage by
// the chunker.
type TextChunk struct {
	ChunkID     string `json:"chunk_id"`
	Text        string `json:"text"`
	SourceURL   string `json:"source_url"`
	SourceTitle string `json:"source_title"`
	ChunkIndex  int    `json:"chunk_index"`
	TotalChunks int    `json:"total_chunks"`
	TokenCount  int    `json:"token_count"`
	CharStart   int    `json:"char_start"`
	CharEnd     int    `json:"char_end"`
	ContentHash string `json:"content_hash"`
}

// NewTextChunk validates and builds a TextChunk. It enforces the invariants
// in §8 of the specification: non-trivial text, ordered char offsets, a
// chunk index within range, and a positive token count.
func NewTextChunk(id, text, sourceURL, sourceTitle string, index, total, tokenCount, charStart, charEnd int, contentHash string) (TextChunk, error) {
	if len(text) < 10 {
		return TextChunk{}, fmt.Errorf("text chunk %s: text too short (%d chars)", id, len(text))
	}
	if charEnd <= charStart {
		return TextChunk{}, fmt.Errorf("text chunk %s: char_end (%d) <= char_start (%d)", id, charEnd, charStart)
	}
	if index < 0 || index >= total {
		return TextChunk{}, fmt.Errorf("text chunk %s: chunk_index %d out of range [0,%d)", id, index, total)
	}
	if tokenCount < 1 {
		tokenCount = 1
	}
	return TextChunk{
		ChunkID:     id,
		Text:        text,
		SourceURL:   sourceURL,
		SourceTitle: sourceTitle,
		ChunkIndex:  index,
		TotalChunks: total,
		TokenCount:  tokenCount,
		CharStart:   charStart,
		CharEnd:     charEnd,
		ContentHash: contentHash,
	}, nil
}

// Embedding is one dense vector produced by the remote provider for a chunk.
type Embedding struct {
	ChunkID   string    `json:"chunk_id"`
	Vector    []float32 `json:"vector"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEmbedding validates the vector length against the configured dimension.
func NewEmbedding(chunkID string, vector []float32, model string, createdAt time.Time, dimension int) (Embedding, error) {
	if len(vector) != dimension {
		return Embedding{}, NewProviderProtocolError(dimension, len(vector))
	}
	return Embedding{ChunkID: chunkID, Vector: vector, Model: model, CreatedAt: createdAt}, nil
}

// EmbeddingPair carries a chunk alongside its embedding through the
// embedder→uploader handoff, instead of the embedding owning a back-pointer
// to its originating chunk (see the design notes on cyclic references).
type EmbeddingPair struct {
	Chunk     TextChunk
	Embedding Embedding
}

// requiredPayloadKeys are the VectorRecord payload fields the specification
// mandates; missing any of them is a construction error.
var requiredPayloadKeys = []string{
	"text", "url", "title", "chunk_index", "total_chunks", "token_count", "model", "created_at",
}

// VectorRecord is the store-bound form of an Embedding: an identifier, a
// vector, and a validated payload.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// NewVectorRecord validates that payload carries every required key before
// constructing the record, per §3's "missing any required payload key is a
// construction error".
func NewVectorRecord(id string, vector []float32, payload map[string]any) (VectorRecord, error) {
	for _, key := range requiredPayloadKeys {
		if _, ok := payload[key]; !ok {
			return VectorRecord{}, fmt.Errorf("vector record %s: missing required payload key %q", id, key)
		}
	}
	return VectorRecord{ID: id, Vector: vector, Payload: payload}, nil
}

// PayloadFromPair builds a VectorRecord payload map from an embedding pair,
// carrying the chunk's own content hash as extra metadata.
func PayloadFromPair(p EmbeddingPair) map[string]any {
	return map[string]any{
		"text":         p.Chunk.Text,
		"url":          p.Chunk.SourceURL,
		"title":        p.Chunk.SourceTitle,
		"chunk_index":  p.Chunk.ChunkIndex,
		"total_chunks": p.Chunk.TotalChunks,
		"token_count":  p.Chunk.TokenCount,
		"model":        p.Embedding.Model,
		"created_at":   p.Embedding.CreatedAt.Format(time.RFC3339),
		"content_hash": p.Chunk.ContentHash,
	}
}
