// Package cache persists the two on-disk handoff artifacts between pipeline
// stages: per-page extracted text (crawler → chunker) and per-chunk
// embedding records (embedder → uploader). Page files are written atomically
// (temp file + rename), so a run killed mid-write never leaves a torn page
// file; the embeddings JSONL file is appended to in place, record by record.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ragforge/docpipe/engine/model"
)

// PageKey derives the stable cache filename stem for a URL.
func PageKey(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])[:16]
}

// pageMeta mirrors a DocumentPage minus its body text, which is stored
// alongside as a plain-text sibling file.
type pageMeta struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	CrawledAt   time.Time         `json:"crawled_at"`
	ContentHash string            `json:"content_hash"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// SavePage writes page's text and metadata under dir, keyed by PageKey(page.URL).
func SavePage(dir string, page model.DocumentPage) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("page cache: create dir: %w", err)
	}
	key := PageKey(page.URL)

	if err := atomicWrite(dir, key+".txt", []byte(page.ExtractedText)); err != nil {
		return fmt.Errorf("page cache: write text: %w", err)
	}

	meta := pageMeta{
		URL:         page.URL,
		Title:       page.Title,
		CrawledAt:   page.CrawledAt,
		ContentHash: page.ContentHash,
		Metadata:    page.Metadata,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("page cache: marshal meta: %w", err)
	}
	if err := atomicWrite(dir, key+".meta.json", data); err != nil {
		return fmt.Errorf("page cache: write meta: %w", err)
	}
	return nil
}

// LoadPage reads back a previously-saved page by its original URL. ok is
// false if no cache entry exists for that URL.
func LoadPage(dir, url string) (page model.DocumentPage, ok bool, err error) {
	key := PageKey(url)
	return loadPageByKey(dir, key)
}

func loadPageByKey(dir, key string) (model.DocumentPage, bool, error) {
	metaPath := filepath.Join(dir, key+".meta.json")
	metaData, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		return model.DocumentPage{}, false, nil
	}
	if err != nil {
		return model.DocumentPage{}, false, fmt.Errorf("page cache: read meta %s: %w", key, err)
	}
	var meta pageMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return model.DocumentPage{}, false, fmt.Errorf("page cache: decode meta %s: %w", key, err)
	}

	text, err := os.ReadFile(filepath.Join(dir, key+".txt"))
	if err != nil {
		return model.DocumentPage{}, false, fmt.Errorf("page cache: read text %s: %w", key, err)
	}

	return model.DocumentPage{
		URL:           meta.URL,
		Title:         meta.Title,
		ExtractedText: string(text),
		CrawledAt:     meta.CrawledAt,
		ContentHash:   meta.ContentHash,
		Metadata:      meta.Metadata,
	}, true, nil
}

// LoadAllPages returns every page currently cached under dir, in no
// particular order.
func LoadAllPages(dir string) ([]model.DocumentPage, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("page cache: read dir: %w", err)
	}

	var pages []model.DocumentPage
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".meta.json") {
			continue
		}
		key := strings.TrimSuffix(e.Name(), ".meta.json")
		page, ok, err := loadPageByKey(dir, key)
		if err != nil {
			return nil, err
		}
		if ok {
			pages = append(pages, page)
		}
	}
	return pages, nil
}

// atomicWrite replaces dir/name with data via a tempfile-then-rename, the
// same pattern the state manager uses to survive a mid-write crash.
func atomicWrite(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpName)
		if werr != nil {
			return fmt.Errorf("write: %w", werr)
		}
		return fmt.Errorf("close: %w", cerr)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// EmbeddingRecord is one line of the embeddings JSONL handoff file: a
// chunk's vector plus enough of its originating chunk to reconstruct an
// EmbeddingPair for the uploader without re-reading the page cache.
type EmbeddingRecord struct {
	ChunkID   string         `json:"chunk_id"`
	Vector    []float32      `json:"vector"`
	Model     string         `json:"model"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata"`
}

// RecordFromPair builds the JSONL record for one embedded chunk.
func RecordFromPair(pair model.EmbeddingPair) EmbeddingRecord {
	return EmbeddingRecord{
		ChunkID:   pair.Chunk.ChunkID,
		Vector:    pair.Embedding.Vector,
		Model:     pair.Embedding.Model,
		CreatedAt: pair.Embedding.CreatedAt,
		Metadata:  model.PayloadFromPair(pair),
	}
}

// ToPair reconstructs the EmbeddingPair a record was built from. Metadata
// values decode as float64/JSON-native types, so integer fields are
// converted back explicitly.
func (r EmbeddingRecord) ToPair() (model.EmbeddingPair, error) {
	text, _ := r.Metadata["text"].(string)
	url, _ := r.Metadata["url"].(string)
	title, _ := r.Metadata["title"].(string)
	chunkIndex := metaInt(r.Metadata["chunk_index"])
	totalChunks := metaInt(r.Metadata["total_chunks"])
	tokenCount := metaInt(r.Metadata["token_count"])
	contentHash, _ := r.Metadata["content_hash"].(string)

	chunk := model.TextChunk{
		ChunkID:     r.ChunkID,
		Text:        text,
		SourceURL:   url,
		SourceTitle: title,
		ChunkIndex:  chunkIndex,
		TotalChunks: totalChunks,
		TokenCount:  tokenCount,
		ContentHash: contentHash,
	}
	embedding, err := model.NewEmbedding(r.ChunkID, r.Vector, r.Model, r.CreatedAt, len(r.Vector))
	if err != nil {
		return model.EmbeddingPair{}, fmt.Errorf("embedding record %s: %w", r.ChunkID, err)
	}
	return model.EmbeddingPair{Chunk: chunk, Embedding: embedding}, nil
}

func metaInt(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

// AppendEmbeddingRecords appends records to the JSONL file at path, one
// object per line, creating the file and its parent directory if needed.
func AppendEmbeddingRecords(path string, records []EmbeddingRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("embeddings jsonl: create dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("embeddings jsonl: open: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("embeddings jsonl: encode %s: %w", r.ChunkID, err)
		}
	}
	return nil
}

// ReadEmbeddingRecords reads every record from the JSONL file at path. A
// missing file yields an empty result, not an error.
func ReadEmbeddingRecords(path string) ([]EmbeddingRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("embeddings jsonl: open: %w", err)
	}
	defer f.Close()

	var records []EmbeddingRecord
	dec := json.NewDecoder(f)
	for dec.More() {
		var r EmbeddingRecord
		if err := dec.Decode(&r); err != nil {
			return nil, fmt.Errorf("embeddings jsonl: decode: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}
