// Package state provides per-stage, disk-backed progress tracking so the
// crawler, embedder, and uploader stages can resume from their last
// successfully recorded item.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ragforge/docpipe/engine/model"
)

// Stage names the three resumable pipeline stages.
type Stage string

const (
	StageCrawl  Stage = "crawl"
	StageEmbed  Stage = "embed"
	StageUpload Stage = "upload"
)

func (s Stage) filename() string {
	return string(s) + "_state.json"
}

// Manager loads, mutates, and atomically persists per-stage state files
// under a single state directory.
type Manager struct {
	mu  sync.Mutex
	dir string

	crawl  model.CrawlState
	embed  model.EmbedState
	upload model.UploadState
}

// NewManager loads any existing state files from dir, or starts each stage
// with an empty state if its file is absent.
func NewManager(dir string) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state manager: create dir: %w", err)
	}
	m := &Manager{dir: dir}

	if err := loadJSON(filepath.Join(dir, StageCrawl.filename()), &m.crawl); err != nil {
		return nil, err
	}
	if m.crawl.URLsFailed == nil {
		m.crawl = model.NewCrawlState()
	}

	if err := loadJSON(filepath.Join(dir, StageEmbed.filename()), &m.embed); err != nil {
		return nil, err
	}
	if m.embed.ChunksFailed == nil {
		m.embed = model.NewEmbedState()
	}

	if err := loadJSON(filepath.Join(dir, StageUpload.filename()), &m.upload); err != nil {
		return nil, err
	}
	if m.upload.VectorsFailed == nil {
		m.upload = model.NewUploadState()
	}

	return m, nil
}

// loadJSON reads path into v, leaving v untouched (zero value) if the file
// does not exist yet. A corrupt file is treated as absent rather than a
// hard failure, since state is a best-effort optimization, not a source of
// truth for already-embedded data.
func loadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("state manager: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return nil
	}
	return nil
}

// CrawlState returns a copy of the current crawl state.
func (m *Manager) CrawlState() model.CrawlState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.crawl
}

// EmbedState returns a copy of the current embed state.
func (m *Manager) EmbedState() model.EmbedState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.embed
}

// UploadState returns a copy of the current upload state.
func (m *Manager) UploadState() model.UploadState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upload
}

// MarkURLCompleted records a crawled URL as completed. Callers must still
// call SaveCrawl to persist the change.
func (m *Manager) MarkURLCompleted(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawl.URLsCompleted = append(m.crawl.URLsCompleted, url)
}

// MarkURLFailed records a crawled URL as failed with its error string.
func (m *Manager) MarkURLFailed(url, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawl.URLsFailed[url] = errMsg
}

// SetDiscovered replaces the discovered URL set (called once after sitemap
// parsing, before any fetches begin).
func (m *Manager) SetDiscovered(urls []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawl.URLsDiscovered = urls
}

// MarkChunkProcessed records a chunk as embedded.
func (m *Manager) MarkChunkProcessed(chunkID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embed.ChunksProcessed = append(m.embed.ChunksProcessed, chunkID)
}

// MarkChunkFailed records a chunk as failed to embed.
func (m *Manager) MarkChunkFailed(chunkID, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embed.ChunksFailed[chunkID] = errMsg
}

// MarkVectorUploaded records a vector record as uploaded.
func (m *Manager) MarkVectorUploaded(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upload.VectorsUploaded = append(m.upload.VectorsUploaded, id)
}

// MarkVectorFailed records a vector record as failed to upload.
func (m *Manager) MarkVectorFailed(id, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upload.VectorsFailed[id] = errMsg
}

// SaveCrawl atomically persists the crawl state.
func (m *Manager) SaveCrawl() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.crawl.LastUpdated = time.Now().UTC()
	return m.saveLocked(StageCrawl, m.crawl)
}

// SaveEmbed atomically persists the embed state.
func (m *Manager) SaveEmbed() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embed.LastUpdated = time.Now().UTC()
	return m.saveLocked(StageEmbed, m.embed)
}

// SaveUpload atomically persists the upload state.
func (m *Manager) SaveUpload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upload.LastUpdated = time.Now().UTC()
	return m.saveLocked(StageUpload, m.upload)
}

// Reset clears a single stage's state, both in memory and on disk.
func (m *Manager) Reset(stage Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch stage {
	case StageCrawl:
		m.crawl = model.NewCrawlState()
		return m.saveLocked(stage, m.crawl)
	case StageEmbed:
		m.embed = model.NewEmbedState()
		return m.saveLocked(stage, m.embed)
	case StageUpload:
		m.upload = model.NewUploadState()
		return m.saveLocked(stage, m.upload)
	default:
		return fmt.Errorf("state manager: unknown stage %q", stage)
	}
}

// ClearAll resets every stage's state.
func (m *Manager) ClearAll() error {
	for _, s := range []Stage{StageCrawl, StageEmbed, StageUpload} {
		if err := m.Reset(s); err != nil {
			return err
		}
	}
	return nil
}

// saveLocked marshals v and atomically replaces the stage's state file.
// Caller must hold m.mu.
func (m *Manager) saveLocked(stage Stage, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("state manager: marshal %s: %w", stage, err)
	}
	path := filepath.Join(m.dir, stage.filename())
	tmp, err := os.CreateTemp(m.dir, "."+string(stage)+"-*.json.tmp")
	if err != nil {
		return fmt.Errorf("state manager: create temp: %w", err)
	}
	name := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(name)
		if werr != nil {
			return fmt.Errorf("state manager: write %s: %w", stage, werr)
		}
		return fmt.Errorf("state manager: close %s: %w", stage, cerr)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("state manager: rename %s: %w", stage, err)
	}
	return nil
}
