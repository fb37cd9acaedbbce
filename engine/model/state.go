package model

import "time"

// CrawlState tracks per-URL progress for the crawler stage.
type CrawlState struct {
	URLsDiscovered []string          `json:"urls_discovered"`
	URLsCompleted  []string          `json:"urls_completed"`
	URLsFailed     map[string]string `json:"urls_failed"`
	LastUpdated    time.Time         `json:"last_updated"`
}

// NewCrawlState returns an empty, ready-to-use CrawlState.
func NewCrawlState() CrawlState {
	return CrawlState{URLsFailed: make(map[string]string)}
}

// Pending returns the discovered URLs not yet completed or failed.
func (s CrawlState) Pending() []string {
	done := make(map[string]struct{}, len(s.URLsCompleted)+len(s.URLsFailed))
	for _, u := range s.URLsCompleted {
		done[u] = struct{}{}
	}
	for u := range s.URLsFailed {
		done[u] = struct{}{}
	}
	var pending []string
	for _, u := range s.URLsDiscovered {
		if _, ok := done[u]; !ok {
			pending = append(pending, u)
		}
	}
	return pending
}

// EmbedState tracks per-chunk progress for the embedder stage.
type EmbedState struct {
	ChunksProcessed []string          `json:"chunks_processed"`
	ChunksFailed    map[string]string `json:"chunks_failed"`
	LastUpdated     time.Time         `json:"last_updated"`
}

func NewEmbedState() EmbedState {
	return EmbedState{ChunksFailed: make(map[string]string)}
}

// UploadState tracks per-record progress for the uploader stage.
type UploadState struct {
	VectorsUploaded []string          `json:"vectors_uploaded"`
	VectorsFailed   map[string]string `json:"vectors_failed"`
	LastUpdated     time.Time         `json:"last_updated"`
}

func NewUploadState() UploadState {
	return UploadState{VectorsFailed: make(map[string]string)}
}
