// Package embedder turns text chunks into vectors via a remote embedding
// provider, batching requests and pacing them to the provider's rate limit.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/pkg/fn"
	"github.com/ragforge/docpipe/pkg/resilience"
)

const defaultAPIURL = "https://api.cohere.com/v2/embed"

// Options configures an Embedder.
type Options struct {
	APIKey     string
	APIURL     string // defaults to defaultAPIURL
	Model      string
	Dimensions int
	BatchSize  int          // chunks per request, default 96
	MaxRPM     int          // requests per minute, default 100
	HTTPClient *http.Client        // defaults to an otelhttp-instrumented client
	Retry      fn.RetryOpts        // defaults to 5 attempts, 2s base, 60s cap
	Breaker    *resilience.Breaker // trips after repeated provider failures; defaults to resilience.DefaultBreakerOpts
}

func (o Options) withDefaults() Options {
	if o.APIURL == "" {
		o.APIURL = defaultAPIURL
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 96
	}
	if o.MaxRPM <= 0 {
		o.MaxRPM = 100
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = fn.RetryOpts{
			MaxAttempts: 5,
			InitialWait: 2 * time.Second,
			MaxWait:     60 * time.Second,
			Jitter:      true,
		}
	}
	if o.Retry.RetryIf == nil {
		o.Retry.RetryIf = retryableProviderErr
	}
	if o.Breaker == nil {
		o.Breaker = resilience.NewBreaker(resilience.DefaultBreakerOpts)
	}
	return o
}

// retryableProviderErr reports whether a provider call failure should be
// retried. A 4xx response is a terminal per-batch failure, not a transient
// one.
func retryableProviderErr(err error) bool {
	return !errors.Is(err, model.ErrHTTPClient)
}

// Embedder calls a Cohere-shaped embedding API, batching chunks and
// pacing requests according to MaxRPM.
type Embedder struct {
	opts    Options
	limiter *rate.Limiter
}

// New constructs an Embedder. A zero Options.MaxRPM falls back to 100 rpm.
func New(opts Options) *Embedder {
	opts = opts.withDefaults()
	interval := time.Minute / time.Duration(opts.MaxRPM)
	return &Embedder{
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// ProgressFunc reports how many of total chunks have been embedded so far.
type ProgressFunc func(done, total int)

// EmbedChunks embeds every chunk, in batches of opts.BatchSize, respecting
// the configured rate limit between batches. Order of the returned slice
// matches the order of chunks.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []model.TextChunk, progress ProgressFunc) ([]model.Embedding, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	out := make([]model.Embedding, 0, len(chunks))
	now := time.Now().UTC()

	for start := 0; start < len(chunks); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		vectors, err := e.embedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: expected %d vectors, got %d", model.ErrProviderProtocol, len(batch), len(vectors))
		}

		for i, c := range batch {
			emb, err := model.NewEmbedding(c.ChunkID, vectors[i], e.opts.Model, now, e.opts.Dimensions)
			if err != nil {
				return nil, err
			}
			out = append(out, emb)
		}

		if progress != nil {
			progress(end, len(chunks))
		}
	}

	return out, nil
}

type embedRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

// embedResponse tolerates the provider's two observed embeddings shapes:
// a bare list of vectors, or a {"float": [...]} wrapper.
type embedResponse struct {
	Embeddings json.RawMessage `json:"embeddings"`
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := resilience.CallResult(e.opts.Breaker, ctx, func(ctx context.Context) fn.Result[[][]float32] {
		return fn.Retry(ctx, e.opts.Retry, func(ctx context.Context) fn.Result[[][]float32] {
			vectors, err := e.doRequest(ctx, texts)
			if err != nil {
				return fn.Err[[][]float32](err)
			}
			return fn.Ok(vectors)
		})
	})
	return result.Unwrap()
}

func (e *Embedder) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(embedRequest{
		Model:     e.opts.Model,
		Texts:     texts,
		InputType: "search_document",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.opts.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+e.opts.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, model.NewNetworkError(e.opts.APIURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, model.NewHTTPClientError(e.opts.APIURL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.NewNetworkError(e.opts.APIURL, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var result embedResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: malformed response body: %v", model.ErrProviderProtocol, err)
	}
	return parseEmbeddings(result.Embeddings)
}

// parseEmbeddings handles both documented Cohere response shapes: a bare
// list of vectors ([[...], [...]]), or a {"float": [[...], ...]} wrapper.
func parseEmbeddings(raw json.RawMessage) ([][]float32, error) {
	var asList [][]float32
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList, nil
	}

	var wrapped struct {
		Float [][]float32 `json:"float"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Float != nil {
		return wrapped.Float, nil
	}

	return nil, fmt.Errorf("%w: unrecognized embeddings shape: %s", model.ErrProviderProtocol, string(raw))
}
