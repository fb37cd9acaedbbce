package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/ragforge/docpipe/engine/cache"
	"github.com/ragforge/docpipe/engine/chunker"
	"github.com/ragforge/docpipe/engine/embedder"
	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/pkg/fn"
	"github.com/ragforge/docpipe/pkg/logging"
)

func newEmbedCmd() *cobra.Command {
	var chunkSize, chunkOverlap int

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Chunk cached pages and embed them through the configured provider",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("chunk-size") {
				app.cfg.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				app.cfg.ChunkOverlap = chunkOverlap
			}

			summary, err := runEmbed(cmd.Context(), app)
			if err != nil {
				return err
			}

			logging.ForStage(app.log, "embed", app.runID).WithFields(map[string]any{
				"embedded": summary.Embedded,
				"skipped":  summary.Skipped,
			}).Info("embed stage finished")
			return printSummary(summary)
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "override the configured target tokens per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "override the configured overlap tokens between chunks")
	return cmd
}

type embedSummary struct {
	Embedded int `json:"embedded"`
	Skipped  int `json:"skipped"`
}

// chunkPageStage turns one cached page into its text chunks, traced as a
// pipeline stage so chunking failures surface with the same span/error
// shape as the rest of the pipeline.
func chunkPageStage(opts chunker.Options) fn.Stage[model.DocumentPage, []model.TextChunk] {
	return fn.TracedStage("chunk_page", func(_ context.Context, page model.DocumentPage) fn.Result[[]model.TextChunk] {
		chunks, err := chunker.Chunk(page, opts)
		if err != nil {
			return fn.Err[[]model.TextChunk](err)
		}
		return fn.Ok(chunks)
	})
}

func runEmbed(ctx context.Context, app *appContext) (_ embedSummary, err error) {
	ctx, span := otel.Tracer("cmd/docpipe").Start(ctx, "stage.embed")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { app.metrics.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds()) }()

	cfg := app.cfg

	pages, err := cache.LoadAllPages(cfg.CacheDir)
	if err != nil {
		return embedSummary{}, fmt.Errorf("load cached pages: %w", err)
	}

	chunkResults := fn.BatchStage(cfg.MaxConcurrentRequests, chunkPageStage(chunker.Options{
		ChunkSize: cfg.ChunkSize,
		Overlap:   cfg.ChunkOverlap,
	}))(ctx, pages)
	perPage, err := chunkResults.Unwrap()
	if err != nil {
		return embedSummary{}, fmt.Errorf("chunk pages: %w", err)
	}

	var allChunks []model.TextChunk
	for _, chunks := range perPage {
		allChunks = append(allChunks, chunks...)
	}

	embedState := app.states.EmbedState()
	alreadyDone := make(map[string]struct{}, len(embedState.ChunksProcessed)+len(embedState.ChunksFailed))
	for _, id := range embedState.ChunksProcessed {
		alreadyDone[id] = struct{}{}
	}
	for id := range embedState.ChunksFailed {
		alreadyDone[id] = struct{}{}
	}

	pending := allChunks
	if resume {
		pending = pending[:0]
		for _, c := range allChunks {
			if _, done := alreadyDone[c.ChunkID]; !done {
				pending = append(pending, c)
			}
		}
	}

	skipped := len(allChunks) - len(pending)
	if len(pending) == 0 {
		return embedSummary{Embedded: 0, Skipped: skipped}, nil
	}

	app.metrics.ChunksTotal.Add(float64(len(pending)))

	e := embedder.New(embedder.Options{
		APIKey:     cfg.CohereAPIKey,
		Model:      cfg.EmbeddingModel,
		Dimensions: cfg.EmbeddingDimensions,
		BatchSize:  cfg.CohereBatchSize,
		MaxRPM:     cfg.CohereMaxRPM,
	})

	embeddings, err := e.EmbedChunks(ctx, pending, func(done, total int) {
		app.metrics.EmbedRequestsTotal.WithLabelValues("ok").Inc()
		logging.ForStage(app.log, "embed", app.runID).WithFields(map[string]any{"done": done, "total": total}).Debug("embedding progress")
	})
	if err != nil {
		app.metrics.EmbedRequestsTotal.WithLabelValues("failed").Inc()
		return embedSummary{}, fmt.Errorf("embed chunks: %w", err)
	}

	byID := make(map[string]model.TextChunk, len(pending))
	for _, c := range pending {
		byID[c.ChunkID] = c
	}

	records := make([]cache.EmbeddingRecord, 0, len(embeddings))
	for _, emb := range embeddings {
		pair := model.EmbeddingPair{Chunk: byID[emb.ChunkID], Embedding: emb}
		records = append(records, cache.RecordFromPair(pair))
		app.states.MarkChunkProcessed(emb.ChunkID)
	}

	if err := cache.AppendEmbeddingRecords(cfg.EmbeddingsPath, records); err != nil {
		return embedSummary{}, fmt.Errorf("write embeddings: %w", err)
	}
	if err := app.states.SaveEmbed(); err != nil {
		return embedSummary{}, fmt.Errorf("save embed state: %w", err)
	}

	return embedSummary{Embedded: len(records), Skipped: skipped}, nil
}
