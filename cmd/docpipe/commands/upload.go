package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/ragforge/docpipe/engine/cache"
	"github.com/ragforge/docpipe/engine/model"
	"github.com/ragforge/docpipe/engine/uploader"
	"github.com/ragforge/docpipe/pkg/logging"
)

func newUploadCmd() *cobra.Command {
	var recreate bool

	cmd := &cobra.Command{
		Use:   "upload",
		Short: "Upsert embedded chunks from the embeddings file into the Qdrant collection",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}

			summary, err := runUpload(cmd.Context(), app, recreate)
			if err != nil {
				return err
			}

			logging.ForStage(app.log, "upload", app.runID).WithFields(map[string]any{
				"uploaded": len(summary.Uploaded),
				"failed":   len(summary.Failed),
				"count":    summary.Count,
			}).Info("upload stage finished")
			return printSummary(summary)
		},
	}

	cmd.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate the collection before uploading")
	return cmd
}

type uploadSummary struct {
	Uploaded []string          `json:"uploaded"`
	Failed   map[string]string `json:"failed"`
	Count    uint64            `json:"count"`
}

func runUpload(ctx context.Context, app *appContext, recreate bool) (_ uploadSummary, err error) {
	ctx, span := otel.Tracer("cmd/docpipe").Start(ctx, "stage.upload")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { app.metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(start).Seconds()) }()

	cfg := app.cfg

	records, err := cache.ReadEmbeddingRecords(cfg.EmbeddingsPath)
	if err != nil {
		return uploadSummary{}, fmt.Errorf("read embeddings: %w", err)
	}

	uploadState := app.states.UploadState()
	alreadyDone := make(map[string]struct{}, len(uploadState.VectorsUploaded)+len(uploadState.VectorsFailed))
	for _, id := range uploadState.VectorsUploaded {
		alreadyDone[id] = struct{}{}
	}
	for id := range uploadState.VectorsFailed {
		alreadyDone[id] = struct{}{}
	}

	var pairs []model.EmbeddingPair
	for _, r := range records {
		pointID := uploader.PointID(r.ChunkID)
		if resume {
			if _, done := alreadyDone[pointID]; done {
				continue
			}
		}
		pair, err := r.ToPair()
		if err != nil {
			return uploadSummary{}, fmt.Errorf("decode embedding record: %w", err)
		}
		pairs = append(pairs, pair)
	}

	store, err := uploader.New(uploader.Options{
		Host:       cfg.QdrantHost(),
		Port:       cfg.QdrantPort(),
		APIKey:     cfg.QdrantAPIKey,
		UseTLS:     cfg.QdrantUseTLS,
		Collection: cfg.QdrantCollection,
		VectorSize: uint64(cfg.EmbeddingDimensions),
	})
	if err != nil {
		return uploadSummary{}, fmt.Errorf("connect to qdrant: %w", err)
	}
	defer store.Close()

	if _, err := store.EnsureCollection(ctx, recreate); err != nil {
		return uploadSummary{}, fmt.Errorf("ensure collection: %w", err)
	}

	uploaded, failed, err := store.UploadEmbeddings(ctx, pairs)
	if err != nil {
		return uploadSummary{}, fmt.Errorf("upload embeddings: %w", err)
	}

	for _, chunkID := range uploaded {
		app.states.MarkVectorUploaded(uploader.PointID(chunkID))
		app.metrics.VectorsTotal.WithLabelValues("ok").Inc()
	}
	for chunkID, msg := range failed {
		app.states.MarkVectorFailed(uploader.PointID(chunkID), msg)
		app.metrics.VectorsTotal.WithLabelValues("failed").Inc()
	}
	if err := app.states.SaveUpload(); err != nil {
		return uploadSummary{}, fmt.Errorf("save upload state: %w", err)
	}

	count, err := store.Count(ctx)
	if err != nil {
		return uploadSummary{}, fmt.Errorf("count collection: %w", err)
	}

	return uploadSummary{Uploaded: uploaded, Failed: failed, Count: count}, nil
}
