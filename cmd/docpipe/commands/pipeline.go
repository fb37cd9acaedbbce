package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ragforge/docpipe/pkg/logging"
)

func newPipelineCmd() *cobra.Command {
	var (
		maxPages             int
		chunkSize, overlap   int
		recreate             bool
		skipCrawl, skipEmbed bool
		skipUpload           bool
	)

	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Run crawl, embed, and upload in sequence",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("chunk-size") {
				app.cfg.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				app.cfg.ChunkOverlap = overlap
			}
			log := logging.ForStage(app.log, "pipeline", app.runID)
			ctx := cmd.Context()

			result := struct {
				Crawl  *crawlSummary  `json:"crawl,omitempty"`
				Embed  *embedSummary  `json:"embed,omitempty"`
				Upload *uploadSummary `json:"upload,omitempty"`
			}{}

			if !skipCrawl {
				log.Info("starting crawl stage")
				summary, err := runCrawl(ctx, app, maxPages)
				if err != nil {
					return fmt.Errorf("pipeline: crawl: %w", err)
				}
				result.Crawl = &summary
			}

			if !skipEmbed {
				log.Info("starting embed stage")
				summary, err := runEmbed(ctx, app)
				if err != nil {
					return fmt.Errorf("pipeline: embed: %w", err)
				}
				result.Embed = &summary
			}

			if !skipUpload {
				log.Info("starting upload stage")
				summary, err := runUpload(ctx, app, recreate)
				if err != nil {
					return fmt.Errorf("pipeline: upload: %w", err)
				}
				result.Upload = &summary
			}

			log.Info("pipeline finished")
			return printSummary(result)
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "cap the number of pages fetched during the crawl stage (0 = no cap)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "override the configured target tokens per chunk")
	cmd.Flags().IntVar(&overlap, "chunk-overlap", 0, "override the configured overlap tokens between chunks")
	cmd.Flags().BoolVar(&recreate, "recreate", false, "drop and recreate the collection before uploading")
	cmd.Flags().BoolVar(&skipCrawl, "skip-crawl", false, "skip the crawl stage")
	cmd.Flags().BoolVar(&skipEmbed, "skip-embed", false, "skip the embed stage")
	cmd.Flags().BoolVar(&skipUpload, "skip-upload", false, "skip the upload stage")

	return cmd
}
