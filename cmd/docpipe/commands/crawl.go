package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/ragforge/docpipe/engine/cache"
	"github.com/ragforge/docpipe/engine/crawler"
	"github.com/ragforge/docpipe/engine/extractor"
	"github.com/ragforge/docpipe/pkg/fn"
	"github.com/ragforge/docpipe/pkg/logging"
)

func newCrawlCmd() *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Discover and fetch documentation pages from the configured sitemap",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := bootstrap()
			if err != nil {
				return err
			}

			summary, err := runCrawl(cmd.Context(), app, maxPages)
			if err != nil {
				return err
			}

			logging.ForStage(app.log, "crawl", app.runID).WithFields(map[string]any{
				"completed": len(summary.Completed),
				"failed":    len(summary.Failed),
			}).Info("crawl stage finished")
			return printSummary(summary)
		},
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "cap the number of pages fetched this run (0 = no cap)")
	return cmd
}

// crawlSummary is the crawl subcommand's --json output shape.
type crawlSummary struct {
	Completed []string          `json:"completed"`
	Failed    map[string]string `json:"failed"`
}

func runCrawl(ctx context.Context, app *appContext, maxPages int) (_ crawlSummary, err error) {
	ctx, span := otel.Tracer("cmd/docpipe").Start(ctx, "stage.crawl")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	start := time.Now()
	defer func() { app.metrics.StageDuration.WithLabelValues("crawl").Observe(time.Since(start).Seconds()) }()

	cfg := app.cfg
	c := crawler.New(crawler.Options{
		Concurrency:  cfg.MaxConcurrentRequests,
		RequestDelay: cfg.RequestDelay,
		Retry:        fn.RetryOpts{MaxAttempts: 3, InitialWait: time.Second, MaxWait: 30 * time.Second, Jitter: true},
	})

	crawlState := app.states.CrawlState()
	var pending []string
	if resume && len(crawlState.URLsDiscovered) > 0 {
		pending = crawlState.Pending()
	} else {
		urls, err := c.DiscoverURLs(ctx, cfg.SitemapURL)
		if err != nil {
			return crawlSummary{}, fmt.Errorf("discover urls: %w", err)
		}
		app.states.SetDiscovered(urls)
		pending = urls
	}

	if maxPages > 0 && len(pending) > maxPages {
		pending = pending[:maxPages]
	}

	app.metrics.CrawlInFlight.Set(float64(len(pending)))
	defer app.metrics.CrawlInFlight.Set(0)

	err = c.CrawlAll(ctx, pending, func(res crawler.FetchResult) {
		app.metrics.CrawlInFlight.Dec()
		if res.Err != nil {
			app.states.MarkURLFailed(res.URL, res.Err.Error())
			app.metrics.PagesCrawledTotal.WithLabelValues("failed").Inc()
			return
		}

		page, extractErr := extractor.Extract(res.HTML, res.URL, time.Now().UTC())
		if extractErr != nil {
			app.states.MarkURLFailed(res.URL, extractErr.Error())
			app.metrics.PagesCrawledTotal.WithLabelValues("failed").Inc()
			return
		}

		if saveErr := cache.SavePage(cfg.CacheDir, page); saveErr != nil {
			app.states.MarkURLFailed(res.URL, saveErr.Error())
			app.metrics.PagesCrawledTotal.WithLabelValues("failed").Inc()
			return
		}

		app.states.MarkURLCompleted(res.URL)
		app.metrics.PagesCrawledTotal.WithLabelValues("ok").Inc()
	})
	if err != nil {
		_ = app.states.SaveCrawl()
		return crawlSummary{}, fmt.Errorf("crawl all: %w", err)
	}

	if err := app.states.SaveCrawl(); err != nil {
		return crawlSummary{}, fmt.Errorf("save crawl state: %w", err)
	}

	final := app.states.CrawlState()
	return crawlSummary{Completed: final.URLsCompleted, Failed: final.URLsFailed}, nil
}

// printSummary writes v as indented JSON to stdout when --json was passed.
func printSummary(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
