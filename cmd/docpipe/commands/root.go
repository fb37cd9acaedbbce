// Package commands defines the docpipe CLI: a cobra root command plus the
// crawl, embed, upload, and pipeline subcommands that drive the ingestion
// stages end to end.
package commands

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ragforge/docpipe/engine/state"
	"github.com/ragforge/docpipe/pkg/config"
	"github.com/ragforge/docpipe/pkg/logging"
	"github.com/ragforge/docpipe/pkg/metrics"
)

var (
	configPath string
	verbose    bool
	jsonOutput bool
	resume     bool
)

// appContext bundles the ambient services every subcommand needs, built by
// bootstrap() and threaded explicitly into each RunE.
type appContext struct {
	cfg     config.Config
	log     *logrus.Logger
	metrics *metrics.Pipeline
	states  *state.Manager
	runID   string
}

func bootstrap() (*appContext, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logging.New(verbose)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sm, err := state.NewManager(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}

	return &appContext{
		cfg:     cfg,
		log:     log,
		metrics: m,
		states:  sm,
		runID:   time.Now().UTC().Format("20060102T150405Z"),
	}, nil
}

// NewRootCmd constructs the docpipe root command and attaches every
// subcommand.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "docpipe",
		Short: "Crawl, chunk, embed, and index documentation into a vector store",
		Long: `docpipe ingests a documentation site into a Qdrant collection for retrieval-
augmented generation: it discovers pages from a sitemap, extracts clean
reading text, splits it into overlapping chunks, embeds the chunks through
a remote provider, and upserts the resulting vectors into Qdrant.

Each stage checkpoints its progress to disk, so any subcommand can be
re-run with --resume after a partial failure or interruption.

Configuration is read from the environment (optionally seeded by a .env
file via --config); see pkg/config for the full variable list.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an alternate .env file")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")
	root.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print a machine-readable JSON summary on completion")
	root.PersistentFlags().BoolVar(&resume, "resume", false, "resume from the last checkpointed state for this stage")

	root.AddCommand(
		newCrawlCmd(),
		newEmbedCmd(),
		newUploadCmd(),
		newPipelineCmd(),
	)

	return root
}
