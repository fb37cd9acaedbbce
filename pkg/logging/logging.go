// Package logging configures the repo-wide structured logger. Every pipeline
// stage logs through a *logrus.Logger carrying a "stage" field so a single
// run's entries can be filtered by which component emitted them.
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger writing text-formatted entries to stdout. verbose
// raises the level to Debug; otherwise entries are Info and above.
func New(verbose bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// ForStage returns an entry pre-tagged with the owning stage and run id; the
// CLI subcommands log through it.
func ForStage(logger *logrus.Logger, stage, runID string) *logrus.Entry {
	return logger.WithFields(logrus.Fields{
		"stage":  stage,
		"run_id": runID,
	})
}
