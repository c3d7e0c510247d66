package main

import (
	"context"
	"errors"
	"time"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watchDebounce time.Duration
	watchNoSync   bool
)

var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Keep a collection in sync with a directory",
	Long: `Ingests the supported files under the directory, then watches it:
created and modified files are re-ingested, deleted files are forgotten.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "wait this long after the last change before ingesting")
	watchCmd.Flags().BoolVar(&watchNoSync, "no-sync", false, "skip the initial ingest of existing files")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	w, err := watcher.New(a.pipeline(), document.NewFileLoader(document.NewLinkLoader()),
		watcher.WithDebounce(watchDebounce),
		watcher.WithLogger(a.logger),
		watcher.WithFlushHook(func(ingested, forgotten []string) {
			a.logger.WithFields(logrus.Fields{
				"ingested":  len(ingested),
				"forgotten": len(forgotten),
			}).Info("Directory changes applied")
		}),
	)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx := cmd.Context()
	if watchNoSync {
		if _, err := w.Add(args[0]); err != nil {
			return err
		}
	} else {
		report, err := w.Sync(ctx, args[0])
		if err := printReport(cmd, report, err); err != nil {
			return err
		}
	}

	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
