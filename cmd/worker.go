package main

import (
	"errors"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/fyerfyer/lang-data/pkg/taskqueue"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued ingest tasks",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	if a.queue == nil {
		return errors.New("task queue is disabled, set queue.enable in the config")
	}

	loader := document.NewStorageLoader(a.storage, document.NewLinkLoader())
	handler := services.NewIngestTaskHandler(a.pipelines, loader, a.logger)

	worker := taskqueue.NewRedisWorker(a.queue, nil)
	for _, taskType := range handler.GetTaskTypes() {
		worker.RegisterHandler(taskType, handler)
	}
	if err := worker.Start(); err != nil {
		return err
	}
	a.logger.WithField("concurrency", a.cfg.Queue.Concurrency).Info("Worker started")

	<-cmd.Context().Done()

	a.logger.Info("Shutting down worker...")
	worker.Stop()
	return nil
}
