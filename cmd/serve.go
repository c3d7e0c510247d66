package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyerfyer/lang-data/api"
	"github.com/fyerfyer/lang-data/api/handler"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(true)
	if err != nil {
		return err
	}
	defer a.close()

	// 设置Gin模式
	if a.cfg.Server.Mode != "" {
		gin.SetMode(a.cfg.Server.Mode)
	}

	// 准备默认集合，失败时延迟到第一次导入
	if err := a.pipelines.Default().Prepare(cmd.Context()); err != nil {
		a.logger.WithError(err).Warn("Failed to prepare default collection")
	}

	queue := a.taskQueue()
	handlers := api.Handlers{
		Collections: handler.NewCollectionHandler(a.pipelines),
		Ingest:      handler.NewIngestHandler(a.pipelines, a.storage, queue),
		Search:      handler.NewSearchHandler(a.pipelines),
		Sources:     handler.NewSourceHandler(a.pipelines),
		Tasks:       handler.NewTaskHandler(queue),
	}

	var extra []gin.HandlerFunc
	if a.cfg.Server.CORS {
		extra = append(extra, api.Cors())
	}
	router := api.SetupRouter(handlers, extra...)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: a.cfg.Pipeline.Timeout + 30*time.Second,
	}

	// 在单独的goroutine中启动服务器
	errCh := make(chan error, 1)
	go func() {
		a.logger.WithField("addr", srv.Addr).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// 等待中断信号以优雅地关闭服务器
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-cmd.Context().Done():
	}

	a.logger.Info("Shutting down server...")

	// 设置关闭超时
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.logger.Info("Server exited")
	return nil
}
