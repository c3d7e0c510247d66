package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [paths...]",
	Short: "Load local files and ingest them",
	Long: `Loads each file (text, markdown, html or pdf), splits it into chunks
and writes the embedded chunks to the collection. Re-ingesting a file
replaces the chunks stored for it.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var ingestLinkCmd = &cobra.Command{
	Use:   "ingest-link [urls...]",
	Short: "Fetch web pages and ingest them",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runIngestLink,
}

var forgetCmd = &cobra.Command{
	Use:   "forget [source]",
	Short: "Remove every chunk ingested from a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runForget,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(ingestLinkCmd)
	rootCmd.AddCommand(forgetCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	// 使用绝对路径作为来源，便于之后按来源删除
	paths := make([]string, len(args))
	for i, p := range args {
		if paths[i], err = filepath.Abs(p); err != nil {
			return err
		}
	}

	loader := document.NewFileLoader(document.NewLinkLoader())
	report, err := a.pipeline().IngestFiles(cmd.Context(), loader, paths)
	return printReport(cmd, report, err)
}

func runIngestLink(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	loader := document.NewFileLoader(document.NewLinkLoader())
	report, err := a.pipeline().IngestLinks(cmd.Context(), loader, args)
	return printReport(cmd, report, err)
}

func runForget(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	source := args[0]
	// 本地文件按绝对路径记录
	if _, statErr := os.Stat(source); statErr == nil {
		if abs, absErr := filepath.Abs(source); absErr == nil {
			source = abs
		}
	}

	n, err := a.pipeline().Forget(cmd.Context(), source)
	if err != nil {
		return fmt.Errorf("forget failed: %w", err)
	}
	cmd.Printf("Removed %d chunks from %s\n", n, source)
	return nil
}

// printReport 输出导入报告，部分失败时仍打印成功的部分
func printReport(cmd *cobra.Command, report *services.IngestReport, err error) error {
	var ingestErr *services.IngestError
	if err != nil && !errors.As(err, &ingestErr) {
		return fmt.Errorf("ingest failed: %w", err)
	}
	if report == nil {
		return err
	}

	for _, res := range report.Results {
		if res.Failed() {
			cmd.Printf("  FAIL  %s: %v\n", res.Source, res.Err)
			continue
		}
		cmd.Printf("  OK    %s (%d chunks)\n", res.Source, len(res.ChunkIDs))
	}
	cmd.Printf("\n%d documents, %d succeeded, %d failed, %d chunks in %s\n",
		report.Documents, report.Succeeded, report.Failed, report.Chunks, report.Duration)

	if report.Failed > 0 && report.Succeeded == 0 {
		return err
	}
	return nil
}
