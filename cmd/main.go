package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// 全局命令行参数
var (
	configPath string // 配置文件路径
	collection string // 目标集合，为空时使用配置中的默认集合
)

var rootCmd = &cobra.Command{
	Use:   "lang-data",
	Short: "Ingest documents into vector stores and query them",
	Long: `lang-data loads files and web pages, splits them into chunks,
embeds the chunks and keeps them in a vector store for similarity search.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&collection, "collection", "", "collection name (default from config)")
}

func main() {
	// 中断信号取消正在进行的导入和检索
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
