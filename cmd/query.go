package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/services"
	"github.com/spf13/cobra"
)

var (
	queryK      int
	queryFilter map[string]string
	queryJSON   bool
)

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the collection for chunks similar to the text",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryK, "k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().StringToStringVar(&queryFilter, "filter", nil, "metadata filter, e.g. --filter source=a.md")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "output results as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	a, err := newApp(false)
	if err != nil {
		return err
	}
	defer a.close()

	k := queryK
	if k <= 0 {
		k = a.cfg.Pipeline.DefaultK
	}

	docs, err := a.pipeline().RetrieveWithFilter(cmd.Context(), args[0], k, queryFilter)
	if err != nil {
		return fmt.Errorf("query failed: %w", err)
	}

	if queryJSON {
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal results: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	if len(docs) == 0 {
		cmd.Println("No results found.")
		return nil
	}
	for i, doc := range docs {
		printDocument(cmd, i+1, doc)
	}
	return nil
}

func printDocument(cmd *cobra.Command, rank int, doc document.Document) {
	source, _ := doc.Get(document.MetaSource)
	score, _ := doc.Get(services.MetaScore)
	cmd.Printf("[%d] %s (score %s)\n", rank, source, score)

	text := strings.TrimSpace(doc.Text)
	if runes := []rune(text); len(runes) > 300 {
		text = string(runes[:300]) + "..."
	}
	cmd.Printf("    %s\n\n", strings.ReplaceAll(text, "\n", "\n    "))
}
