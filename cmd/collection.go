package main

import (
	"fmt"

	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/spf13/cobra"
)

var collectionCmd = &cobra.Command{
	Use:   "collection",
	Short: "Manage collections",
}

var collectionCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a collection sized for the configured embedding model",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		p := a.pipelines.For(collectionArg(args))
		if err := p.Prepare(cmd.Context()); err != nil {
			return fmt.Errorf("create collection failed: %w", err)
		}
		cmd.Printf("Collection %s ready\n", p.Collection())
		return nil
	},
}

var collectionDropCmd = &cobra.Command{
	Use:   "drop [name]",
	Short: "Delete a collection and its ingest records",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(false)
		if err != nil {
			return err
		}
		defer a.close()

		p := a.pipelines.For(collectionArg(args))
		if err := p.Drop(cmd.Context()); err != nil {
			if vectordb.IsNotFound(err) {
				cmd.Printf("Collection %s does not exist\n", p.Collection())
				return nil
			}
			return fmt.Errorf("drop collection failed: %w", err)
		}
		cmd.Printf("Collection %s dropped\n", p.Collection())
		return nil
	},
}

func init() {
	collectionCmd.AddCommand(collectionCreateCmd)
	collectionCmd.AddCommand(collectionDropCmd)
	rootCmd.AddCommand(collectionCmd)
}

// collectionArg 位置参数优先于--collection
func collectionArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return collection
}
