package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var reindexDatasetID string

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Export the latest finished results of a dataset to the search index again",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ds, err := a.store.GetDataset(ctx, reindexDatasetID)
		if err != nil {
			return err
		}
		if err := a.manager.Reindex(ctx, ds); err != nil {
			return err
		}
		fmt.Printf("Dataset reindexed: %s\n", ds.ID)
		return nil
	},
}

func init() {
	reindexCmd.Flags().StringVar(&reindexDatasetID, "ds", "", "Dataset id (required)")
	reindexCmd.MarkFlagRequired("ds")
}
