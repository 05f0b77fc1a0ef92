package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var annotateDatasetID string

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Run the molecule search of a stored dataset",
	Long: `Run the annotation job of a stored dataset in-process against every
molecular database in its config that has no finished job yet.

Examples:
  smengine annotate --ds 2016-01-01_10h00m00s`,
	RunE: runAnnotate,
}

func init() {
	annotateCmd.Flags().StringVar(&annotateDatasetID, "ds", "", "Dataset id (required)")
	annotateCmd.MarkFlagRequired("ds")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.searchJob().Run(ctx, annotateDatasetID); err != nil {
		return err
	}
	n, err := a.index.Count(ctx, annotateDatasetID)
	if err != nil {
		return err
	}
	fmt.Printf("Annotation complete: %d annotations indexed for %s\n", n, annotateDatasetID)
	return nil
}
