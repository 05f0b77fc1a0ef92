package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/export"
)

var (
	exportDatasetID string
	exportOutput    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the annotations of a dataset to an Excel workbook",
	Long: `Write the annotations of the latest finished job of every molecular
database of a dataset to an .xlsx workbook.

Examples:
  smengine export --ds ds1 --out ds1.xlsx`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDatasetID, "ds", "", "Dataset id (required)")
	exportCmd.Flags().StringVarP(&exportOutput, "out", "o", "", "Output workbook (required)")
	exportCmd.MarkFlagRequired("ds")
	exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.store.GetDataset(ctx, exportDatasetID)
	if err != nil {
		return err
	}
	rows, err := a.store.LatestAnnotationRows(ctx, ds.ID)
	if err != nil {
		return err
	}
	data, err := export.AnnotationsXLSX(ds, rows)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOutput, err)
	}
	fmt.Printf("Exported %d annotations to %s\n", len(rows), exportOutput)
	return nil
}
