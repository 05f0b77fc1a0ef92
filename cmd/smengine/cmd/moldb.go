package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/moldb"
)

var (
	// Flags for moldb import
	molDBName    string
	molDBVersion string
	molDBCSV     string
)

var moldbCmd = &cobra.Command{
	Use:   "moldb",
	Short: "Manage molecular databases",
}

var moldbImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a molecular database from a compound CSV",
	Long: `Import a molecular database from a CSV file with a header line and the
columns sf,name,compound_id. Compounds sharing a sum formula are merged.

Examples:
  smengine moldb import --name HMDB --version 2016 --csv hmdb.csv`,
	RunE: runMolDBImport,
}

var moldbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List molecular databases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		dbs, err := a.store.ListMolDBs(ctx)
		if err != nil {
			return err
		}
		for _, db := range dbs {
			fmt.Printf("%d\t%s\t%s\n", db.ID, db.Name, db.Version)
		}
		return nil
	},
}

func init() {
	moldbCmd.AddCommand(moldbImportCmd, moldbListCmd)

	moldbImportCmd.Flags().StringVar(&molDBName, "name", "", "Database name (required)")
	moldbImportCmd.Flags().StringVar(&molDBVersion, "version", "", "Database version (required)")
	moldbImportCmd.Flags().StringVar(&molDBCSV, "csv", "", "Compound CSV file (required)")
	moldbImportCmd.MarkFlagRequired("name")
	moldbImportCmd.MarkFlagRequired("version")
	moldbImportCmd.MarkFlagRequired("csv")
}

func runMolDBImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(molDBCSV)
	if err != nil {
		return fmt.Errorf("failed to open compound CSV: %w", err)
	}
	defer f.Close()

	formulas, err := moldb.LoadFromCSV(f)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	db := &moldb.MolecularDB{Name: molDBName, Version: molDBVersion, Formulas: formulas}
	if err := a.store.SaveMolDB(ctx, db); err != nil {
		return err
	}
	fmt.Printf("Imported %s: %d sum formulas (id %d)\n", db, len(formulas), db.ID)
	return nil
}
