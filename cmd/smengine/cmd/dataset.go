package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
	"github.com/ChrisMcGann/SMEngine/pkg/dataset"
)

var (
	// Flags for dataset commands
	dsID         string
	dsName       string
	dsInputPath  string
	dsConfigFile string
	dsMetaFile   string
	dsNoRun      bool
	dsDelRaw     bool
)

var datasetCmd = &cobra.Command{
	Use:   "dataset",
	Short: "Manage datasets",
}

var datasetAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a dataset and request its annotation",
	Long: `Add a dataset stored as ds.txt and ds_coord.txt under the input directory.
A stored dataset with the same id is replaced. In local mode the annotation
runs right away unless --no-run is given; otherwise a job message is posted.

Examples:
  smengine dataset add --input /data/brain --config-file brain.json --metadata meta.json
  smengine dataset add --id ds1 --name brain --input /data/brain --config-file brain.json --no-run`,
	RunE: runDatasetAdd,
}

var datasetUpdateCmd = &cobra.Command{
	Use:   "update",
	Short: "Update dataset name, metadata or config",
	Long: `Update a dataset. Unchanged search parameters only reindex the stored
results, newly added molecular databases request a job, and changed
instrument or isotope parameters re-add the dataset.`,
	RunE: runDatasetUpdate,
}

var datasetDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a dataset with its results",
	RunE:  runDatasetDelete,
}

var datasetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored datasets",
	RunE:  runDatasetList,
}

func init() {
	datasetCmd.AddCommand(datasetAddCmd, datasetUpdateCmd, datasetDeleteCmd, datasetListCmd)

	datasetAddCmd.Flags().StringVar(&dsID, "id", "", "Dataset id (generated if not specified)")
	datasetAddCmd.Flags().StringVar(&dsName, "name", "", "Dataset name (metadata name or id if not specified)")
	datasetAddCmd.Flags().StringVarP(&dsInputPath, "input", "i", "", "Input directory (required)")
	datasetAddCmd.Flags().StringVar(&dsConfigFile, "config-file", "", "Dataset config JSON (required)")
	datasetAddCmd.Flags().StringVar(&dsMetaFile, "metadata", "", "Dataset metadata JSON")
	datasetAddCmd.Flags().BoolVar(&dsNoRun, "no-run", false, "Do not run the annotation in local mode")
	datasetAddCmd.MarkFlagRequired("input")
	datasetAddCmd.MarkFlagRequired("config-file")

	datasetUpdateCmd.Flags().StringVar(&dsID, "ds", "", "Dataset id (required)")
	datasetUpdateCmd.Flags().StringVar(&dsName, "name", "", "New dataset name")
	datasetUpdateCmd.Flags().StringVar(&dsConfigFile, "config-file", "", "New dataset config JSON")
	datasetUpdateCmd.Flags().StringVar(&dsMetaFile, "metadata", "", "New dataset metadata JSON")
	datasetUpdateCmd.Flags().BoolVar(&dsNoRun, "no-run", false, "Do not run a requested annotation in local mode")
	datasetUpdateCmd.MarkFlagRequired("ds")

	datasetDeleteCmd.Flags().StringVar(&dsID, "ds", "", "Dataset id (required)")
	datasetDeleteCmd.Flags().BoolVar(&dsDelRaw, "del-raw", false, "Also delete the input directory (default from config)")
	datasetDeleteCmd.MarkFlagRequired("ds")
}

func readJSONFile(path string) (json.RawMessage, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, &core.ValidationError{Field: path, Message: "not valid JSON"}
	}
	return data, nil
}

func runDatasetAdd(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	cfgJSON, err := readJSONFile(dsConfigFile)
	if err != nil {
		return err
	}
	meta, err := readJSONFile(dsMetaFile)
	if err != nil {
		return err
	}

	inputPath := dsInputPath
	if !filepath.IsAbs(inputPath) && a.cfg.Storage.DataPath != "" {
		inputPath = filepath.Join(a.cfg.Storage.DataPath, inputPath)
	}
	ds := &core.Dataset{
		ID:        dsID,
		InputPath: inputPath,
		UploadDT:  time.Now().UTC().Truncate(time.Second),
		Metadata:  meta,
		Config:    cfgJSON,
	}
	if ds.ID == "" {
		ds.ID = dataset.NewID()
	}
	ds.Name = dataset.ChooseName(ds.ID, dsName, meta)

	if err := a.manager.Add(ctx, ds); err != nil {
		return err
	}
	fmt.Printf("Dataset added: %s (%s)\n", ds.ID, ds.Name)
	return a.runIfLocal(cmd, ds)
}

func runDatasetUpdate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.store.GetDataset(ctx, dsID)
	if err != nil {
		return err
	}
	if dsName != "" {
		ds.Name = dsName
	}
	if meta, err := readJSONFile(dsMetaFile); err != nil {
		return err
	} else if meta != nil {
		ds.Metadata = meta
	}
	if cfgJSON, err := readJSONFile(dsConfigFile); err != nil {
		return err
	} else if cfgJSON != nil {
		ds.Config = cfgJSON
	}

	if err := a.manager.Update(ctx, ds); err != nil {
		return err
	}
	fmt.Printf("Dataset updated: %s (%s)\n", ds.ID, ds.Status)
	return a.runIfLocal(cmd, ds)
}

// runIfLocal runs the annotation of a QUEUED dataset when no broker is
// configured.
func (a *app) runIfLocal(cmd *cobra.Command, ds *core.Dataset) error {
	if !a.cfg.Local() || dsNoRun || ds.Status != core.DatasetQueued {
		return nil
	}
	if err := a.searchJob().Run(cmd.Context(), ds.ID); err != nil {
		return err
	}
	fmt.Printf("Annotation complete: %s\n", ds.ID)
	return nil
}

func runDatasetDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ds, err := a.store.GetDataset(ctx, dsID)
	if err != nil {
		return err
	}
	delRaw := a.cfg.Storage.DeleteRawData
	if cmd.Flags().Changed("del-raw") {
		delRaw = dsDelRaw
	}
	if err := a.manager.Delete(ctx, ds, delRaw); err != nil {
		return err
	}
	fmt.Printf("Dataset deleted: %s\n", ds.ID)
	return nil
}

func runDatasetList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.ListDatasets(ctx)
	if err != nil {
		return err
	}
	for _, ds := range list {
		fmt.Printf("%s\t%s\t%s\t%s\n", ds.ID, ds.Status, ds.UploadDT.Format(core.TimeFormat), ds.Name)
	}
	return nil
}
