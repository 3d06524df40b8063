package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/cgmrisk/internal/adapters/dataset"
	"github.com/okian/cgmrisk/internal/app"
	"github.com/okian/cgmrisk/pkg/logger"
)

var (
	trainDir     string
	trainOut     string
	trainFormats string
	trainStore   string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Build the labelled training and test datasets from session files",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getConfig()
		ctx := cmd.Context()
		log := logger.Get().Named("train")

		if trainDir == "" {
			trainDir = c.DatasetDir
		}
		if trainOut == "" {
			trainOut = c.OutputDir
		}
		formats, err := dataset.ParseFormats(trainFormats)
		if err != nil {
			return err
		}

		opts := []app.TrainerOption{
			app.WithMarkers(c.TrainMarker, c.TestMarker),
			app.WithWorkerCount(c.WorkerCount),
			app.WithQueueSize(c.QueueSize),
			app.WithSpikeThreshold(c.SpikeThreshold),
			app.WithTrainerLogger(log),
		}
		if trainStore != "" {
			store, err := dataset.OpenSQLite(ctx, trainStore)
			if err != nil {
				return err
			}
			defer func() {
				if err := store.Close(); err != nil {
					log.Error(ctx, "close store", logger.Error(err))
				}
			}()
			opts = append(opts, app.WithStore(store))
		}

		ds, err := app.NewTrainer(trainDir, opts...).Run(ctx)
		if err != nil && !errors.Is(err, app.ErrNoTrainingRows) {
			return err
		}
		if ds != nil {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(ds.Summary); encErr != nil {
				return fmt.Errorf("write summary: %w", encErr)
			}
		}
		if err != nil {
			return err
		}

		paths, err := dataset.Export(ctx, trainOut, formats, ds.Partitions())
		if err != nil {
			return err
		}
		for _, p := range paths {
			log.Info(ctx, "dataset written", logger.String("path", p))
		}
		return nil
	},
}

func init() {
	trainCmd.Flags().StringVar(&trainDir, "dir", "", "Directory of session XML files (defaults to config dataset_dir)")
	trainCmd.Flags().StringVar(&trainOut, "out", "", "Output directory (defaults to config output_dir)")
	trainCmd.Flags().StringVar(&trainFormats, "formats", "csv", "Comma separated export formats: csv, msgpack, sqlite")
	trainCmd.Flags().StringVar(&trainStore, "store", "", "Stage rows in this SQLite file instead of memory")
}
