package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/cgmrisk/internal/synth"
	"github.com/okian/cgmrisk/pkg/logger"
)

var (
	synthDir      string
	synthPatients int
	synthDays     int
	synthTestDays int
	synthSeed     uint64
	synthStart    string
)

var synthCmd = &cobra.Command{
	Use:   "synth",
	Short: "Write a reproducible synthetic session dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getConfig()
		sc := synth.DefaultConfig()
		sc.Patients = synthPatients
		sc.Days = synthDays
		sc.TestDays = synthTestDays
		sc.Seed = synthSeed
		sc.TrainMarker = c.TrainMarker
		sc.TestMarker = c.TestMarker
		if synthStart != "" {
			start, err := time.Parse(time.DateOnly, synthStart)
			if err != nil {
				return err
			}
			sc.Start = start
		}
		dir := synthDir
		if dir == "" {
			dir = c.DatasetDir
		}

		paths, err := synth.New(sc).WriteDir(cmd.Context(), dir)
		if err != nil {
			return err
		}
		logger.Get().Named("synth").Info(cmd.Context(), "synthetic dataset written",
			logger.String("dir", dir), logger.Int("files", len(paths)))
		return nil
	},
}

func init() {
	d := synth.DefaultConfig()
	synthCmd.Flags().StringVar(&synthDir, "dir", "", "Output directory (defaults to config dataset_dir)")
	synthCmd.Flags().IntVar(&synthPatients, "patients", d.Patients, "Number of patients")
	synthCmd.Flags().IntVar(&synthDays, "days", d.Days, "Days per patient")
	synthCmd.Flags().IntVar(&synthTestDays, "test-days", d.TestDays, "Trailing days written to the test file")
	synthCmd.Flags().Uint64Var(&synthSeed, "seed", d.Seed, "Random seed")
	synthCmd.Flags().StringVar(&synthStart, "start", "", "First day, YYYY-MM-DD (default 2022-01-01)")
}
