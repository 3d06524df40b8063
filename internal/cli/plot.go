package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/okian/cgmrisk/internal/adapters/chart"
	"github.com/okian/cgmrisk/internal/adapters/ohio"
	"github.com/okian/cgmrisk/internal/domain/align"
	"github.com/okian/cgmrisk/internal/domain/features"
	"github.com/okian/cgmrisk/pkg/logger"
)

var (
	plotFile      string
	plotOut       string
	plotServing   bool
	plotMaxPoints int
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Render one session's engineered glucose and carbs on board as PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getConfig()
		ctx := cmd.Context()

		session, err := ohio.ReadFile(plotFile)
		if err != nil {
			return err
		}
		rows, err := align.New().Align(session.Glucose, session.Meals)
		if err != nil {
			return fmt.Errorf("align %s: %w", plotFile, err)
		}
		mode := features.Training
		if plotServing {
			mode = features.Serving
		}
		engineered, err := features.New(features.WithSpikeThreshold(c.SpikeThreshold)).Engineer(rows, mode)
		if err != nil {
			return fmt.Errorf("engineer %s: %w", plotFile, err)
		}

		out := plotOut
		if out == "" {
			out = filepath.Join(c.OutputDir, fmt.Sprintf("%s.png", session.PatientID))
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil { //nolint:gosec // operator chosen directory
			return fmt.Errorf("create dir: %w", err)
		}
		f, err := os.Create(out) //nolint:gosec // operator chosen path
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		renderErr := chart.Render(f, engineered, chart.Options{
			Title:     fmt.Sprintf("Patient %s (%s)", session.PatientID, mode),
			Threshold: c.SpikeThreshold,
			MaxPoints: plotMaxPoints,
		})
		if err := f.Close(); err != nil && renderErr == nil {
			renderErr = err
		}
		if renderErr != nil {
			return renderErr
		}
		logger.Get().Named("plot").Info(ctx, "chart written",
			logger.String("path", out), logger.Int("rows", len(engineered)))
		return nil
	},
}

func init() {
	plotCmd.Flags().StringVar(&plotFile, "file", "", "Session XML file to plot")
	plotCmd.Flags().StringVar(&plotOut, "out", "", "PNG path (defaults to <output_dir>/<patient>.png)")
	plotCmd.Flags().BoolVar(&plotServing, "serving", false, "Engineer in serving mode (keep every row, zero fill)")
	plotCmd.Flags().IntVar(&plotMaxPoints, "max-points", 0, "Downsample to at most this many points")
	_ = plotCmd.MarkFlagRequired("file")
}
