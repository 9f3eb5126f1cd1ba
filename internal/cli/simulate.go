package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"lst-yield/internal/app"
)

var (
	simulateValues     []string
	simulateStride     int
	simulateStartTS    uint64
	simulateStartBlock uint64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Compute the base yield over synthetic daily backing values",
	Example: `  lstyield simulate --values 100.0,100.01,100.10,100.15,100.25
  lstyield simulate --values 1.05,1.0502,1.0504 --stride 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateValues) == 0 {
			return errors.New("--values must be provided")
		}
		if simulateStride < 0 {
			return errors.New("--stride cannot be negative")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Values:         simulateValues,
			Stride:         simulateStride,
			StartTimestamp: simulateStartTS,
			StartBlock:     simulateStartBlock,
		})
	},
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulateValues, "values", nil, "Daily backing values, oldest first")
	simulateCmd.Flags().IntVar(&simulateStride, "stride", 0, "Resampling stride in days (defaults to config)")
	simulateCmd.Flags().Uint64Var(&simulateStartTS, "start-ts", 0, "Unix timestamp of the first value")
	simulateCmd.Flags().Uint64Var(&simulateStartBlock, "start-block", 0, "Block number of the first value")
}
