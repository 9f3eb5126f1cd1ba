package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lst-yield/internal/app"
)

var (
	backfillFrom   uint64
	backfillTo     uint64
	backfillStride int
	backfillDryRun bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Compute reports for every aligned end block in a block range",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("from-block") || !cmd.Flags().Changed("to-block") {
			return fmt.Errorf("--from-block and --to-block must be provided")
		}
		if backfillTo < backfillFrom {
			return fmt.Errorf("--from-block must not exceed --to-block")
		}

		opts := app.BackfillOptions{
			FromBlock: backfillFrom,
			ToBlock:   backfillTo,
			Stride:    backfillStride,
			DryRun:    backfillDryRun,
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().Uint64Var(&backfillFrom, "from-block", 0, "First candidate end block (inclusive)")
	backfillCmd.Flags().Uint64Var(&backfillTo, "to-block", 0, "Last candidate end block (inclusive)")
	backfillCmd.Flags().IntVar(&backfillStride, "stride", 0, "Resampling stride in days (defaults to config)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Print reports without writing to storage")
}
