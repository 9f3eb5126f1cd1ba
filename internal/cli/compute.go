package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"lst-yield/internal/app"
)

var (
	computeEndBlock uint64
	computeStride   int
)

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute the base yield once and print the committed result",
	RunE: func(cmd *cobra.Command, args []string) error {
		if computeStride < 0 {
			return fmt.Errorf("--stride cannot be negative")
		}
		return getApp().Compute(cmd.Context(), app.ComputeOptions{
			EndBlock: computeEndBlock,
			Stride:   computeStride,
		})
	},
}

func init() {
	computeCmd.Flags().Uint64Var(&computeEndBlock, "end-block", 0, "Newest block of the window (defaults to the chain head)")
	computeCmd.Flags().IntVar(&computeStride, "stride", 0, "Resampling stride in days (defaults to config)")
}
