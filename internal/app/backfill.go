package app

import (
	"context"
	"errors"
	"fmt"

	"lst-yield/internal/storage"
	"lst-yield/internal/yield"
)

// Backfill computes one report per granularity-aligned end block in
// [FromBlock, ToBlock]. Consecutive windows share all but one observation,
// so the cache keeps RPC traffic at one backing read per step.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	ends, err := alignedEndBlocks(opts.FromBlock, opts.ToBlock)
	if err != nil {
		return err
	}

	var store *storage.Store
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: reports are printed, not stored")
	} else {
		var closeStore func()
		store, closeStore, err = a.requireStore(ctx, "backfill")
		if err != nil {
			return err
		}
		defer closeStore()
	}

	svc, closeFetcher := a.newService(store, nil, nil, nil)
	defer closeFetcher()

	processed, failed := 0, 0
	for _, end := range ends {
		if err := ctx.Err(); err != nil {
			return err
		}

		report, err := svc.ComputeAt(ctx, end, opts.Stride)
		if err != nil {
			failed++
			a.Logger.Error().Err(err).Uint64("end_block", end).Msg("backfill step failed")
			continue
		}
		processed++
		if opts.DryRun {
			fmt.Fprintln(a.Out, report.String())
		}
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	if failed > 0 {
		return fmt.Errorf("%d of %d backfill steps failed; see log", failed, len(ends))
	}
	return nil
}

// alignedEndBlocks lists the multiples of BlockGranularity within [from, to].
// Block zero is skipped: an end block of zero selects the chain head.
func alignedEndBlocks(from, to uint64) ([]uint64, error) {
	if to < from {
		return nil, errors.New("backfill range is empty; check --from-block/--to-block")
	}

	first := from
	if rem := from % yield.BlockGranularity; rem != 0 {
		first = from + (yield.BlockGranularity - rem)
	}
	if first == 0 {
		first = yield.BlockGranularity
	}
	if first > to {
		return nil, fmt.Errorf("no block in [%d, %d] is a multiple of %d", from, to, yield.BlockGranularity)
	}

	ends := make([]uint64, 0, (to-first)/yield.BlockGranularity+1)
	for b := first; b <= to; b += yield.BlockGranularity {
		ends = append(ends, b)
	}
	return ends, nil
}
