package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"lst-yield/internal/storage"
)

// Show prints the most recent reports.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.requireStore(ctx, "show reports")
	if err != nil {
		return err
	}
	defer closeStore()

	reports, err := store.ListRecentReports(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		fmt.Fprintln(a.Out, "no reports found")
		return nil
	}

	return writeReportTable(a.Out, reports)
}

func writeReportTable(out io.Writer, reports []storage.Report) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Computed (UTC)\tEnd block\tBlock hash\tWindow\tStride\tSamples\tBase yield%")

	for _, r := range reports {
		fmt.Fprintf(
			writer,
			"%s\t%d\t%s\t%d-%d\t%d\t%d\t%s\n",
			r.ComputedAt.UTC().Format(time.RFC3339),
			r.EndBlock,
			shortHash(r.EndBlockHash),
			r.StartBlock,
			r.EndBlock,
			r.Stride,
			r.Samples,
			formatPercent(r.BaseYield, 4),
		)
	}

	return writer.Flush()
}

func shortHash(h string) string {
	if len(h) <= 14 {
		return h
	}
	return h[:8] + ".." + h[len(h)-4:]
}
