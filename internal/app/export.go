package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"lst-yield/internal/storage"
)

// Export renders report history as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	from, to, err := a.exportWindow(opts)
	if err != nil {
		return err
	}

	store, closeStore, err := a.requireStore(ctx, "export")
	if err != nil {
		return err
	}
	defer closeStore()

	reports, err := store.ListReportsBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(reports) == 0 {
		a.Logger.Info().Time("from", from).Time("to", to).Msg("no reports found for export window")
		return nil
	}

	downsampled := downsampleReports(reports, opts.MaxPoints)
	a.Logger.Info().Int("total", len(reports)).Int("exported", len(downsampled)).Msg("exporting reports")

	if opts.CSVPath != "" {
		if err := writeReportsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeReportsPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

// exportWindow defaults to the last MaxPoints scheduler intervals ending now.
func (a *App) exportWindow(opts ExportOptions) (time.Time, time.Time, error) {
	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, errors.New("from must be before to")
	}
	return from, to, nil
}

// downsampleReports picks max evenly spaced reports, always keeping both ends.
func downsampleReports(reports []storage.Report, max int) []storage.Report {
	if max <= 0 || len(reports) <= max {
		return reports
	}
	if max == 1 {
		return reports[len(reports)-1:]
	}

	result := make([]storage.Report, 0, max)
	step := float64(len(reports)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(reports) {
			idx = len(reports) - 1
		}
		result = append(result, reports[idx])
	}
	return result
}

func writeReportsCSV(path string, reports []storage.Report) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"computed_at", "contract", "start_block", "end_block", "end_block_hash", "stride", "samples", "base_yield", "base_yield_pct"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range reports {
		record := []string{
			r.ComputedAt.UTC().Format(time.RFC3339),
			r.Contract,
			strconv.FormatUint(r.StartBlock, 10),
			strconv.FormatUint(r.EndBlock, 10),
			r.EndBlockHash,
			strconv.Itoa(r.Stride),
			strconv.Itoa(r.Samples),
			strconv.FormatFloat(r.BaseYield, 'g', -1, 64),
			formatPercent(r.BaseYield, 4),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeReportsPNG(path string, reports []storage.Report) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(reports))
	pct := make([]float64, len(reports))
	for i, r := range reports {
		x[i] = r.ComputedAt
		pct[i] = r.BaseYield * 100
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Base yield (%)",
			ValueFormatter: pctFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Base yield %",
				XValues: x,
				YValues: pct,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// formatPercent renders a ratio as a fixed-place percentage string.
func formatPercent(ratio float64, places int32) string {
	return decimal.NewFromFloat(ratio).Shift(2).StringFixed(places)
}
