package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"lst-yield/internal/alerting"
	"lst-yield/internal/yield"
)

// Simulate runs the aggregator over synthetic daily backing values without
// touching the network or the database. When alerting is enabled the result
// also goes through the configured notifier.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	values, err := parseValues(opts.Values)
	if err != nil {
		return err
	}

	series, err := yield.DailySeries(opts.StartTimestamp, opts.StartBlock, values)
	if err != nil {
		return err
	}

	stride := a.Config.ResolveStride(opts.Stride)
	res, err := yield.Compute(series, stride)
	if err != nil {
		return err
	}

	newest, _ := series.Newest()
	fmt.Fprintf(a.Out, "baseYield=%s%% (samples=%d, intervals=%d, stride=%d, endBlock=%d)\n",
		formatPercent(res.BaseYield, 2), len(series), res.Intervals, stride, newest.BlockNumber)

	if !a.Config.Alerting.Enabled {
		return nil
	}
	return a.simulateAlert(ctx, res, newest)
}

func (a *App) simulateAlert(ctx context.Context, res yield.Result, newest yield.Observation) error {
	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("alerting enabled but no channel configured")
	}

	alertCfg := a.Config.Alerting
	direction, breached := alerting.Classify(res.BaseYield, alertCfg.MinYield, alertCfg.MaxYield)
	if !breached {
		a.Logger.Info().Float64("base_yield", res.BaseYield).Msg("simulated yield inside alert band; nothing sent")
		return nil
	}

	return notifier.Notify(ctx, alerting.Notification{
		EndBlock:      newest.BlockNumber,
		EndBlockHash:  "simulated",
		ComputedAt:    time.Now().UTC(),
		BaseYield:     res.BaseYield,
		MinYield:      alertCfg.MinYield,
		MaxYield:      alertCfg.MaxYield,
		Direction:     direction,
		Channels:      alertCfg.Channels,
		AdditionalMsg: "simulation",
	})
}

// parseValues accepts entries that may themselves be comma separated.
func parseValues(raw []string) ([]decimal.Decimal, error) {
	var values []decimal.Decimal
	for _, entry := range raw {
		for _, field := range strings.Split(entry, ",") {
			field = strings.TrimSpace(field)
			if field == "" {
				continue
			}
			d, err := decimal.NewFromString(field)
			if err != nil {
				return nil, fmt.Errorf("parse value %q: %w", field, err)
			}
			values = append(values, d)
		}
	}
	if len(values) == 0 {
		return nil, errors.New("--values must list at least one backing value")
	}
	return values, nil
}
