package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lst-yield/internal/config"
	"lst-yield/internal/storage"
	"lst-yield/internal/yield"
)

func newTestApp(cfg *config.Config) (*App, *bytes.Buffer) {
	var out bytes.Buffer
	a := NewApp(cfg, zerolog.Nop())
	a.Out = &out
	return a, &out
}

func baseConfig() *config.Config {
	return &config.Config{
		Scheduler: config.SchedulerConfig{Interval: 24 * time.Hour},
		Yield:     config.YieldConfig{WindowDays: 3, Stride: 1},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
}

func sampleReports(n int) []storage.Report {
	start := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	reports := make([]storage.Report, n)
	for i := range reports {
		end := uint64(19_000_000 + i*int(yield.BlockGranularity))
		reports[i] = storage.Report{
			Contract:     "0xBe9895146f7AF43049ca1c1AE358B0541Ea49704",
			EndBlock:     end,
			EndBlockHash: "0x8f3c9a7b2e1d4c5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0c1d2e3f4a5b6c7d8e9f",
			StartBlock:   end - 3*yield.BlockGranularity,
			Stride:       1,
			Samples:      4,
			BaseYield:    0.03 + float64(i)/1000,
			ComputedAt:   start.Add(time.Duration(i) * 24 * time.Hour),
		}
	}
	return reports
}

func TestSimulatePrintsBaseYield(t *testing.T) {
	a, out := newTestApp(baseConfig())

	err := a.Simulate(context.Background(), SimulateOptions{
		Values:         []string{"100.0,100.01", "100.10", " 100.15 ,100.25"},
		StartTimestamp: 1716129570,
	})
	require.NoError(t, err)
	assert.Equal(t, "baseYield=22.79% (samples=5, intervals=4, stride=1, endBlock=28800)\n", out.String())
}

func TestSimulateStrideOverride(t *testing.T) {
	a, out := newTestApp(baseConfig())

	err := a.Simulate(context.Background(), SimulateOptions{
		Values: []string{"100.0,100.01,100.10,100.15,100.25"},
		Stride: 2,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "intervals=2, stride=2")
}

func TestSimulateRejectsBadInput(t *testing.T) {
	a, _ := newTestApp(baseConfig())

	err := a.Simulate(context.Background(), SimulateOptions{Values: []string{"100", "abc"}})
	require.Error(t, err)

	err = a.Simulate(context.Background(), SimulateOptions{Values: []string{" , "}})
	require.Error(t, err)

	err = a.Simulate(context.Background(), SimulateOptions{Values: []string{"100"}})
	require.ErrorIs(t, err, yield.ErrInsufficientData)

	err = a.Simulate(context.Background(), SimulateOptions{Values: []string{"100", "-1"}})
	require.ErrorIs(t, err, yield.ErrConversion)
}

func TestSimulateSendsAlert(t *testing.T) {
	var text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		text = body["text"]
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	cfg := baseConfig()
	cfg.Alerting = config.AlertingConfig{
		Enabled:  true,
		MinYield: 0.01,
		MaxYield: 0.1,
		Telegram: config.TelegramConfig{Enabled: true, BotToken: "t", ChatID: "c", APIBase: srv.URL, Timeout: time.Second},
	}
	a, _ := newTestApp(cfg)

	err := a.Simulate(context.Background(), SimulateOptions{Values: []string{"100.0,100.01,100.10,100.15,100.25"}})
	require.NoError(t, err)
	assert.Contains(t, text, "Base yield: 22.79%")
	assert.Contains(t, text, "above band")
}

func TestSimulateAlertWithoutChannel(t *testing.T) {
	cfg := baseConfig()
	cfg.Alerting = config.AlertingConfig{Enabled: true, MaxYield: 0.1}
	a, _ := newTestApp(cfg)

	err := a.Simulate(context.Background(), SimulateOptions{Values: []string{"100", "101"}})
	require.Error(t, err)
}

func TestAlignedEndBlocks(t *testing.T) {
	g := yield.BlockGranularity

	ends, err := alignedEndBlocks(g-1, 3*g)
	require.NoError(t, err)
	assert.Equal(t, []uint64{g, 2 * g, 3 * g}, ends)

	ends, err = alignedEndBlocks(2*g, 2*g)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2 * g}, ends)

	_, err = alignedEndBlocks(g+1, 2*g-1)
	require.Error(t, err)

	_, err = alignedEndBlocks(5, 4)
	require.Error(t, err)

	// genesis is never an end block
	ends, err = alignedEndBlocks(0, 2*g)
	require.NoError(t, err)
	assert.Equal(t, []uint64{g, 2 * g}, ends)

	_, err = alignedEndBlocks(0, g-1)
	require.Error(t, err)
}

func TestDownsampleReports(t *testing.T) {
	reports := sampleReports(10)

	assert.Len(t, downsampleReports(reports, 0), 10)
	assert.Len(t, downsampleReports(reports, 20), 10)

	picked := downsampleReports(reports, 4)
	require.Len(t, picked, 4)
	assert.Equal(t, reports[0].EndBlock, picked[0].EndBlock)
	assert.Equal(t, reports[9].EndBlock, picked[3].EndBlock)

	single := downsampleReports(reports, 1)
	require.Len(t, single, 1)
	assert.Equal(t, reports[9].EndBlock, single[0].EndBlock)
}

func TestWriteReportsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reports.csv")
	require.NoError(t, writeReportsCSV(path, sampleReports(2)))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "computed_at", records[0][0])
	assert.Equal(t, "2024-05-01T00:00:00Z", records[1][0])
	assert.Equal(t, "19000000", records[1][3])
	assert.Equal(t, "0.03", records[1][7])
	assert.Equal(t, "3.0000", records[1][8])
}

func TestWriteReportsPNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeReportsPNG(path, sampleReports(5)))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte("\x89PNG")))
}

func TestWriteReportTable(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, writeReportTable(&out, sampleReports(1)))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "Base yield%")
	assert.Contains(t, lines[1], "19000000")
	assert.Contains(t, lines[1], "0x8f3c9a..8e9f")
	assert.Contains(t, lines[1], "3.0000")
}

func TestExportNeedsTarget(t *testing.T) {
	a, _ := newTestApp(baseConfig())
	require.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestExportWindow(t *testing.T) {
	a, _ := newTestApp(baseConfig())

	to := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	from, gotTo, err := a.exportWindow(ExportOptions{To: &to, MaxPoints: 10})
	require.NoError(t, err)
	assert.Equal(t, to, gotTo)
	assert.Equal(t, to.Add(-240*time.Hour), from)

	_, _, err = a.exportWindow(ExportOptions{From: &to, To: &to})
	require.Error(t, err)
}

func TestCommandsRequireDatabase(t *testing.T) {
	a, _ := newTestApp(baseConfig())
	ctx := context.Background()

	require.Error(t, a.Show(ctx, ShowOptions{Limit: 5}))
	require.Error(t, a.Migrate(ctx))
	require.Error(t, a.Backfill(ctx, BackfillOptions{FromBlock: yield.BlockGranularity, ToBlock: 2 * yield.BlockGranularity}))
}

func TestComputeRequiresRPC(t *testing.T) {
	a, _ := newTestApp(baseConfig())
	require.Error(t, a.Compute(context.Background(), ComputeOptions{}))
}
