package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Flaque/filet"
	"github.com/owldoor/geocode-bulk/internal/address"
	"github.com/owldoor/geocode-bulk/internal/checkpoint"
	"github.com/owldoor/geocode-bulk/internal/config"
	"github.com/owldoor/geocode-bulk/internal/geocoding"
	"github.com/owldoor/geocode-bulk/internal/metrics"
	"github.com/owldoor/geocode-bulk/internal/models"
	"github.com/owldoor/geocode-bulk/internal/service"
	"github.com/owldoor/geocode-bulk/internal/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingProvider struct {
	geocodeFunc func(ctx context.Context, addr string) (*models.Location, error)
	calls       []string
}

func (p *countingProvider) Geocode(ctx context.Context, addr string) (*models.Location, error) {
	p.calls = append(p.calls, addr)
	return p.geocodeFunc(ctx, addr)
}

func writeInputCSV(t *testing.T, dir string, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("address\n")
	for i := range rows {
		fmt.Fprintf(&sb, "Addr %d\n", i)
	}
	path := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(path, []byte(sb.String()), 0o644))
	return path
}

func TestLoadWorkingTable(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")

	inputPath := writeInputCSV(t, dir, 2)
	outputPath := filepath.Join(dir, "out.csv")

	t.Run("fresh run loads the input", func(t *testing.T) {
		cfg := config.Config{InputPath: inputPath, OutputPath: outputPath}

		tbl, path, err := loadWorkingTable(cfg)

		require.NoError(t, err)
		assert.Equal(t, inputPath, path)
		assert.Equal(t, []string{"address"}, tbl.Header())
	})

	t.Run("resume without prior output falls back to the input", func(t *testing.T) {
		cfg := config.Config{InputPath: inputPath, OutputPath: outputPath, Resume: true}

		_, path, err := loadWorkingTable(cfg)

		require.NoError(t, err)
		assert.Equal(t, inputPath, path)
	})

	t.Run("resume prefers the persisted output", func(t *testing.T) {
		require.NoError(t, os.WriteFile(outputPath,
			[]byte("address,latitude,longitude,geocode_status,geocode_address\nAddr 0,50.45,30.52,success,Kyiv\nAddr 1,,,,\n"),
			0o644))
		cfg := config.Config{InputPath: inputPath, OutputPath: outputPath, Resume: true}

		tbl, path, err := loadWorkingTable(cfg)

		require.NoError(t, err)
		assert.Equal(t, outputPath, path)

		statusIdx, ok := tbl.Column(service.ColStatus)
		require.True(t, ok, "the resumed table carries the persisted statuses")
		assert.Equal(t, service.StatusSuccess, tbl.Get(0, statusIdx))
	})
}

// startRun assembles the pipeline from the configuration alone, mirroring the
// command's run function with only the provider substituted.
func startRun(t *testing.T, ctx context.Context, cfg config.Config, provider geocoding.Provider) (service.RunStats, error) {
	t.Helper()
	tbl, _, err := loadWorkingTable(cfg)
	require.NoError(t, err)

	logger := slog.Default()
	bulk := service.NewBulkGeocoder(
		logger,
		provider,
		"fake",
		metrics.NewMetrics(prometheus.NewRegistry()),
		tbl,
		address.NewBuilder(tbl, cfg.Columns),
		checkpoint.NewStore(cfg.OutputPath, tbl, logger),
		cfg.OutputPath,
		cfg.ChunkSize,
		cfg.Resume,
	)
	return bulk.Run(ctx)
}

func TestResume_WiredFromPaths(t *testing.T) {
	defer filet.CleanUp(t)
	dir := filet.TmpDir(t, "")

	cfg := config.Config{
		InputPath:  writeInputCSV(t, dir, 2500),
		OutputPath: filepath.Join(dir, "out.csv"),
		Columns:    address.Config{AddressColumn: "address"},
		ChunkSize:  1000,
	}

	// First run: interrupted right after the checkpoint at 1000 rows.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	first := &countingProvider{}
	first.geocodeFunc = func(_ context.Context, addr string) (*models.Location, error) {
		if len(first.calls) > 1000 {
			cancel()
			return nil, ctx.Err()
		}
		return &models.Location{Latitude: 50.45, Longitude: 30.52, Address: addr}, nil
	}

	stats, err := startRun(t, ctx, cfg, first)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1000, stats.Processed)

	// Resumed run: started over from the configured paths, nothing carried
	// over in memory.
	cfg.Resume = true
	second := &countingProvider{
		geocodeFunc: func(_ context.Context, addr string) (*models.Location, error) {
			return &models.Location{Latitude: 50.45, Longitude: 30.52, Address: addr}, nil
		},
	}

	stats, err = startRun(t, context.Background(), cfg, second)

	require.NoError(t, err)
	assert.Equal(t, 2500, stats.Total)
	assert.Equal(t, 2500, stats.Processed)
	assert.Equal(t, 2500, stats.Success)
	require.Len(t, second.calls, 1500, "already-persisted rows are not re-queried")
	assert.Equal(t, "Addr 1000", second.calls[0])

	out, err := table.Load(cfg.OutputPath)
	require.NoError(t, err)
	statusIdx, ok := out.Column(service.ColStatus)
	require.True(t, ok)
	successes := 0
	for row := range out.Len() {
		if out.Get(row, statusIdx) == service.StatusSuccess {
			successes++
		}
	}
	assert.Equal(t, 2500, successes)

	_, statErr := os.Stat(cfg.OutputPath + ".checkpoint")
	assert.True(t, os.IsNotExist(statErr), "checkpoint removed after completion")
}
