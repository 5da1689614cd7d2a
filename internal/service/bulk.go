package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/owldoor/geocode-bulk/internal/address"
	"github.com/owldoor/geocode-bulk/internal/checkpoint"
	"github.com/owldoor/geocode-bulk/internal/geocoding"
	"github.com/owldoor/geocode-bulk/internal/metrics"
	"github.com/owldoor/geocode-bulk/internal/table"
)

// Output column names appended to the table.
const (
	ColLatitude  = "latitude"
	ColLongitude = "longitude"
	ColStatus    = "geocode_status"
	ColAddress   = "geocode_address"
)

// Row outcome values written to the geocode_status column.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// progressInterval is how many processed rows between progress reports.
const progressInterval = 100

// defaultChunkSize is the checkpoint interval used when a caller passes a
// non-positive one.
const defaultChunkSize = 1000

// RunStats aggregates the outcome counters of one bulk run. On resume the
// Success/Failed counters are rebuilt from the persisted status column, so
// they are always derivable from the output table alone.
type RunStats struct {
	Total     int // Rows with a usable query.
	Processed int // Rows attempted so far (success + failed).
	Success   int
	Failed    int
}

// BulkGeocoder drives the checkpointed bulk-processing pipeline: it derives
// per-row queries, resolves the resume offset, calls the provider one row at
// a time (the provider rate-limits itself) and persists progress at
// intervals. An error geocoding one row never aborts the run.
type BulkGeocoder struct {
	log          *slog.Logger
	provider     geocoding.Provider
	providerName string
	metrics      *metrics.Metrics
	tbl          *table.Table
	builder      *address.Builder
	store        *checkpoint.Store
	outputPath   string
	chunkSize    int
	resume       bool

	latIdx    int
	lonIdx    int
	statusIdx int
	addrIdx   int
}

// NewBulkGeocoder creates a BulkGeocoder over an already-loaded table.
// chunkSize is the checkpoint interval in processed rows.
func NewBulkGeocoder(
	log *slog.Logger,
	provider geocoding.Provider,
	providerName string,
	m *metrics.Metrics,
	tbl *table.Table,
	builder *address.Builder,
	store *checkpoint.Store,
	outputPath string,
	chunkSize int,
	resume bool,
) *BulkGeocoder {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &BulkGeocoder{
		log:          log,
		provider:     provider,
		providerName: providerName,
		metrics:      m,
		tbl:          tbl,
		builder:      builder,
		store:        store,
		outputPath:   outputPath,
		chunkSize:    chunkSize,
		resume:       resume,
	}
}

// Run executes the full pipeline and returns the final counters. A context
// cancellation stops the loop without marking the in-flight row; the last
// saved checkpoint and output table remain consistent and resumable.
func (bg *BulkGeocoder) Run(ctx context.Context) (RunStats, error) {
	queries, validIdx := bg.buildQueries()

	bg.latIdx = bg.tbl.EnsureColumn(ColLatitude)
	bg.lonIdx = bg.tbl.EnsureColumn(ColLongitude)
	bg.statusIdx = bg.tbl.EnsureColumn(ColStatus)
	bg.addrIdx = bg.tbl.EnsureColumn(ColAddress)

	stats := RunStats{Total: len(validIdx)}
	start, err := bg.resolveStart(validIdx, &stats)
	if err != nil {
		return stats, err
	}
	stats.Processed = start

	bg.log.InfoContext(ctx, "Starting geocoding",
		"provider", bg.providerName,
		"rows", bg.tbl.Len(),
		"addresses", stats.Total,
		"start_offset", start,
		"chunk_size", bg.chunkSize,
	)

	startTime := time.Now()

	for i := start; i < len(validIdx); i++ {
		if err = ctx.Err(); err != nil {
			return stats, err
		}

		rowIdx := validIdx[i]
		reqStart := time.Now()
		loc, geoErr := bg.provider.Geocode(ctx, queries[rowIdx])
		bg.metrics.RequestSeconds.WithLabelValues(bg.providerName).Observe(time.Since(reqStart).Seconds())

		if geoErr != nil {
			// A cancelled run is an interruption, not a row failure. Per-request
			// timeouts leave the run context intact and fall through as failures.
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			bg.tbl.Set(rowIdx, bg.statusIdx, StatusFailed)
			bg.tbl.Set(rowIdx, bg.addrIdx, "")
			stats.Failed++
			bg.metrics.RowsProcessed.WithLabelValues(StatusFailed).Inc()
			bg.metrics.ProviderErrors.Inc()
			bg.log.DebugContext(ctx, "Failed to geocode row", "row", rowIdx, "error", geoErr)
		} else {
			bg.tbl.Set(rowIdx, bg.latIdx, strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
			bg.tbl.Set(rowIdx, bg.lonIdx, strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
			bg.tbl.Set(rowIdx, bg.statusIdx, StatusSuccess)
			bg.tbl.Set(rowIdx, bg.addrIdx, loc.Address)
			stats.Success++
			bg.metrics.RowsProcessed.WithLabelValues(StatusSuccess).Inc()
		}

		stats.Processed = i + 1
		bg.metrics.ProgressRows.Set(float64(stats.Processed))

		if stats.Processed%progressInterval == 0 {
			bg.logProgress(ctx, stats, stats.Processed-start, time.Since(startTime))
		}

		if stats.Processed%bg.chunkSize == 0 {
			if err = bg.store.Save(stats.Processed); err != nil {
				return stats, fmt.Errorf("checkpoint at row %d: %w", stats.Processed, err)
			}
		}
	}

	// Final full save, then discard the checkpoint.
	if err = bg.tbl.Save(bg.outputPath); err != nil {
		return stats, fmt.Errorf("final save: %w", err)
	}
	if err = bg.store.Clear(); err != nil {
		return stats, err
	}

	bg.logSummary(ctx, stats, stats.Processed-start, time.Since(startTime))
	return stats, nil
}

// buildQueries derives one query per raw row and the ordered sequence of
// row indices whose query is present. Rows without a query never reach the
// provider and are excluded from all accounting.
func (bg *BulkGeocoder) buildQueries() ([]string, []int) {
	queries := make([]string, bg.tbl.Len())
	validIdx := make([]int, 0, bg.tbl.Len())
	for row := range bg.tbl.Len() {
		queries[row] = bg.builder.Build(bg.tbl, row)
		if queries[row] != "" {
			validIdx = append(validIdx, row)
		}
	}
	return queries, validIdx
}

// resolveStart determines the start offset into the valid-query sequence.
// On resume it rebuilds the Success/Failed counters by scanning the status
// column of the rows below the cutoff and cross-checks them against the
// checkpoint index; any divergence aborts the run rather than undercount.
func (bg *BulkGeocoder) resolveStart(validIdx []int, stats *RunStats) (int, error) {
	if bg.resume {
		cp, err := bg.store.Load()
		if err != nil {
			return 0, err
		}
		if cp != nil {
			start := cp.LastProcessed
			if start < 0 || start > len(validIdx) {
				return 0, fmt.Errorf("%w: last_processed %d out of range (0..%d)",
					checkpoint.ErrCorrupt, start, len(validIdx))
			}
			for _, rowIdx := range validIdx[:start] {
				switch bg.tbl.Get(rowIdx, bg.statusIdx) {
				case StatusSuccess:
					stats.Success++
				case StatusFailed:
					stats.Failed++
				}
			}
			if stats.Success+stats.Failed != start {
				return 0, fmt.Errorf(
					"checkpoint disagrees with output table: index %d but %d rows carry a status; re-run without --resume",
					start, stats.Success+stats.Failed)
			}
			bg.log.Info("Resuming from checkpoint",
				"last_processed", start,
				"saved_at", cp.Timestamp,
				"success", stats.Success,
				"failed", stats.Failed,
			)
			return start, nil
		}
		bg.log.Info("Resume requested but no checkpoint found, starting fresh", "path", bg.store.Path())
	}

	// Fresh run: (re)initialize every output column to absent.
	for row := range bg.tbl.Len() {
		bg.tbl.Set(row, bg.latIdx, "")
		bg.tbl.Set(row, bg.lonIdx, "")
		bg.tbl.Set(row, bg.statusIdx, "")
		bg.tbl.Set(row, bg.addrIdx, "")
	}
	return 0, nil
}

func (bg *BulkGeocoder) logProgress(ctx context.Context, stats RunStats, doneThisRun int, elapsed time.Duration) {
	rate := float64(doneThisRun) / elapsed.Seconds()
	remaining := stats.Total - stats.Processed
	var etaMin float64
	if rate > 0 {
		etaMin = float64(remaining) / rate / 60
	}
	bg.log.InfoContext(ctx, "Progress",
		"processed", stats.Processed,
		"total", stats.Total,
		"success", stats.Success,
		"failed", stats.Failed,
		"rate_per_sec", fmt.Sprintf("%.2f", rate),
		"eta_min", fmt.Sprintf("%.1f", etaMin),
	)
}

func (bg *BulkGeocoder) logSummary(ctx context.Context, stats RunStats, doneThisRun int, elapsed time.Duration) {
	var successPct, failedPct, rate float64
	if stats.Total > 0 {
		successPct = float64(stats.Success) / float64(stats.Total) * 100
		failedPct = float64(stats.Failed) / float64(stats.Total) * 100
	}
	if elapsed.Seconds() > 0 {
		rate = float64(doneThisRun) / elapsed.Seconds()
	}
	bg.log.InfoContext(ctx, "Geocoding complete",
		"processed", stats.Processed,
		"success", stats.Success,
		"success_pct", fmt.Sprintf("%.1f", successPct),
		"failed", stats.Failed,
		"failed_pct", fmt.Sprintf("%.1f", failedPct),
		"elapsed_min", fmt.Sprintf("%.1f", elapsed.Minutes()),
		"rate_per_sec", fmt.Sprintf("%.2f", rate),
		"output", bg.outputPath,
	)
}
