package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/owldoor/geocode-bulk/internal/address"
	"github.com/owldoor/geocode-bulk/internal/checkpoint"
	"github.com/owldoor/geocode-bulk/internal/config"
	"github.com/owldoor/geocode-bulk/internal/geocoding"
	"github.com/owldoor/geocode-bulk/internal/metrics"
	"github.com/owldoor/geocode-bulk/internal/service"
	"github.com/owldoor/geocode-bulk/internal/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

var (
	cfg          config.Config
	providerName string
)

var rootCmd = &cobra.Command{
	Use:   "geocode-bulk <input.csv> <output.csv>",
	Short: "Bulk geocode CSV files with checkpoint/resume support",
	Long: `Geocodes every row of a CSV table through a rate-limited provider and
writes back latitude, longitude, a normalized address and a per-row status.
Progress is checkpointed so interrupted runs can continue with --resume.

Examples:
  # Single address column (free OSM Nominatim)
  geocode-bulk agents.csv output.csv --address full_address

  # Component columns
  geocode-bulk agents.csv output.csv --street street --city city --state state --zip zip_code

  # Mapbox with resume
  geocode-bulk agents.csv output.csv -a address -p mapbox -k "$GEOCODE_API_KEY" --resume`,
	Args:         cobra.ExactArgs(2),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&providerName, "provider", "p", "", "geocoding provider: nominatim, google, mapbox (default nominatim)")
	flags.StringVarP(&cfg.APIKey, "api-key", "k", "", "API key (required for google/mapbox, or GEOCODE_API_KEY)")
	flags.StringVarP(&cfg.Columns.AddressColumn, "address", "a", "", "single address column name")
	flags.StringVar(&cfg.Columns.StreetColumn, "street", "", "street column name")
	flags.StringVar(&cfg.Columns.CityColumn, "city", "", "city column name")
	flags.StringVar(&cfg.Columns.StateColumn, "state", "", "state column name")
	flags.StringVar(&cfg.Columns.ZipColumn, "zip", "", "zip code column name")
	flags.BoolVarP(&cfg.Resume, "resume", "r", false, "resume from the last checkpoint")
	flags.IntVarP(&cfg.ChunkSize, "chunk-size", "c", 1000, "checkpoint interval in rows")
	flags.IntVar(&cfg.MonitorPort, "monitor-port", 0, "port for the /metrics and /healthz server (0 disables)")
}

func main() {
	// Cancel the run context on an interrupt signal so the loop stops between
	// rows; the last saved checkpoint stays valid and resumable.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg.InputPath = args[0]
	cfg.OutputPath = args[1]
	if providerName != "" {
		cfg.Provider = geocoding.ProviderType(providerName)
	}
	cfg.LoadEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := setupLogger(cfg.Env)

	// Separate registry so tests and repeated runs never collide on metric names.
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	appMetrics := metrics.NewMetrics(reg)

	if cfg.MonitorPort > 0 {
		go startMonitoringServer(ctx, logger, reg, cfg.MonitorPort)
	}

	tbl, tablePath, err := loadWorkingTable(cfg)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Loaded table", "path", tablePath, "rows", tbl.Len())

	provider, err := geocoding.NewProvider(geocoding.ProviderConfig{
		Type:   cfg.Provider,
		APIKey: cfg.APIKey,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create geocoding provider: %w", err)
	}

	builder := address.NewBuilder(tbl, cfg.Columns)
	store := checkpoint.NewStore(cfg.OutputPath, tbl, logger)

	bulk := service.NewBulkGeocoder(
		logger,
		provider,
		string(cfg.Provider),
		appMetrics,
		tbl,
		builder,
		store,
		cfg.OutputPath,
		cfg.ChunkSize,
		cfg.Resume,
	)

	stats, err := bulk.Run(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("Interrupted. Progress saved, use --resume to continue.",
				"processed", stats.Processed, "total", stats.Total)
			return nil
		}
		return err
	}

	return nil
}

// loadWorkingTable picks the table a run operates on. A resumed run continues
// from the persisted output table, where the statuses of already-processed
// rows live; a fresh run, or a resume before any output was written, starts
// from the input.
func loadWorkingTable(cfg config.Config) (*table.Table, string, error) {
	path := cfg.InputPath
	if cfg.Resume {
		if _, err := os.Stat(cfg.OutputPath); err == nil {
			path = cfg.OutputPath
		} else if !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to stat output table %s: %w", cfg.OutputPath, err)
		}
	}

	tbl, err := table.Load(path)
	if err != nil {
		return nil, "", err
	}
	return tbl, path, nil
}

// startMonitoringServer starts an HTTP server that provides health check and
// metrics endpoints for the duration of a bulk run.
func startMonitoringServer(ctx context.Context, log *slog.Logger, reg *prometheus.Registry, port int) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		if _, err := writer.Write([]byte("OK")); err != nil {
			log.ErrorContext(ctx, "failed to write reply", "error", err)
		}
	})
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	log.InfoContext(ctx, "Starting monitoring server", "port", port)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.ErrorContext(ctx, "Monitoring server failed", "error", err)
	}
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			}),
		)
	case envProd:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)

		log.Error("The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return log
}
