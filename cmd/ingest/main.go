package main

import (
	"context"
	"log/slog"
	"os"

	kafkaadapter "github.com/citywx/weather-ingest/internal/adapter/kafka"
	"github.com/citywx/weather-ingest/internal/adapter/openmeteo"
	"github.com/citywx/weather-ingest/internal/adapter/postgres"
	"github.com/citywx/weather-ingest/internal/config"
	"github.com/citywx/weather-ingest/internal/observability"
	"github.com/citywx/weather-ingest/internal/pipeline"
)

func main() {
	os.Exit(run())
}

// run wires the adapters and executes one ingestion run. Split from main so
// deferred cleanup happens before os.Exit.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return pipeline.ExitFailure
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	ctx := context.Background()

	store, err := postgres.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to store", "error", err)
		return pipeline.ExitFailure
	}
	defer store.Close(ctx) //nolint:errcheck

	fetcher := openmeteo.NewClient(cfg.OpenMeteoURL, cfg.HTTPTimeout, logger)

	var notifier pipeline.Notifier
	if cfg.NotifierEnabled() {
		n := kafkaadapter.NewNotifier(cfg.KafkaBrokers, cfg.KafkaSummaryTopic, logger)
		defer n.Close() //nolint:errcheck
		notifier = n
		logger.Info("run summary notifier enabled", "topic", cfg.KafkaSummaryTopic)
	}

	beginTx := pipeline.StoreFunc(func(ctx context.Context) (pipeline.Tx, error) {
		return store.Begin(ctx)
	})

	runner := pipeline.New(beginTx, fetcher, notifier, logger, metrics, cfg.AppUser)
	runner.SetSQLCodeFunc(postgres.SQLCode)

	code := runner.Run(ctx)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, cfg.PushgatewayURL); err != nil {
			logger.Warn("metrics push failed", "error", err)
		}
	}

	return code
}
