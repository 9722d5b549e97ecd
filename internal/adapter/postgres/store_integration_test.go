//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/citywx/weather-ingest/internal/adapter/postgres"
	"github.com/citywx/weather-ingest/internal/config"
	"github.com/citywx/weather-ingest/internal/domain"
)

// schema mirrors the consumed production schema closely enough to exercise
// the store: identity columns, the composite uniqueness key, nullable
// measurements.
const schema = `
CREATE TABLE cities (
    city_id   BIGINT PRIMARY KEY,
    latitude  DOUBLE PRECISION NOT NULL,
    longitude DOUBLE PRECISION NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE raw_import (
    raw_id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    source         TEXT NOT NULL,
    request_url    TEXT NOT NULL,
    payload_format TEXT NOT NULL,
    payload        TEXT NOT NULL,
    status         TEXT NOT NULL,
    err_msg        TEXT,
    payload_hash   TEXT NOT NULL
);
CREATE TABLE weather (
    weather_id         BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    city_id            BIGINT NOT NULL REFERENCES cities (city_id),
    raw_id             BIGINT NOT NULL REFERENCES raw_import (raw_id),
    observed_at_utc    TIMESTAMP NOT NULL,
    utc_offset_seconds INTEGER NOT NULL,
    temperature_c      DOUBLE PRECISION,
    humidity_pct       DOUBLE PRECISION,
    precipitation_mm   DOUBLE PRECISION,
    wind_speed_kmh     DOUBLE PRECISION,
    UNIQUE (city_id, observed_at_utc)
);
CREATE TABLE logs (
    log_id        BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
    log_level     TEXT NOT NULL,
    source        TEXT NOT NULL,
    action        TEXT NOT NULL,
    result        TEXT NOT NULL,
    sqlcode       TEXT,
    error_message TEXT,
    city_id       BIGINT,
    raw_id        BIGINT,
    weather_id    BIGINT,
    app_user      TEXT,
    run_id        TEXT,
    details       TEXT
);`

func startPostgres(t *testing.T) *config.Config {
	t.Helper()
	ctx := context.Background()

	ctr, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("weather"),
		tcpostgres.WithUsername("projekt"),
		tcpostgres.WithPassword("projekt123"),
		tcpostgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	host, err := ctr.Host(ctx)
	require.NoError(t, err)
	port, err := ctr.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	cfg := &config.Config{
		DBUser:     "projekt",
		DBPassword: "projekt123",
		DBDSN:      fmt.Sprintf("%s:%s/weather?sslmode=disable", host, port.Port()),
	}

	conn := rawConn(t, cfg)
	_, err = conn.Exec(ctx, schema)
	require.NoError(t, err, "create schema")
	_, err = conn.Exec(ctx, `
		INSERT INTO cities (city_id, latitude, longitude, is_active) VALUES
		(3, 54.352025, 18.646638, TRUE),
		(1, 52.229676, 21.012229, TRUE),
		(2, 50.064651, 19.944981, FALSE)`)
	require.NoError(t, err, "seed cities")

	return cfg
}

// rawConn opens a verification connection outside the store under test.
func rawConn(t *testing.T, cfg *config.Config) *pgx.Conn {
	t.Helper()
	dsn := fmt.Sprintf("postgres://%s:%s@%s", cfg.DBUser, cfg.DBPassword, cfg.DBDSN)
	conn, err := pgx.Connect(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t)

	store, err := postgres.Connect(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer store.Close(ctx)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback(ctx)

	// Registry: only active cities, ordered by id ascending.
	cities, err := tx.ListActiveCities(ctx)
	require.NoError(t, err)
	require.Len(t, cities, 2)
	assert.Equal(t, int64(1), cities[0].ID)
	assert.Equal(t, int64(3), cities[1].ID)

	// Archive returns the generated identifier.
	rawID, err := tx.ArchiveRaw(ctx, domain.RawBatch{
		RequestURL:  "https://api.open-meteo.com/v1/forecast?latitude=52.229676",
		Payload:     `[{"utc_offset_seconds":7200}]`,
		PayloadHash: domain.HashPayload([]byte(`[{"utc_offset_seconds":7200}]`)),
		Status:      domain.RawBatchOK,
	})
	require.NoError(t, err)
	assert.Positive(t, rawID)

	observedAt := time.Date(2024, 4, 26, 13, 10, 0, 0, time.UTC)
	temp := 21.5
	rows := []domain.Observation{
		{CityID: 1, RawID: rawID, ObservedAtUTC: observedAt, UTCOffsetSeconds: 7200,
			Measurements: domain.Measurements{TemperatureC: &temp}},
		{CityID: 3, RawID: rawID, ObservedAtUTC: observedAt, UTCOffsetSeconds: 7200},
	}

	inserted, err := tx.MergeObservations(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(2), inserted)

	// Same keys again: silently absorbed, nothing doubled.
	inserted, err = tx.MergeObservations(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(0), inserted)

	details := "inserted=2; prepared=2; validate_warns=0"
	err = tx.LogEvent(ctx, domain.AuditEvent{
		Level: "INFO", Source: "LOADER", Action: "INSERT_WEATHER", Result: "OK",
		RawID: &rawID, AppUser: "projekt", RunID: "20240426T131000Z-deadbeef", Details: &details,
	})
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))

	// Committed state is visible to an independent connection.
	conn := rawConn(t, cfg)

	var weatherCount int
	require.NoError(t, conn.QueryRow(ctx, `SELECT count(*) FROM weather`).Scan(&weatherCount))
	assert.Equal(t, 2, weatherCount)

	var gotTemp *float64
	var gotHum *float64
	require.NoError(t, conn.QueryRow(ctx,
		`SELECT temperature_c, humidity_pct FROM weather WHERE city_id = 1`).Scan(&gotTemp, &gotHum))
	require.NotNil(t, gotTemp)
	assert.Equal(t, 21.5, *gotTemp)
	assert.Nil(t, gotHum)

	var logCount int
	require.NoError(t, conn.QueryRow(ctx,
		`SELECT count(*) FROM logs WHERE action = 'INSERT_WEATHER' AND run_id = '20240426T131000Z-deadbeef'`).Scan(&logCount))
	assert.Equal(t, 1, logCount)
}

func TestStore_RollbackDiscardsRun(t *testing.T) {
	ctx := context.Background()
	cfg := startPostgres(t)

	store, err := postgres.Connect(ctx, cfg, slog.Default())
	require.NoError(t, err)
	defer store.Close(ctx)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.ArchiveRaw(ctx, domain.RawBatch{
		RequestURL:  "https://api.open-meteo.com/v1/forecast",
		Payload:     "transient",
		PayloadHash: domain.HashPayload([]byte("transient")),
		Status:      domain.RawBatchError,
	})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback(ctx))

	conn := rawConn(t, cfg)
	var rawCount int
	require.NoError(t, conn.QueryRow(ctx, `SELECT count(*) FROM raw_import`).Scan(&rawCount))
	assert.Zero(t, rawCount)
}
