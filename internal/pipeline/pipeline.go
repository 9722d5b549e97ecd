// Package pipeline orchestrates one ingestion run: load cities, fetch,
// archive, parse and validate per item, merge, and commit, all inside a
// single store transaction.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/citywx/weather-ingest/internal/domain"
	"github.com/citywx/weather-ingest/internal/observability"
)

// Process exit codes. The exit code plus the audit log is the entire
// user-visible surface of a run.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitFetchFailure = 2
)

const auditSource = "LOADER"

// Tx is the transaction-scoped store handle for one run. Every write goes
// through it and becomes durable only on Commit.
type Tx interface {
	ListActiveCities(ctx context.Context) ([]domain.City, error)
	ArchiveRaw(ctx context.Context, batch domain.RawBatch) (int64, error)
	MergeObservations(ctx context.Context, rows []domain.Observation) (int64, error)
	LogEvent(ctx context.Context, ev domain.AuditEvent) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens the run transaction.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context) (Tx, error)

func (f StoreFunc) Begin(ctx context.Context) (Tx, error) { return f(ctx) }

// Fetcher issues the batched provider request. The i-th response item pairs
// with the i-th city of the request; transport failures surface as
// *domain.FetchError.
type Fetcher interface {
	FetchCurrent(ctx context.Context, cities []domain.City) (requestURL string, payload []byte, err error)
}

// Notifier publishes a run summary after commit. Best-effort.
type Notifier interface {
	Notify(ctx context.Context, summary domain.RunSummary) error
}

// Runner executes ingestion runs.
type Runner struct {
	store    Store
	fetcher  Fetcher
	notifier Notifier
	logger   *slog.Logger
	metrics  *observability.Metrics
	appUser  string

	// sqlCode extracts an engine error code for audit rows; nil disables.
	sqlCode func(error) *string
}

// New creates a Runner. Pass a nil notifier to disable run-summary
// publishing.
func New(store Store, fetcher Fetcher, notifier Notifier, logger *slog.Logger, metrics *observability.Metrics, appUser string) *Runner {
	return &Runner{
		store:    store,
		fetcher:  fetcher,
		notifier: notifier,
		logger:   logger,
		metrics:  metrics,
		appUser:  appUser,
	}
}

// SetSQLCodeFunc installs an extractor for engine error codes on audit
// events, keeping the orchestrator free of driver imports.
func (r *Runner) SetSQLCodeFunc(f func(error) *string) {
	r.sqlCode = f
}

// Run executes one complete ingestion run and returns the process exit code.
// Sequential by design: one transaction, committed exactly once on every
// non-rollback path, released unconditionally.
func (r *Runner) Run(ctx context.Context) int {
	runID := domain.NewRunID()
	logger := r.logger.With("run_id", runID)
	logger.Info("run starting")

	tx, err := r.store.Begin(ctx)
	if err != nil {
		logger.Error("begin run transaction", "error", err)
		r.metrics.RunsTotal.WithLabelValues("failed").Inc()
		return ExitFailure
	}
	// Safe after Commit: rolling back a finished transaction is a no-op
	// error, which gives every exit path an unconditional release.
	defer tx.Rollback(ctx) //nolint:errcheck

	code, summary := r.execute(ctx, tx, runID, logger)

	r.metrics.RunsTotal.WithLabelValues(summary.Status).Inc()
	logger.Info("run finished", "exit_code", code, "status", summary.Status,
		"prepared", summary.Prepared, "inserted", summary.Inserted, "skipped", summary.Skipped)

	r.notify(ctx, logger, summary)
	return code
}

// execute walks the run state machine. Any error that escapes the handled
// paths lands in runFailed, the best-effort outer handler.
func (r *Runner) execute(ctx context.Context, tx Tx, runID string, logger *slog.Logger) (int, domain.RunSummary) {
	summary := domain.RunSummary{RunID: runID, Status: "failed", CompletedAt: domain.Now().UTC()}

	if err := tx.LogEvent(ctx, r.event(runID, "INFO", "RUN_START", "OK", withDetails("start weather ingest"))); err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	cities, err := tx.ListActiveCities(ctx)
	if err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}
	summary.Cities = len(cities)

	if len(cities) == 0 {
		return r.skipEmptyRegistry(ctx, tx, runID, logger, &summary)
	}

	fetchStart := time.Now()
	requestURL, payload, err := r.fetcher.FetchCurrent(ctx, cities)
	r.metrics.FetchDuration.Observe(time.Since(fetchStart).Seconds())

	var fetchErr *domain.FetchError
	if errors.As(err, &fetchErr) {
		return r.fetchFailed(ctx, tx, runID, logger, &summary, fetchErr)
	}
	if err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	rawID, err := tx.ArchiveRaw(ctx, domain.RawBatch{
		RequestURL:  requestURL,
		Payload:     string(payload),
		PayloadHash: domain.HashPayload(payload),
		Status:      domain.RawBatchOK,
	})
	if err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}
	summary.RawID = &rawID

	if err := tx.LogEvent(ctx, r.event(runID, "INFO", "FETCH_OK", "OK",
		withRawID(rawID), withDetails(fmt.Sprintf("cities=%d", len(cities))))); err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	items, err := domain.DecodeItems(payload)
	if err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	if len(items) != len(cities) {
		logger.Warn("response count mismatch", "cities", len(cities), "items", len(items))
		if err := tx.LogEvent(ctx, r.event(runID, "WARN", "COUNT_MISMATCH", "WARN",
			withRawID(rawID), withDetails(fmt.Sprintf("cities=%d; items=%d", len(cities), len(items))))); err != nil {
			return r.runFailed(ctx, tx, runID, logger, &summary, err)
		}
	}

	rows, skipped, err := r.collectRows(ctx, tx, runID, logger, cities, items, rawID)
	if err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}
	summary.Prepared = len(rows)
	summary.Skipped = skipped

	var inserted int64
	if len(rows) > 0 {
		inserted, err = tx.MergeObservations(ctx, rows)
		if err != nil {
			return r.runFailed(ctx, tx, runID, logger, &summary, err)
		}
	}
	summary.Inserted = int(inserted)
	r.metrics.ObservationsPrepared.Add(float64(len(rows)))
	r.metrics.ObservationsInserted.Add(float64(inserted))

	details := fmt.Sprintf("inserted=%d; prepared=%d; validate_warns=%d", inserted, len(rows), skipped)
	if err := tx.LogEvent(ctx, r.event(runID, "INFO", "INSERT_WEATHER", "OK",
		withRawID(rawID), withDetails(details))); err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return r.runFailed(ctx, tx, runID, logger, &summary, err)
	}

	summary.Status = "ok"
	summary.CompletedAt = domain.Now().UTC()
	return ExitOK, summary
}

// collectRows walks the positionally-paired (city, item) sequence, skipping
// items that fail to parse or validate. One bad city never blocks the
// others; only a failed audit write escalates.
func (r *Runner) collectRows(ctx context.Context, tx Tx, runID string, logger *slog.Logger,
	cities []domain.City, items []json.RawMessage, rawID int64) ([]domain.Observation, int, error) {

	n := min(len(cities), len(items))
	rows := make([]domain.Observation, 0, n)
	skipped := 0

	for i := 0; i < n; i++ {
		city := cities[i]

		parsed, err := domain.ParseObservation(items[i])
		if err != nil {
			skipped++
			r.metrics.ItemsSkipped.WithLabelValues("parse").Inc()
			logger.Warn("item parse failed, skipping", "city_id", city.ID, "error", err)
			if logErr := tx.LogEvent(ctx, r.event(runID, "WARN", "PARSE_FAIL", "SKIP",
				withCityID(city.ID), withRawID(rawID), withError(err))); logErr != nil {
				return nil, 0, logErr
			}
			continue
		}

		if violations := domain.ValidateMeasurements(parsed.Measurements); len(violations) > 0 {
			skipped++
			r.metrics.ItemsSkipped.WithLabelValues("validate").Inc()
			logger.Warn("item validation failed, skipping", "city_id", city.ID, "violations", violations)
			if logErr := tx.LogEvent(ctx, r.event(runID, "WARN", "VALIDATE_FAIL", "SKIP",
				withCityID(city.ID), withRawID(rawID), withDetails(strings.Join(violations, "; ")))); logErr != nil {
				return nil, 0, logErr
			}
			continue
		}

		rows = append(rows, domain.Observation{
			CityID:           city.ID,
			RawID:            rawID,
			ObservedAtUTC:    parsed.ObservedAtUTC,
			UTCOffsetSeconds: parsed.UTCOffsetSeconds,
			Measurements:     parsed.Measurements,
		})
	}

	return rows, skipped, nil
}

// skipEmptyRegistry handles the zero-active-cities path: log SKIP, commit,
// succeed with no raw batch created.
func (r *Runner) skipEmptyRegistry(ctx context.Context, tx Tx, runID string, logger *slog.Logger, summary *domain.RunSummary) (int, domain.RunSummary) {
	logger.Warn("no active cities, nothing to ingest")

	if err := tx.LogEvent(ctx, r.event(runID, "WARN", "NO_ACTIVE_CITIES", "SKIP")); err != nil {
		return r.runFailed(ctx, tx, runID, logger, summary, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return r.runFailed(ctx, tx, runID, logger, summary, err)
	}

	summary.Status = "skipped"
	summary.CompletedAt = domain.Now().UTC()
	return ExitOK, *summary
}

// fetchFailed archives the failure payload and commits, so the evidence of
// the failed fetch survives even though no weather data was produced. The
// archived payload is the HTTP body when one exists, otherwise the
// stringified error, keeping the content hash meaningful.
func (r *Runner) fetchFailed(ctx context.Context, tx Tx, runID string, logger *slog.Logger, summary *domain.RunSummary, fetchErr *domain.FetchError) (int, domain.RunSummary) {
	logger.Error("fetch failed", "error", fetchErr, "status_code", fetchErr.StatusCode)
	summary.Status = "fetch_failed"
	summary.CompletedAt = domain.Now().UTC()

	payload := fetchErr.Body
	if len(payload) == 0 {
		payload = []byte(fetchErr.Error())
	}
	errMsg := fetchErr.Error()

	rawID, err := tx.ArchiveRaw(ctx, domain.RawBatch{
		RequestURL:  fetchErr.URL,
		Payload:     string(payload),
		PayloadHash: domain.HashPayload(payload),
		Status:      domain.RawBatchError,
		ErrMsg:      &errMsg,
	})
	if err != nil {
		logger.Error("archiving fetch failure failed", "error", err)
		return ExitFetchFailure, *summary
	}
	summary.RawID = &rawID

	if err := tx.LogEvent(ctx, r.event(runID, "ERROR", "FETCH_FAIL", "FAIL",
		withRawID(rawID), withError(fetchErr))); err != nil {
		logger.Error("logging fetch failure failed", "error", err)
		return ExitFetchFailure, *summary
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error("committing fetch failure failed", "error", err)
		return ExitFetchFailure, *summary
	}

	return ExitFetchFailure, *summary
}

// runFailed is the outer handler for anything unexpected: best-effort audit
// write, commit if that write succeeded, otherwise leave the deferred
// rollback to discard the run. The audit trail is only lost when even
// logging fails, which is the single unrecoverable case.
func (r *Runner) runFailed(ctx context.Context, tx Tx, runID string, logger *slog.Logger, summary *domain.RunSummary, cause error) (int, domain.RunSummary) {
	logger.Error("run failed", "error", cause)
	summary.Status = "failed"
	summary.CompletedAt = domain.Now().UTC()

	ev := r.event(runID, "ERROR", "RUN_FAIL", "FAIL", withError(cause))
	if r.sqlCode != nil {
		ev.SQLCode = r.sqlCode(cause)
	}

	if err := tx.LogEvent(ctx, ev); err != nil {
		logger.Error("audit write failed, rolling back without trail", "error", err)
		return ExitFailure, *summary
	}
	if err := tx.Commit(ctx); err != nil {
		logger.Error("committing failure audit failed, rolling back", "error", err)
		return ExitFailure, *summary
	}

	return ExitFailure, *summary
}

// notify publishes the run summary when a notifier is configured. Failures
// are logged and swallowed; the exit code is already decided.
func (r *Runner) notify(ctx context.Context, logger *slog.Logger, summary domain.RunSummary) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, summary); err != nil {
		logger.Warn("run summary notify failed", "error", err)
	}
}

// event assembles an audit row with the run's constants applied.
func (r *Runner) event(runID, level, action, result string, opts ...func(*domain.AuditEvent)) domain.AuditEvent {
	ev := domain.AuditEvent{
		Level:   level,
		Source:  auditSource,
		Action:  action,
		Result:  result,
		AppUser: r.appUser,
		RunID:   runID,
	}
	for _, opt := range opts {
		opt(&ev)
	}
	return ev
}

func withDetails(details string) func(*domain.AuditEvent) {
	return func(ev *domain.AuditEvent) { ev.Details = &details }
}

func withRawID(rawID int64) func(*domain.AuditEvent) {
	return func(ev *domain.AuditEvent) { ev.RawID = &rawID }
}

func withCityID(cityID int64) func(*domain.AuditEvent) {
	return func(ev *domain.AuditEvent) { ev.CityID = &cityID }
}

func withError(err error) func(*domain.AuditEvent) {
	return func(ev *domain.AuditEvent) {
		msg := err.Error()
		ev.ErrorMessage = &msg
	}
}
