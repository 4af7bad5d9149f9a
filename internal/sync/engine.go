package sync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

const (
	otelScope      = "readsync/sync"
	spanPass       = "sync.pass"
	metricCreated  = "readsync.sync.readings.created"
	metricUpdated  = "readsync.sync.readings.updated"
	metricDeleted  = "readsync.sync.readings.deleted"
	metricUploaded = "readsync.sync.records.uploaded"
	metricErrors   = "readsync.sync.errors"
)

// Engine runs Coordinator passes for one user on a polling loop. Create one
// with [NewEngine] and start it with [Engine.Run].
type Engine struct {
	coordinator  *Coordinator
	userID       int64
	pollInterval time.Duration
	log          *slog.Logger

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer      trace.Tracer
	cntCreated  metric.Int64Counter
	cntUpdated  metric.Int64Counter
	cntDeleted  metric.Int64Counter
	cntUploaded metric.Int64Counter
	cntErrors   metric.Int64Counter
}

// NewEngine creates an Engine polling at the given interval.
func NewEngine(coordinator *Coordinator, userID int64, pollInterval time.Duration, logger *slog.Logger) *Engine {
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		coordinator:  coordinator,
		userID:       userID,
		pollInterval: pollInterval,
		log:          logger,

		tracer:      tracer,
		cntCreated:  mustCounter(metricCreated, "Number of readings created during sync"),
		cntUpdated:  mustCounter(metricUpdated, "Number of readings updated during sync"),
		cntDeleted:  mustCounter(metricDeleted, "Number of readings deleted during sync"),
		cntUploaded: mustCounter(metricUploaded, "Number of records uploaded during sync"),
		cntErrors:   mustCounter(metricErrors, "Number of errors encountered during sync"),
	}
}

// pass runs one sync pass, recording a trace span and metrics.
func (e *Engine) pass(ctx context.Context, fullSync bool) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanPass)
	defer span.End()

	stats, err := e.coordinator.Sync(ctx, e.userID, fullSync)

	if stats.Created > 0 {
		e.cntCreated.Add(ctx, int64(stats.Created))
	}
	if stats.Updated > 0 {
		e.cntUpdated.Add(ctx, int64(stats.Updated))
	}
	if stats.Deleted > 0 {
		e.cntDeleted.Add(ctx, int64(stats.Deleted))
	}
	if stats.Uploaded > 0 {
		e.cntUploaded.Add(ctx, int64(stats.Uploaded))
	}
	if stats.Errors > 0 {
		e.cntErrors.Add(ctx, int64(stats.Errors))
	}

	span.SetAttributes(
		attribute.Int("sync.created", stats.Created),
		attribute.Int("sync.updated", stats.Updated),
		attribute.Int("sync.deleted", stats.Deleted),
		attribute.Int("sync.uploaded", stats.Uploaded),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// RunOnce performs a single sync pass and returns.
func (e *Engine) RunOnce(ctx context.Context, fullSync bool) (Stats, error) {
	return e.pass(ctx, fullSync)
}

// Run starts the polling loop. It blocks until ctx is cancelled. The first
// pass after startup is a full sync; subsequent passes rely on change
// detection.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	if _, err := e.pass(ctx, true); err != nil {
		e.log.Error("initial sync failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			e.log.Info("sync engine shutting down")
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.pass(ctx, false); err != nil && !errors.Is(err, ErrAlreadySyncing) {
				e.log.Error("sync failed", "error", err)
			}
		}
	}
}
