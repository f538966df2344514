package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the reservation-path Prometheus collectors onto
// OpenTelemetry instruments so deployments exporting over OTLP see the same
// signals. HTTP server metrics are not duplicated here; otelhttp records
// http.server.* when tracing is enabled.
type OTelMetrics struct {
	reservationsTotal   metric.Int64Counter
	reservationDuration metric.Float64Histogram

	ledgerOperations metric.Int64Counter
	ledgerDuration   metric.Float64Histogram
	lockWaitDuration metric.Float64Histogram

	catalogReloads metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider. Call
// after InitOTel so the instruments land on the configured provider.
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/usagekit/tollgate")

	m := &OTelMetrics{}
	var err error

	m.reservationsTotal, err = meter.Int64Counter(
		"reservation.total",
		metric.WithDescription("Total number of reservations by outcome"),
		metric.WithUnit("{reservation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservations_total counter: %w", err)
	}

	m.reservationDuration, err = meter.Float64Histogram(
		"reservation.duration",
		metric.WithDescription("End-to-end reservation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reservation_duration histogram: %w", err)
	}

	m.ledgerOperations, err = meter.Int64Counter(
		"ledger.operations.total",
		metric.WithDescription("Total number of ledger store operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger_operations counter: %w", err)
	}

	m.ledgerDuration, err = meter.Float64Histogram(
		"ledger.operation.duration",
		metric.WithDescription("Ledger store operation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger_duration histogram: %w", err)
	}

	m.lockWaitDuration, err = meter.Float64Histogram(
		"ledger.lock.wait",
		metric.WithDescription("Time spent waiting for the per-ledger lock"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create lock_wait histogram: %w", err)
	}

	m.catalogReloads, err = meter.Int64Counter(
		"catalog.reloads.total",
		metric.WithDescription("Pricing catalog reload attempts"),
		metric.WithUnit("{reload}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog_reloads counter: %w", err)
	}

	return m, nil
}

// RecordReservation records a reservation outcome metric
func (m *OTelMetrics) RecordReservation(ctx context.Context, status string, duration time.Duration) {
	attrs := []attribute.KeyValue{
		attribute.String("reservation.status", status),
	}

	m.reservationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.reservationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLedgerOperation records a ledger store operation metric
func (m *OTelMetrics) RecordLedgerOperation(ctx context.Context, operation string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("ledger.operation", operation),
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error", "true"))
	} else {
		attrs = append(attrs, attribute.String("error", "false"))
	}

	m.ledgerOperations.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.ledgerDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLockWait records time spent acquiring a per-ledger lock
func (m *OTelMetrics) RecordLockWait(ctx context.Context, duration time.Duration) {
	m.lockWaitDuration.Record(ctx, duration.Seconds())
}

// RecordCatalogReload records a pricing catalog reload attempt
func (m *OTelMetrics) RecordCatalogReload(ctx context.Context, success bool) {
	attrs := []attribute.KeyValue{
		attribute.Bool("catalog.reload.success", success),
	}
	m.catalogReloads.Add(ctx, 1, metric.WithAttributes(attrs...))
}
