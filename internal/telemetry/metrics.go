package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/launchfold/tenant-sync-server/sync"

	// TenantMetricsMeterName is the name used for the tenant metrics meter
	TenantMetricsMeterName = "github.com/launchfold/tenant-sync-server/tenant"
)

// SyncMetrics holds the OpenTelemetry instruments for reconciliation passes
type SyncMetrics struct {
	syncDuration metric.Float64Histogram
	recordErrors metric.Int64Counter
}

// NewSyncMetrics creates a SyncMetrics instance with the given meter provider.
// A nil provider yields nil, which records nothing.
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	syncDuration, err := meter.Float64Histogram(
		"lfts_sync_duration_seconds",
		metric.WithDescription("Duration of tenant reconciliation passes in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	recordErrors, err := meter.Int64Counter(
		"lfts_sync_record_errors_total",
		metric.WithDescription("Record-level errors accumulated across reconciliation passes"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{syncDuration: syncDuration, recordErrors: recordErrors}, nil
}

// RecordSyncDuration records the duration and outcome of one tenant pass
func (m *SyncMetrics) RecordSyncDuration(ctx context.Context, tenantID string, duration time.Duration, success bool) {
	if m == nil || m.syncDuration == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tenant", tenantID),
		attribute.Bool("success", success),
	}
	m.syncDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordErrors adds record-level error counts for one tenant pass
func (m *SyncMetrics) RecordErrors(ctx context.Context, tenantID string, count int64) {
	if m == nil || m.recordErrors == nil || count == 0 {
		return
	}
	m.recordErrors.Add(ctx, count, metric.WithAttributes(attribute.String("tenant", tenantID)))
}

// TenantMetrics holds the OpenTelemetry instruments for tenant population
type TenantMetrics struct {
	tenantsTotal metric.Int64Gauge
}

// NewTenantMetrics creates a TenantMetrics instance with the given meter
// provider. A nil provider yields nil, which records nothing.
func NewTenantMetrics(provider metric.MeterProvider) (*TenantMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(TenantMetricsMeterName)

	tenantsTotal, err := meter.Int64Gauge(
		"lfts_tenants_total",
		metric.WithDescription("Number of tenants by lifecycle status"),
		metric.WithUnit("{tenant}"),
	)
	if err != nil {
		return nil, err
	}

	return &TenantMetrics{tenantsTotal: tenantsTotal}, nil
}

// RecordTenantsTotal records the tenant count for one lifecycle status
func (m *TenantMetrics) RecordTenantsTotal(ctx context.Context, status string, count int64) {
	if m == nil || m.tenantsTotal == nil {
		return
	}
	m.tenantsTotal.Record(ctx, count, metric.WithAttributes(attribute.String("status", status)))
}
