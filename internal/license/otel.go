package license

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// TracerName names spans emitted around license operations.
const TracerName = "licensed/license"

// Metrics holds the license instruments. A nil *Metrics records nothing.
type Metrics struct {
	Ingestions         metric.Int64Counter
	IngestDuration     metric.Float64Histogram
	Activations        metric.Int64Counter
	ActivationDuration metric.Float64Histogram
	ActivationAttempts metric.Int64Histogram
	EntitlementQueries metric.Int64Counter
	StoreRetries       metric.Int64Counter
}

// NewMetrics creates the license instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Ingestions, err = meter.Int64Counter(
		"license_ingestions_total",
		metric.WithDescription("Webhook notifications processed, by operation, outcome and tier"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingestions counter: %w", err)
	}

	m.IngestDuration, err = meter.Float64Histogram(
		"license_ingest_duration_seconds",
		metric.WithDescription("Webhook ingestion duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ingest duration histogram: %w", err)
	}

	m.Activations, err = meter.Int64Counter(
		"license_activations_total",
		metric.WithDescription("Activation requests, by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activations counter: %w", err)
	}

	m.ActivationDuration, err = meter.Float64Histogram(
		"license_activation_duration_seconds",
		metric.WithDescription("Activation duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}

	m.ActivationAttempts, err = meter.Int64Histogram(
		"license_activation_conditional_writes",
		metric.WithDescription("Conditional writes issued per successful activation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation attempts histogram: %w", err)
	}

	m.EntitlementQueries, err = meter.Int64Counter(
		"license_entitlement_queries_total",
		metric.WithDescription("Entitlement queries, by validity"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create entitlement queries counter: %w", err)
	}

	m.StoreRetries, err = meter.Int64Counter(
		"license_store_retries_total",
		metric.WithDescription("Transient store failures that were retried, by operation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create store retries counter: %w", err)
	}

	return m, nil
}

// RecordIngest records one ingestion. operation is empty on failure.
func (m *Metrics) RecordIngest(ctx context.Context, operation, outcome string, tier Tier, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
		attribute.String("tier", tier.String()),
	)
	m.Ingestions.Add(ctx, 1, attrs)
	m.IngestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordActivation records one activation request.
func (m *Metrics) RecordActivation(ctx context.Context, outcome string, writes int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.Activations.Add(ctx, 1, attrs)
	m.ActivationDuration.Record(ctx, d.Seconds(), attrs)
	if writes > 0 {
		m.ActivationAttempts.Record(ctx, int64(writes))
	}
}

// RecordEntitlement records one entitlement query.
func (m *Metrics) RecordEntitlement(ctx context.Context, valid bool) {
	if m == nil {
		return
	}
	m.EntitlementQueries.Add(ctx, 1, metric.WithAttributes(attribute.Bool("valid", valid)))
}

func (m *Metrics) recordStoreRetry(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.StoreRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("operation", op)))
}
