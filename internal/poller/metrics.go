package poller

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Event outcomes recorded on areahub_events_total.
const (
	outcomeDelivered = "delivered"
	outcomeFiltered  = "filtered"
	outcomeFailed    = "failed"
)

// MetricsCollector records poller metrics. A nil collector records nothing.
type MetricsCollector struct {
	pollsTotal  metric.Int64Counter
	errorsTotal metric.Int64Counter
	eventsTotal metric.Int64Counter
	pollLatency metric.Float64Histogram
}

// NewMetricsCollector registers the poller instruments. disconnected is
// observed for the areahub_disconnected_users gauge.
func NewMetricsCollector(meterProvider metric.MeterProvider, integration string, disconnected func() int64) (*MetricsCollector, error) {
	meter := meterProvider.Meter("github.com/tombee/areahub/internal/poller")

	mc := &MetricsCollector{}
	var err error

	mc.pollsTotal, err = meter.Int64Counter(
		"areahub_polls_total",
		metric.WithDescription("Total number of per-user poll cycles"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		return nil, err
	}

	mc.errorsTotal, err = meter.Int64Counter(
		"areahub_poll_errors_total",
		metric.WithDescription("Total number of poll cycle errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	mc.eventsTotal, err = meter.Int64Counter(
		"areahub_events_total",
		metric.WithDescription("Total number of detected changes by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	mc.pollLatency, err = meter.Float64Histogram(
		"areahub_poll_latency_seconds",
		metric.WithDescription("Per-user poll cycle latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"areahub_disconnected_users",
		metric.WithDescription("Number of users whose credential is considered disconnected"),
		metric.WithUnit("{user}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			observer.Observe(disconnected(), metric.WithAttributes(attribute.String("integration", integration)))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return mc, nil
}

// RecordPoll records a completed poll cycle.
func (mc *MetricsCollector) RecordPoll(ctx context.Context, integration string, success bool, duration time.Duration) {
	if mc == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("integration", integration),
		attribute.String("status", status),
	)
	mc.pollsTotal.Add(ctx, 1, attrs)
	mc.pollLatency.Record(ctx, duration.Seconds(), attrs)
}

// RecordError records a poll error of the given kind.
func (mc *MetricsCollector) RecordError(ctx context.Context, integration, kind string) {
	if mc == nil {
		return
	}
	mc.errorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("integration", integration),
		attribute.String("error_type", kind),
	))
}

// RecordEvents records count changes with the given outcome.
func (mc *MetricsCollector) RecordEvents(ctx context.Context, integration, outcome string, count int) {
	if mc == nil || count == 0 {
		return
	}
	mc.eventsTotal.Add(ctx, int64(count), metric.WithAttributes(
		attribute.String("integration", integration),
		attribute.String("outcome", outcome),
	))
}
