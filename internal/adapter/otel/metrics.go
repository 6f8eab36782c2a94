package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "contractreview"

// Metrics holds the lifecycle metric instruments.
type Metrics struct {
	TasksSubmitted      metric.Int64Counter
	TasksRejected       metric.Int64Counter
	TasksFinished       metric.Int64Counter // attribute "state"
	AnalysisDuration    metric.Float64Histogram
	EventsDropped       metric.Int64Counter
	ActiveSubscriptions metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsFrom(otel.Meter(meterName))
}

// NewMetricsFrom creates all metric instruments on the given meter.
func NewMetricsFrom(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.TasksSubmitted, err = meter.Int64Counter("contractreview.tasks.submitted",
		metric.WithDescription("Number of tasks accepted"))
	if err != nil {
		return nil, err
	}

	m.TasksRejected, err = meter.Int64Counter("contractreview.tasks.rejected",
		metric.WithDescription("Number of submissions rejected at capacity"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("contractreview.tasks.finished",
		metric.WithDescription("Number of tasks reaching a terminal state"))
	if err != nil {
		return nil, err
	}

	m.AnalysisDuration, err = meter.Float64Histogram("contractreview.analysis.duration_seconds",
		metric.WithDescription("Analyzer call duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.EventsDropped, err = meter.Int64Counter("contractreview.events.dropped",
		metric.WithDescription("Buffered events dropped for slow subscribers"))
	if err != nil {
		return nil, err
	}

	m.ActiveSubscriptions, err = meter.Int64UpDownCounter("contractreview.subscriptions.active",
		metric.WithDescription("Open task event subscriptions"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
