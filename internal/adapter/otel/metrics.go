package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sheetgenai"

// Metrics holds all service metric instruments.
type Metrics struct {
	TasksQueued    metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksDiscarded metric.Int64Counter
	RemoteCalls    metric.Int64Counter
	RemoteRetries  metric.Int64Counter
	WindowsRun     metric.Int64Counter
	WindowDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksQueued, err = meter.Int64Counter("sheetgenai.tasks.queued",
		metric.WithDescription("Number of cell tasks enqueued"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("sheetgenai.tasks.completed",
		metric.WithDescription("Number of cell tasks completed with an answer"))
	if err != nil {
		return nil, err
	}

	m.TasksDiscarded, err = meter.Int64Counter("sheetgenai.tasks.discarded",
		metric.WithDescription("Number of stale tasks discarded during draining"))
	if err != nil {
		return nil, err
	}

	m.RemoteCalls, err = meter.Int64Counter("sheetgenai.remote.calls",
		metric.WithDescription("Number of model endpoint round trips"))
	if err != nil {
		return nil, err
	}

	m.RemoteRetries, err = meter.Int64Counter("sheetgenai.remote.retries",
		metric.WithDescription("Number of rate-limited round trips that were retried"))
	if err != nil {
		return nil, err
	}

	m.WindowsRun, err = meter.Int64Counter("sheetgenai.windows.run",
		metric.WithDescription("Number of drain windows executed"))
	if err != nil {
		return nil, err
	}

	m.WindowDuration, err = meter.Float64Histogram("sheetgenai.window.duration_seconds",
		metric.WithDescription("Drain window duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RegisterPendingGauge reports the task backlog through an observable gauge.
// The callback runs on every metric collection cycle.
func (m *Metrics) RegisterPendingGauge(pending func(context.Context) (int, error)) error {
	meter := otel.Meter(meterName)

	gauge, err := meter.Int64ObservableGauge("sheetgenai.tasks.pending",
		metric.WithDescription("Number of cell tasks waiting in the queue"))
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		n, err := pending(ctx)
		if err != nil {
			return err
		}
		o.ObserveInt64(gauge, int64(n))
		return nil
	}, gauge)
	return err
}
