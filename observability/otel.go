package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// NewOTelFactory returns a MetricFactory backed by an OpenTelemetry meter.
// Instruments the meter refuses to create fall back to no-ops.
func NewOTelFactory(meter metric.Meter) MetricFactory {
	return &otelFactory{meter: meter}
}

type otelFactory struct {
	meter metric.Meter
}

func (f *otelFactory) Counter(name string) Counter {
	c, err := f.meter.Float64Counter(name)
	if err != nil {
		return otelCounter{c: noop.Float64Counter{}}
	}
	return otelCounter{c: c}
}

func (f *otelFactory) Histogram(name string) Histogram {
	h, err := f.meter.Float64Histogram(name)
	if err != nil {
		return otelHistogram{h: noop.Float64Histogram{}}
	}
	return otelHistogram{h: h}
}

type otelCounter struct {
	c metric.Float64Counter
}

func (c otelCounter) Inc()          { c.c.Add(context.Background(), 1) }
func (c otelCounter) Add(v float64) { c.c.Add(context.Background(), v) }

type otelHistogram struct {
	h metric.Float64Histogram
}

func (h otelHistogram) Observe(v float64) { h.h.Record(context.Background(), v) }
