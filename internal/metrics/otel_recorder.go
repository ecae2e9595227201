package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTel records observations as OpenTelemetry instruments, the same
// cached-instrument-per-name shape as the teacher's
// telemetry.MetricInstruments, narrowed to the single Float64Counter
// instrument kind RecordMetric's (name, value, labels) shape can
// express without inventing a richer Recorder interface than ORION's
// callers need.
type OTel struct {
	meter    metric.Meter
	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// NewOTel creates an OTel recorder reporting through the process-wide
// MeterProvider under meterName.
func NewOTel(meterName string) *OTel {
	return &OTel{
		meter:    otel.Meter(meterName),
		counters: make(map[string]metric.Float64Counter),
	}
}

// RecordMetric implements Recorder.
func (o *OTel) RecordMetric(name string, value float64, labels map[string]string) {
	counter := o.counterFor(name)
	if counter == nil {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		attrs = append(attrs, attribute.String(k, v))
	}
	counter.Add(context.Background(), value, metric.WithAttributes(attrs...))
}

func (o *OTel) counterFor(name string) metric.Float64Counter {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.counters[name]; ok {
		return c
	}
	c, err := o.meter.Float64Counter(name)
	if err != nil {
		return nil
	}
	o.counters[name] = c
	return c
}
