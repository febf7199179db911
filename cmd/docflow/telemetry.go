package main

import (
	"context"
	"errors"
	"sort"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// telemetry owns the SDK providers installed as the OTel globals.
// Metrics are pulled on demand through a manual reader.
type telemetry struct {
	reader *sdkmetric.ManualReader
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

func setupTelemetry() *telemetry {
	reader := sdkmetric.NewManualReader()
	t := &telemetry{
		reader: reader,
		meters: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		traces: sdktrace.NewTracerProvider(),
	}
	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t
}

// metricTotal is one collected instrument reduced to a single number: the
// sum for counters, the observation count for histograms.
type metricTotal struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// Totals collects every docflow instrument.
func (t *telemetry) Totals(ctx context.Context) ([]metricTotal, error) {
	var rm metricdata.ResourceMetrics
	if err := t.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	var out []metricTotal
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			total := metricTotal{Name: m.Name}
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					total.Value += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					total.Value += dp.Value
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					total.Value += float64(dp.Count)
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					total.Value += float64(dp.Count)
				}
			default:
				continue
			}
			out = append(out, total)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Shutdown flushes and stops both providers.
func (t *telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}
