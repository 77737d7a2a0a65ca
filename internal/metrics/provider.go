package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// InitProvider wires a Prometheus-backed MeterProvider as the global OTel
// meter provider and returns New(...) built from it, plus a shutdown func to
// call during graceful shutdown. Metrics are scraped via the admin HTTP
// listener's /metrics handler (github.com/prometheus/client_golang's default
// registry, which the Prometheus exporter bridges into automatically).
func InitProvider(serviceName string) (m *Metrics, shutdown func(context.Context) error, err error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, nil, err
	}

	promExp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExp),
	)
	otel.SetMeterProvider(mp)

	m, err = New(mp)
	if err != nil {
		return nil, nil, err
	}
	return m, mp.Shutdown, nil
}
