package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the metrics SDK.
type ProviderConfig struct {
	ServiceName    string
	ServiceVersion string
}

// InitProvider builds a MeterProvider backed by the Prometheus exporter,
// registers it globally and returns it with the scrape handler. Call
// Shutdown on the provider when the application exits.
func InitProvider(cfg ProviderConfig) (*sdkmetric.MeterProvider, http.Handler, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "ezecho"
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	return mp, promhttp.Handler(), nil
}
