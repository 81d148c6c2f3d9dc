package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	validations        metric.Int64Counter
	activationsCreated metric.Int64Counter
	activationsRemoved metric.Int64Counter
	updateChecks       metric.Int64Counter
	rateLimitDenied    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "keygate"
	}
	meter := provider.Meter(name)

	validations, err := meter.Int64Counter("keygate_validations_total")
	if err != nil {
		return nil, err
	}
	activationsCreated, err := meter.Int64Counter("keygate_activations_created_total")
	if err != nil {
		return nil, err
	}
	activationsRemoved, err := meter.Int64Counter("keygate_activations_removed_total")
	if err != nil {
		return nil, err
	}
	updateChecks, err := meter.Int64Counter("keygate_update_checks_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("keygate_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		validations:        validations,
		activationsCreated: activationsCreated,
		activationsRemoved: activationsRemoved,
		updateChecks:       updateChecks,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordValidation counts validate calls by outcome.
func (m *Metrics) RecordValidation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.validations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordActivationCreated counts new site bindings.
func (m *Metrics) RecordActivationCreated(ctx context.Context) {
	if m == nil {
		return
	}
	m.activationsCreated.Add(ctx, 1)
}

// RecordActivationRemoved counts deactivations.
func (m *Metrics) RecordActivationRemoved(ctx context.Context) {
	if m == nil {
		return
	}
	m.activationsRemoved.Add(ctx, 1)
}

// RecordUpdateCheck counts update-check calls by result.
func (m *Metrics) RecordUpdateCheck(ctx context.Context, updateAvailable bool) {
	if m == nil {
		return
	}
	result := "up_to_date"
	if updateAvailable {
		result = "update_available"
	}
	attrs := FilterAttributes(attribute.String("result", result))
	m.updateChecks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied counts rejected requests by endpoint.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":    {},
	"outcome":     {},
	"result":      {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
