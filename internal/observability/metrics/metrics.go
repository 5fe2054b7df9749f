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

// Metrics exposes domain counters for payments, checkouts and delivery.
type Metrics struct {
	paymentEvents        metric.Int64Counter
	checkoutTransitions  metric.Int64Counter
	outboxDeliveries     metric.Int64Counter
	reconciliationIssues metric.Int64Counter
	idempotencyReplays   metric.Int64Counter
	rateLimited          metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.ExporterEndpoint) == "" {
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
	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}
	return provider, nil
}

// New configures the domain instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "coursemart"
	}
	meter := provider.Meter(name)

	paymentEvents, err := meter.Int64Counter("coursemart_payment_events_total")
	if err != nil {
		return nil, err
	}
	checkoutTransitions, err := meter.Int64Counter("coursemart_checkout_transitions_total")
	if err != nil {
		return nil, err
	}
	outboxDeliveries, err := meter.Int64Counter("coursemart_outbox_deliveries_total")
	if err != nil {
		return nil, err
	}
	reconciliationIssues, err := meter.Int64Counter("coursemart_reconciliation_issues_total")
	if err != nil {
		return nil, err
	}
	idempotencyReplays, err := meter.Int64Counter("coursemart_idempotency_replays_total")
	if err != nil {
		return nil, err
	}

	rateLimited, err := meter.Int64Counter("coursemart_rate_limited_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentEvents:        paymentEvents,
		checkoutTransitions:  checkoutTransitions,
		outboxDeliveries:     outboxDeliveries,
		reconciliationIssues: reconciliationIssues,
		idempotencyReplays:   idempotencyReplays,
		rateLimited:          rateLimited,
	}, nil
}

// RecordPaymentEvent counts payment events by provider and processing outcome.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordCheckoutTransition(ctx context.Context, from, to string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("from_status", from),
		attribute.String("to_status", to),
	)
	m.checkoutTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordOutboxDelivery(ctx context.Context, template, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("template", template),
		attribute.String("status", status),
	)
	m.outboxDeliveries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReconciliationIssue(ctx context.Context, issueType, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("issue_type", issueType),
		attribute.String("severity", severity),
	)
	m.reconciliationIssues.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordIdempotencyReplay(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.idempotencyReplays.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

// RecordRateLimited counts requests rejected by the public limiter.
func (m *Metrics) RecordRateLimited(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(FilterAttributes(attribute.String("endpoint", endpoint))...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
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
	"provider":    {},
	"outcome":     {},
	"from_status": {},
	"to_status":   {},
	"template":    {},
	"status":      {},
	"issue_type":  {},
	"severity":    {},
	"endpoint":    {},
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
