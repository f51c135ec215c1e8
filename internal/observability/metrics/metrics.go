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

// Metrics exposes ledger-level instruments. A nil *Metrics is a no-op so
// services can take it as an optional dependency.
type Metrics struct {
	invoicesGenerated metric.Int64Counter
	invoicesSkipped   metric.Int64Counter
	lateFeesUpdated   metric.Int64Counter
	paymentsApplied   metric.Int64Counter
	paymentAmount     metric.Int64Counter
	sessionsClosed    metric.Int64Counter
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

// New configures the ledger instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "schoolledger"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.invoicesGenerated, "schoolledger_invoices_generated_total"},
		{&m.invoicesSkipped, "schoolledger_invoices_skipped_total"},
		{&m.lateFeesUpdated, "schoolledger_late_fees_updated_total"},
		{&m.paymentsApplied, "schoolledger_payments_applied_total"},
		{&m.paymentAmount, "schoolledger_payment_amount_minor_total"},
		{&m.sessionsClosed, "schoolledger_cash_sessions_closed_total"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name); err != nil {
			return nil, err
		}
	}
	return &m, nil
}

// RecordGeneration counts invoices created and skipped by one generation run.
func (m *Metrics) RecordGeneration(ctx context.Context, schoolID string, created, skipped int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("school_id", strings.TrimSpace(schoolID)))...)
	m.invoicesGenerated.Add(ctx, int64(created), attrs)
	m.invoicesSkipped.Add(ctx, int64(skipped), attrs)
}

func (m *Metrics) RecordLateFees(ctx context.Context, schoolID string, updated int) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("school_id", strings.TrimSpace(schoolID)))
	m.lateFeesUpdated.Add(ctx, int64(updated), metric.WithAttributes(attrs...))
}

// RecordPayment counts applied payments; amount stays in minor units.
func (m *Metrics) RecordPayment(ctx context.Context, schoolID, method, currency string, amount int64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("school_id", strings.TrimSpace(schoolID)),
		attribute.String("method", strings.TrimSpace(method)),
		attribute.String("currency", strings.TrimSpace(currency)),
	)...)
	m.paymentsApplied.Add(ctx, 1, attrs)
	m.paymentAmount.Add(ctx, amount, attrs)
}

func (m *Metrics) RecordSessionClosed(ctx context.Context, schoolID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("school_id", strings.TrimSpace(schoolID)))
	m.sessionsClosed.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"school_id":   {},
	"method":      {},
	"currency":    {},
	"endpoint":    {},
	"status_code": {},
	"reason":      {},
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
