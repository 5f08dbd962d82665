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
	provisionRequests  metric.Int64Counter
	vendorCalls        metric.Int64Counter
	claimConflicts     metric.Int64Counter
	ledgerEntries      metric.Int64Counter
	reconciliationGaps metric.Int64Counter
	cardsExpired       metric.Int64Counter
	rateLimitAllowed   metric.Int64Counter
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

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "mobul"
	}
	meter := provider.Meter(name)

	provisionRequests, err := meter.Int64Counter("mobul_provision_requests_total")
	if err != nil {
		return nil, err
	}
	vendorCalls, err := meter.Int64Counter("mobul_vendor_calls_total")
	if err != nil {
		return nil, err
	}
	claimConflicts, err := meter.Int64Counter("mobul_claim_conflicts_total")
	if err != nil {
		return nil, err
	}
	ledgerEntries, err := meter.Int64Counter("mobul_ledger_entries_total")
	if err != nil {
		return nil, err
	}
	reconciliationGaps, err := meter.Int64Counter("mobul_reconciliation_gaps_total")
	if err != nil {
		return nil, err
	}
	cardsExpired, err := meter.Int64Counter("mobul_cards_expired_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("mobul_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("mobul_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		provisionRequests:  provisionRequests,
		vendorCalls:        vendorCalls,
		claimConflicts:     claimConflicts,
		ledgerEntries:      ledgerEntries,
		reconciliationGaps: reconciliationGaps,
		cardsExpired:       cardsExpired,
		rateLimitAllowed:   rateLimitAllowed,
		rateLimitDenied:    rateLimitDenied,
	}, nil
}

// RecordProvisionRequest increments provisioning attempts by outcome and source.
func (m *Metrics) RecordProvisionRequest(ctx context.Context, outcome, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("source", strings.TrimSpace(source)),
	)
	m.provisionRequests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVendorCall increments vendor API call counts by status.
func (m *Metrics) RecordVendorCall(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.vendorCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordClaimConflict increments lost optimistic-claim races.
func (m *Metrics) RecordClaimConflict(ctx context.Context) {
	if m == nil {
		return
	}
	m.claimConflicts.Add(ctx, 1)
}

// RecordLedgerEntry increments ledger entry counts.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, transactionType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("transaction_type", strings.TrimSpace(transactionType)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReconciliationGaps adds detected provisioned-but-unbilled cards.
func (m *Metrics) RecordReconciliationGaps(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.reconciliationGaps.Add(ctx, int64(count))
}

// RecordCardsExpired adds cards transitioned to expired by the sweep.
func (m *Metrics) RecordCardsExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.cardsExpired.Add(ctx, int64(count))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
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
	"outcome":          {},
	"source":           {},
	"status":           {},
	"status_code":      {},
	"transaction_type": {},
	"endpoint":         {},
	"reason":           {},
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
