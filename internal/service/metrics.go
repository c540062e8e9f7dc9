package service

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vaidashi/lavender-orders/internal/lifecycle"
	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const metricNamespace = "lavender-orders/service"

// Metrics records lifecycle counters
type Metrics struct {
	transitions metric.Int64Counter
	rejections  metric.Int64Counter
	created     metric.Int64Counter
}

// NewMetrics registers the lifecycle counters on meter. A nil meter uses the
// global provider.
func NewMetrics(meter metric.Meter, log logger.Logger) *Metrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	counter := func(name, description string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(description))
		if err != nil {
			log.Warn("Unable to register metric", "metric", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Metrics{
		transitions: counter("orders.status.transitions", "Committed order status transitions"),
		rejections:  counter("orders.status.rejections", "Order status transitions refused by the validator"),
		created:     counter("orders.created", "Orders placed"),
	}
}

func (m *Metrics) recordTransition(ctx context.Context, action models.AuditAction, from, to models.OrderStatus) {
	m.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", string(action)),
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) recordRejection(ctx context.Context, kind lifecycle.RejectionKind, to models.OrderStatus) {
	m.rejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("to", string(to)),
	))
}

func (m *Metrics) recordCreated(ctx context.Context, method models.FulfillmentMethod) {
	m.created.Add(ctx, 1, metric.WithAttributes(attribute.String("fulfillment", string(method))))
}
