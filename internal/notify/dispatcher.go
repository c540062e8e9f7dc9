package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

const metricNamespace = "lavender-orders/notify"

// Dispatcher turns order events into customer notifications
type Dispatcher struct {
	notifier Notifier
	logger   logger.Logger
	outcomes metric.Int64Counter
}

// NewDispatcher creates a new Dispatcher. A nil meter uses the global provider.
func NewDispatcher(notifier Notifier, meter metric.Meter, logger logger.Logger) *Dispatcher {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}

	outcomes, err := meter.Int64Counter("notifications.outcomes",
		metric.WithDescription("Customer notifications by kind and outcome"))

	if err != nil {
		logger.Warn("Unable to register metric", "metric", "notifications.outcomes", "error", err)
		outcomes = noop.Int64Counter{}
	}

	return &Dispatcher{
		notifier: notifier,
		logger:   logger,
		outcomes: outcomes,
	}
}

// Dispatch handles one serialized order event. Only a malformed payload is
// returned as an error; delivery failures are logged and dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	event, data, err := models.DecodeOrderEvent(payload)

	if err != nil {
		return fmt.Errorf("failed to decode order event: %w", err)
	}

	if event.EventType != models.EventOrderStatusChanged || data.NewStatus == nil || data.Order == nil {
		return nil
	}

	kind, ok := KindForStatus(*data.NewStatus)

	if !ok {
		return nil
	}

	if err := d.notifier.Notify(ctx, data.Order, kind); err != nil {
		d.record(ctx, kind, "failed")
		d.logger.Warn("Customer notification failed",
			"orderID", data.Order.ID,
			"eventID", event.EventID,
			"kind", kind,
			"error", err)
		return nil
	}

	d.record(ctx, kind, "sent")
	d.logger.Debug("Customer notification sent", "orderID", data.Order.ID, "kind", kind)

	return nil
}

func (d *Dispatcher) record(ctx context.Context, kind Kind, outcome string) {
	d.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	))
}
