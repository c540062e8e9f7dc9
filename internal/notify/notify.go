// Package notify tells customers about order progress. Delivery is best
// effort: the order lifecycle never waits on it and failures are only logged.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/pricing"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Kind selects the customer message to send
type Kind string

const (
	KindProcessing Kind = "processing"
	KindReady      Kind = "ready"
	KindShipped    Kind = "shipped"
	KindCompleted  Kind = "completed"
)

// KindForStatus returns the notification sent when an order enters status.
// Statuses without a customer message return false.
func KindForStatus(status models.OrderStatus) (Kind, bool) {
	switch status {
	case models.StatusProcessing:
		return KindProcessing, true
	case models.StatusReady:
		return KindReady, true
	case models.StatusShipped:
		return KindShipped, true
	case models.StatusCompleted:
		return KindCompleted, true
	}
	return "", false
}

// Notifier delivers a customer notification
type Notifier interface {
	Notify(ctx context.Context, order *models.Order, kind Kind) error
}

// Message is a rendered notification
type Message struct {
	To      string
	Subject string
	Body    string
}

// Render builds the customer message for kind
func Render(order *models.Order, kind Kind) Message {
	name := order.FirstName
	if name == "" {
		name = "there"
	}

	var subject, lead string

	switch kind {
	case KindProcessing:
		subject = "We're preparing your order"
		lead = "Good news: we've started preparing your order."
	case KindReady:
		subject = "Your order is ready for pickup"
		lead = "Your order is packed and waiting for you at the farm stand."
	case KindShipped:
		subject = "Your order has shipped"
		lead = "Your order is on its way."
	case KindCompleted:
		subject = "Thanks for your order"
		lead = "Your order is complete. We hope you enjoy it."
	default:
		subject = "An update on your order"
		lead = "There's an update on your order."
	}

	var b strings.Builder

	fmt.Fprintf(&b, "Hi %s,\n\n%s\n\n", name, lead)
	fmt.Fprintf(&b, "Order: %s\n", order.ID)

	for _, item := range order.Items {
		fmt.Fprintf(&b, "  %dx %s  %s\n", item.Quantity, item.Name, pricing.FormatCents(item.TotalCents()))
	}

	fmt.Fprintf(&b, "Total: %s\n", pricing.FormatCents(order.TotalCents))

	if kind == KindShipped && order.TrackingNumber != nil {
		fmt.Fprintf(&b, "Tracking number: %s\n", *order.TrackingNumber)
	}

	return Message{
		To:      order.Email,
		Subject: fmt.Sprintf("%s (%s)", subject, order.ID),
		Body:    b.String(),
	}
}

// LogNotifier writes notifications to the log instead of sending them
type LogNotifier struct {
	logger logger.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger logger.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the rendered message
func (n *LogNotifier) Notify(ctx context.Context, order *models.Order, kind Kind) error {
	msg := Render(order, kind)

	n.logger.Info("Customer notification",
		"orderID", order.ID,
		"kind", kind,
		"to", msg.To,
		"subject", msg.Subject)

	return nil
}
