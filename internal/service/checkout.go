package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/pricing"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
	"github.com/vaidashi/lavender-orders/pkg/logger"
)

// Checkout limits keep line and order totals far from int64 overflow
const (
	MaxItemQuantity  = 999
	MaxCheckoutLines = 100
)

// ProductResolver looks up catalog products
type ProductResolver interface {
	Product(ctx context.Context, id string) (*models.Product, error)
}

// PaymentCharger charges a payment source
type PaymentCharger interface {
	Charge(ctx context.Context, sourceToken string, amountCents int64) (*models.Payment, error)
}

// CheckoutItem is one requested product and quantity
type CheckoutItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// CheckoutInput is the storefront's order request
type CheckoutInput struct {
	Items             []CheckoutItem           `json:"items"`
	Customer          models.CustomerInfo      `json:"customer"`
	FulfillmentMethod models.FulfillmentMethod `json:"fulfillmentMethod"`
	ShippingAddress   *models.Address          `json:"shippingAddress,omitempty"`
	SourceToken       string                   `json:"sourceToken"`
}

// CheckoutService prices, charges and records storefront orders
type CheckoutService struct {
	orders     *OrderService
	products   ProductResolver
	payments   PaymentCharger
	calculator *pricing.Calculator
	logger     logger.Logger
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(
	orders *OrderService,
	products ProductResolver,
	payments PaymentCharger,
	calculator *pricing.Calculator,
	logger logger.Logger,
) *CheckoutService {
	return &CheckoutService{
		orders:     orders,
		products:   products,
		payments:   payments,
		calculator: calculator,
		logger:     logger,
	}
}

// Quote resolves products and prices the requested items without charging
func (s *CheckoutService) Quote(ctx context.Context, items []CheckoutItem, method models.FulfillmentMethod) ([]models.LineItem, pricing.Totals, error) {
	if len(items) == 0 {
		return nil, pricing.Totals{}, apperrors.NewInvalidInputError("Order must contain at least one item")
	}

	if len(items) > MaxCheckoutLines {
		return nil, pricing.Totals{}, apperrors.NewInvalidInputError(fmt.Sprintf("An order may contain at most %d items", MaxCheckoutLines))
	}

	if !method.IsValid() {
		return nil, pricing.Totals{}, apperrors.NewInvalidInputError("Fulfillment method must be pickup or shipping")
	}

	lines := make([]models.LineItem, 0, len(items))

	for i, item := range items {
		if item.Quantity < 1 {
			return nil, pricing.Totals{}, apperrors.NewInvalidInputError(fmt.Sprintf("Item %d must have a quantity of at least 1", i+1))
		}
		if item.Quantity > MaxItemQuantity {
			return nil, pricing.Totals{}, apperrors.NewInvalidInputError(fmt.Sprintf("Item %d may have a quantity of at most %d", i+1, MaxItemQuantity))
		}

		product, err := s.products.Product(ctx, strings.TrimSpace(item.ProductID))

		if err != nil {
			return nil, pricing.Totals{}, err
		}

		if !product.Active {
			return nil, pricing.Totals{}, apperrors.NewInvalidInputError(fmt.Sprintf("Product '%s' is no longer available", product.Name))
		}

		lines = append(lines, models.LineItem{
			ProductID:      product.ID,
			Name:           product.Name,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
		})
	}

	return lines, s.calculator.Calculate(lines, method), nil
}

// PlaceOrder charges the customer and records a confirmed order. A failed
// charge records nothing.
func (s *CheckoutService) PlaceOrder(ctx context.Context, in CheckoutInput) (*models.Order, error) {
	if strings.TrimSpace(in.SourceToken) == "" {
		return nil, apperrors.NewInvalidInputError("Payment source is required")
	}

	if strings.TrimSpace(in.Customer.Email) == "" {
		return nil, apperrors.NewInvalidInputError("Customer email is required")
	}

	if in.FulfillmentMethod == models.FulfillmentShipping && in.ShippingAddress == nil {
		return nil, apperrors.NewInvalidInputError("Shipping address is required for shipping orders")
	}

	if in.FulfillmentMethod == models.FulfillmentPickup {
		in.ShippingAddress = nil
	}

	lines, totals, err := s.Quote(ctx, in.Items, in.FulfillmentMethod)

	if err != nil {
		return nil, err
	}

	payment, err := s.payments.Charge(ctx, in.SourceToken, totals.TotalCents)

	if err != nil {
		s.logger.Warn("Checkout payment failed", "email", in.Customer.Email, "amount", totals.TotalCents, "error", err)
		return nil, err
	}

	order, err := s.orders.CreateOrder(ctx, CreateOrderInput{
		Items:             lines,
		Customer:          in.Customer,
		FulfillmentMethod: in.FulfillmentMethod,
		ShippingAddress:   in.ShippingAddress,
		SubtotalCents:     totals.SubtotalCents,
		ShippingCents:     totals.ShippingCents,
		TaxCents:          totals.TaxCents,
		TotalCents:        totals.TotalCents,
		PaymentID:         payment.ID,
	})

	if err != nil {
		s.logger.Error("Order could not be recorded after a successful charge",
			"paymentID", payment.ID,
			"amount", totals.TotalCents,
			"error", err)
		return nil, err
	}

	return order, nil
}
