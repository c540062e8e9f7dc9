// Package pricing computes the money fields of an order at checkout.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vaidashi/lavender-orders/internal/models"
)

// Rates configures shipping and tax
type Rates struct {
	// BaseShippingCents is charged for the first unit of a shipped order
	BaseShippingCents int64 `yaml:"base_shipping_cents"`
	// PerAdditionalUnitCents is charged for every unit after the first
	PerAdditionalUnitCents int64 `yaml:"per_additional_unit_cents"`
	// FreeShippingThresholdCents waives shipping when the subtotal reaches it. Zero disables.
	FreeShippingThresholdCents int64 `yaml:"free_shipping_threshold_cents"`
	// TaxRateBps is the tax rate in basis points applied to the subtotal
	TaxRateBps int64 `yaml:"tax_rate_bps"`
}

// DefaultRates returns the storefront's standard rates
func DefaultRates() Rates {
	return Rates{
		BaseShippingCents:          895,
		PerAdditionalUnitCents:     150,
		FreeShippingThresholdCents: 7500,
		TaxRateBps:                 825,
	}
}

// Totals is the computed money breakdown of an order
type Totals struct {
	SubtotalCents int64 `json:"subtotal"`
	ShippingCents int64 `json:"shippingCost"`
	TaxCents      int64 `json:"tax"`
	TotalCents    int64 `json:"total"`
}

// Calculator prices line items
type Calculator struct {
	rates Rates
}

// NewCalculator creates a new Calculator
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Rates returns the rates the calculator was built with
func (c *Calculator) Rates() Rates {
	return c.rates
}

// Subtotal sums quantity times unit price
func Subtotal(items []models.LineItem) int64 {
	var subtotal int64

	for _, item := range items {
		subtotal += item.TotalCents()
	}

	return subtotal
}

// Shipping returns the shipping charge for the given units and subtotal
func (c *Calculator) Shipping(method models.FulfillmentMethod, units int, subtotalCents int64) int64 {
	if method != models.FulfillmentShipping || units <= 0 {
		return 0
	}

	if c.rates.FreeShippingThresholdCents > 0 && subtotalCents >= c.rates.FreeShippingThresholdCents {
		return 0
	}

	return c.rates.BaseShippingCents + int64(units-1)*c.rates.PerAdditionalUnitCents
}

// Tax applies the tax rate to the subtotal, rounding half up to the cent.
// Shipping is not taxed.
func (c *Calculator) Tax(subtotalCents int64) int64 {
	if c.rates.TaxRateBps <= 0 || subtotalCents <= 0 {
		return 0
	}

	tax := decimal.NewFromInt(subtotalCents).
		Mul(decimal.NewFromInt(c.rates.TaxRateBps)).
		Div(decimal.NewFromInt(10000)).
		Round(0)

	return tax.IntPart()
}

// Calculate computes every money field for an order
func (c *Calculator) Calculate(items []models.LineItem, method models.FulfillmentMethod) Totals {
	subtotal := Subtotal(items)
	shipping := c.Shipping(method, models.LineItems(items).Units(), subtotal)
	tax := c.Tax(subtotal)

	return Totals{
		SubtotalCents: subtotal,
		ShippingCents: shipping,
		TaxCents:      tax,
		TotalCents:    subtotal + shipping + tax,
	}
}

// FormatCents renders an amount in cents as dollars, e.g. 1500 -> "$15.00"
func FormatCents(cents int64) string {
	amount := decimal.New(cents, -2)

	if amount.IsNegative() {
		return "-$" + amount.Neg().StringFixed(2)
	}

	return "$" + amount.StringFixed(2)
}
