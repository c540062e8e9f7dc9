package models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// OrderStatus represents the lifecycle status of an order
type OrderStatus string

const (
	StatusConfirmed  OrderStatus = "confirmed"
	StatusProcessing OrderStatus = "processing"
	StatusReady      OrderStatus = "ready"
	StatusShipped    OrderStatus = "shipped"
	StatusOnHold     OrderStatus = "on_hold"
	StatusCompleted  OrderStatus = "completed"
	StatusCancelled  OrderStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order
var AllStatuses = []OrderStatus{
	StatusConfirmed,
	StatusProcessing,
	StatusReady,
	StatusShipped,
	StatusOnHold,
	StatusCompleted,
	StatusCancelled,
}

// ParseOrderStatus converts a raw string into a known status
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))

	if !status.IsValid() {
		return "", fmt.Errorf("unknown order status %q", s)
	}

	return status, nil
}

// IsValid reports whether s is one of the known statuses
func (s OrderStatus) IsValid() bool {
	switch s {
	case StatusConfirmed, StatusProcessing, StatusReady, StatusShipped,
		StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Rank is the position of s in lifecycle order, used when sorting by status
func (s OrderStatus) Rank() int {
	for i, status := range AllStatuses {
		if status == s {
			return i
		}
	}
	return len(AllStatuses)
}

// ActiveStatuses returns every non-terminal status
func ActiveStatuses() []OrderStatus {
	active := make([]OrderStatus, 0, len(AllStatuses))

	for _, s := range AllStatuses {
		if !s.IsTerminal() {
			active = append(active, s)
		}
	}

	return active
}

// ArchivedStatuses returns the terminal statuses
func ArchivedStatuses() []OrderStatus {
	return []OrderStatus{StatusCompleted, StatusCancelled}
}

// FulfillmentMethod describes how an order reaches the customer
type FulfillmentMethod string

const (
	FulfillmentPickup   FulfillmentMethod = "pickup"
	FulfillmentShipping FulfillmentMethod = "shipping"
)

// ParseFulfillmentMethod converts a raw string into a known fulfillment method
func ParseFulfillmentMethod(s string) (FulfillmentMethod, error) {
	method := FulfillmentMethod(strings.ToLower(strings.TrimSpace(s)))

	if !method.IsValid() {
		return "", fmt.Errorf("unknown fulfillment method %q", s)
	}

	return method, nil
}

// IsValid reports whether m is pickup or shipping
func (m FulfillmentMethod) IsValid() bool {
	return m == FulfillmentPickup || m == FulfillmentShipping
}

// LineItem is a snapshot of one purchased product
type LineItem struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unitPrice"`
}

// TotalCents returns quantity times unit price
func (i LineItem) TotalCents() int64 {
	return int64(i.Quantity) * i.UnitPriceCents
}

// LineItems is stored as a JSONB array
type LineItems []LineItem

// Value implements driver.Valuer
func (items LineItems) Value() (driver.Value, error) {
	if items == nil {
		items = LineItems{}
	}
	return valueJSON([]LineItem(items))
}

// Scan implements sql.Scanner
func (items *LineItems) Scan(src interface{}) error {
	return scanJSON(src, (*[]LineItem)(items))
}

// Units returns the total quantity across all line items
func (items LineItems) Units() int {
	units := 0

	for _, item := range items {
		units += item.Quantity
	}

	return units
}

// CustomerInfo is captured at checkout and never changed afterwards
type CustomerInfo struct {
	Email     string `db:"customer_email" json:"email"`
	FirstName string `db:"customer_first_name" json:"firstName"`
	LastName  string `db:"customer_last_name" json:"lastName"`
	Phone     string `db:"customer_phone" json:"phone,omitempty"`
}

// FullName joins first and last name
func (c CustomerInfo) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Address is a postal address snapshot, stored as JSONB
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Value implements driver.Valuer
func (a Address) Value() (driver.Value, error) {
	return valueJSON(a)
}

// Scan implements sql.Scanner
func (a *Address) Scan(src interface{}) error {
	return scanJSON(src, a)
}

// StatusHistoryEntry is one step of the legacy status history view
type StatusHistoryEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      *string     `json:"note,omitempty"`
}

// Order represents a placed order
type Order struct {
	ID                string            `db:"id" json:"id"`
	Status            OrderStatus       `db:"status" json:"status"`
	FulfillmentMethod FulfillmentMethod `db:"fulfillment_method" json:"fulfillmentMethod"`
	Items             LineItems         `db:"items" json:"items"`
	CustomerInfo      `json:"customer"`
	ShippingAddress   *Address             `db:"shipping_address" json:"shippingAddress,omitempty"`
	SubtotalCents     int64                `db:"subtotal_cents" json:"subtotal"`
	ShippingCents     int64                `db:"shipping_cents" json:"shippingCost"`
	TaxCents          int64                `db:"tax_cents" json:"tax"`
	TotalCents        int64                `db:"total_cents" json:"total"`
	PaymentID         string               `db:"payment_id" json:"paymentId,omitempty"`
	TrackingNumber    *string              `db:"tracking_number" json:"trackingNumber"`
	AdminNotes        *string              `db:"admin_notes" json:"adminNotes"`
	StatusHistory     []StatusHistoryEntry `db:"-" json:"statusHistory,omitempty"`
	Version           int64                `db:"version" json:"version"`
	CreatedAt         time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time            `db:"updated_at" json:"updatedAt"`
}

// Clone returns a deep copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}

	c := *o
	c.Items = append(LineItems(nil), o.Items...)

	if o.ShippingAddress != nil {
		addr := *o.ShippingAddress
		c.ShippingAddress = &addr
	}
	if o.TrackingNumber != nil {
		tracking := *o.TrackingNumber
		c.TrackingNumber = &tracking
	}
	if o.AdminNotes != nil {
		notes := *o.AdminNotes
		c.AdminNotes = &notes
	}
	if o.StatusHistory != nil {
		c.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	}

	return &c
}

// StringPtr returns nil for an empty string and a pointer otherwise
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
