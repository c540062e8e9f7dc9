package models

// Product is a storefront catalog entry
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Category    string   `json:"category,omitempty"`
	PriceCents  int64    `json:"price"`
	Images      []string `json:"images,omitempty"`
	Active      bool     `json:"active"`
}

// Payment is the result of a successful charge
type Payment struct {
	ID          string `json:"id"`
	AmountCents int64  `json:"amount"`
	Status      string `json:"status"`
}
