package lifecycle

import "github.com/vaidashi/lavender-orders/internal/models"

// CommonAllowedTargets intersects AllowedTargets across orders, starting from
// the first order's set and keeping its ordering. Empty input yields an empty
// result.
func CommonAllowedTargets(orders []*models.Order) []models.OrderStatus {
	common := []models.OrderStatus{}

	for i, order := range orders {
		allowed := AllowedTargets(order.Status, order.FulfillmentMethod)

		if i == 0 {
			common = allowed
			continue
		}

		kept := make([]models.OrderStatus, 0, len(common))

		for _, s := range common {
			if contains(allowed, s) {
				kept = append(kept, s)
			}
		}

		common = kept

		if len(common) == 0 {
			break
		}
	}

	return common
}
