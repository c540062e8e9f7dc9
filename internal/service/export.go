package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/pricing"
	"github.com/vaidashi/lavender-orders/internal/repository"
)

// MaxExportRows bounds a single CSV export
const MaxExportRows = 5000

var exportHeader = []string{
	"Order ID",
	"Status",
	"Customer Name",
	"Email",
	"Fulfillment",
	"Items",
	"Total",
	"Tracking",
	"Created Date",
}

// formatItems renders line items as "2x Lavender Sachet; 1x Dry Cider"
func formatItems(items models.LineItems) string {
	parts := make([]string, len(items))

	for i, item := range items {
		parts[i] = fmt.Sprintf("%dx %s", item.Quantity, item.Name)
	}

	return strings.Join(parts, "; ")
}

func exportRow(order *models.Order) []string {
	tracking := ""
	if order.TrackingNumber != nil {
		tracking = *order.TrackingNumber
	}

	return []string{
		order.ID,
		string(order.Status),
		order.FullName(),
		order.Email,
		string(order.FulfillmentMethod),
		formatItems(order.Items),
		pricing.FormatCents(order.TotalCents),
		tracking,
		order.CreatedAt.Format("2006-01-02"),
	}
}

// ExportCSV writes every order matching q as CSV, ignoring pagination.
// At most MaxExportRows rows are written; the returned count is the number
// of data rows.
func (s *OrderService) ExportCSV(ctx context.Context, q ListOrdersQuery, w io.Writer) (int, error) {
	filter, err := q.filter()

	if err != nil {
		return 0, err
	}

	orders, total, err := s.store.ListOrders(ctx, filter, q.sort(), repository.Page{Limit: MaxExportRows})

	if err != nil {
		s.logFailure("Failed to load orders for export", err)
		return 0, err
	}

	if total > MaxExportRows {
		s.logger.Warn("Export truncated", "matched", total, "exported", MaxExportRows)
	}

	cw := csv.NewWriter(w)

	if err := cw.Write(exportHeader); err != nil {
		return 0, fmt.Errorf("failed to write export header: %w", err)
	}

	for _, order := range orders {
		if err := cw.Write(exportRow(order)); err != nil {
			return 0, fmt.Errorf("failed to write export row: %w", err)
		}
	}

	cw.Flush()

	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("failed to flush export: %w", err)
	}

	return len(orders), nil
}
