package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

// Tab is the admin list shorthand for a group of statuses
type Tab string

const (
	TabAll      Tab = ""
	TabActive   Tab = "active"
	TabArchived Tab = "archived"
	// TabCompleted is accepted as a synonym for TabArchived
	TabCompleted Tab = "completed"
)

// ParseTab converts a query value into a tab
func ParseTab(s string) (Tab, error) {
	switch tab := Tab(strings.ToLower(strings.TrimSpace(s))); tab {
	case TabAll, TabActive, TabArchived:
		return tab, nil
	case TabCompleted:
		return TabArchived, nil
	case "all":
		return TabAll, nil
	}
	return "", apperrors.NewInvalidInputError(fmt.Sprintf("Unknown tab %q", s))
}

// Statuses returns the statuses the tab selects, nil meaning all
func (t Tab) Statuses() []models.OrderStatus {
	switch t {
	case TabActive:
		return models.ActiveStatuses()
	case TabArchived, TabCompleted:
		return models.ArchivedStatuses()
	}
	return nil
}

// ListOrdersQuery selects and orders a page of orders. DateFrom and DateTo
// are calendar days and both are inclusive.
type ListOrdersQuery struct {
	Statuses    []models.OrderStatus
	Tab         Tab
	Fulfillment models.FulfillmentMethod
	Search      string
	DateFrom    *time.Time
	DateTo      *time.Time
	Sort        repository.OrderSort
	Page        int
	PageSize    int
}

// filter resolves the query into a store filter. An explicit status list
// takes precedence over the tab.
func (q ListOrdersQuery) filter() (repository.OrderFilter, error) {
	f := repository.OrderFilter{
		Fulfillment: q.Fulfillment,
		Search:      strings.TrimSpace(q.Search),
	}

	if len(q.Statuses) > 0 {
		f.Statuses = q.Statuses
	} else {
		f.Statuses = q.Tab.Statuses()
	}

	for _, status := range f.Statuses {
		if !status.IsValid() {
			return f, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown status %q", status))
		}
	}

	if f.Fulfillment != "" && !f.Fulfillment.IsValid() {
		return f, apperrors.NewInvalidInputError(fmt.Sprintf("Unknown fulfillment method %q", f.Fulfillment))
	}

	if q.DateFrom != nil {
		from := startOfDay(*q.DateFrom)
		f.CreatedFrom = &from
	}

	if q.DateTo != nil {
		before := startOfDay(*q.DateTo).AddDate(0, 0, 1)
		f.CreatedBefore = &before
	}

	if f.CreatedFrom != nil && f.CreatedBefore != nil && !f.CreatedFrom.Before(*f.CreatedBefore) {
		return f, apperrors.NewInvalidInputError("dateFrom must not be after dateTo")
	}

	return f, nil
}

func (q ListOrdersQuery) sort() repository.OrderSort {
	if q.Sort.Field == "" {
		return repository.DefaultOrderSort
	}
	return q.Sort
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// OrderList is a page of orders plus per-status counts for the same scope
type OrderList struct {
	Orders     []*models.Order            `json:"data"`
	Pagination Pagination                 `json:"pagination"`
	Counts     map[models.OrderStatus]int `json:"counts"`
}

// ListOrders returns one page of orders. Counts ignore the status filter and
// always carry every status key.
func (s *OrderService) ListOrders(ctx context.Context, q ListOrdersQuery) (*OrderList, error) {
	filter, err := q.filter()

	if err != nil {
		return nil, err
	}

	page, pageSize := normalizePage(q.Page, q.PageSize)

	orders, total, err := s.store.ListOrders(ctx, filter, q.sort(), repository.Page{
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	})

	if err != nil {
		s.logFailure("Failed to list orders", err)
		return nil, err
	}

	raw, err := s.store.CountByStatus(ctx, filter.WithoutStatuses())

	if err != nil {
		s.logFailure("Failed to count orders", err)
		return nil, err
	}

	counts := make(map[models.OrderStatus]int, len(models.AllStatuses))
	for _, status := range models.AllStatuses {
		counts[status] = raw[status]
	}

	return &OrderList{
		Orders:     orders,
		Pagination: newPagination(page, pageSize, total),
		Counts:     counts,
	}, nil
}
