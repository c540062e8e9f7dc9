package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/lavender-orders/internal/models"
	"github.com/vaidashi/lavender-orders/internal/repository"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

func TestBulkChangeStatusPartialSuccess(t *testing.T) {
	t.Parallel()

	s, store := newTestService(t)
	ctx := context.Background()

	a := createOrder(t, s, models.FulfillmentPickup)
	b := createOrder(t, s, models.FulfillmentShipping)

	result, err := s.BulkChangeStatus(ctx, BulkChangeStatusInput{
		OrderIDs: []string{a.ID, "ord-missing", b.ID},
		Target:   models.StatusProcessing,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{a.ID, b.ID}, result.Succeeded)
	assert.Equal(t, []BulkFailure{{OrderID: "ord-missing", Error: "Order 'ord-missing' not found"}}, result.Failed)

	entries, err := store.ListAuditLog(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuditBulkStatusChange, entries[len(entries)-1].Action)
}

func TestBulkChangeStatusReportsRejections(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	pickup := createOrder(t, s, models.FulfillmentPickup)
	shipping := createOrder(t, s, models.FulfillmentShipping)

	for _, id := range []string{pickup.ID, shipping.ID} {
		_, err := s.ChangeStatus(ctx, ChangeStatusInput{OrderID: id, Target: models.StatusProcessing})
		require.NoError(t, err)
	}

	result, err := s.BulkChangeStatus(ctx, BulkChangeStatusInput{
		OrderIDs: []string{pickup.ID, shipping.ID, pickup.ID},
		Target:   models.StatusReady,
	})
	require.NoError(t, err)

	assert.Equal(t, []string{pickup.ID}, result.Succeeded)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, shipping.ID, result.Failed[0].OrderID)
	assert.Equal(t, "Status ready is not available for shipping orders", result.Failed[0].Error)
}

func TestBulkChangeStatusLimits(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.BulkChangeStatus(ctx, BulkChangeStatusInput{Target: models.StatusProcessing})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	tooMany := make([]string, MaxBulkOrders+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("ord-%d", i)
	}

	_, err = s.BulkChangeStatus(ctx, BulkChangeStatusInput{OrderIDs: tooMany, Target: models.StatusProcessing})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = s.BulkChangeStatus(ctx, BulkChangeStatusInput{OrderIDs: []string{"ord-1"}, Target: "lost"})
	require.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCommonTargets(t *testing.T) {
	t.Parallel()

	s, _ := newTestService(t)
	ctx := context.Background()

	pickup := createOrder(t, s, models.FulfillmentPickup)
	shipping := createOrder(t, s, models.FulfillmentShipping)

	for _, id := range []string{pickup.ID, shipping.ID} {
		_, err := s.ChangeStatus(ctx, ChangeStatusInput{OrderID: id, Target: models.StatusProcessing})
		require.NoError(t, err)
	}

	targets, err := s.CommonTargets(ctx, []string{pickup.ID, shipping.ID})
	require.NoError(t, err)
	assert.Equal(t, []models.OrderStatus{models.StatusOnHold, models.StatusCancelled}, targets)

	_, err = s.CommonTargets(ctx, []string{pickup.ID, "ord-missing"})
	require.ErrorIs(t, err, repository.ErrNotFound)
}
