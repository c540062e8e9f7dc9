package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaidashi/lavender-orders/internal/models"
	apperrors "github.com/vaidashi/lavender-orders/pkg/errors"
)

func statuses(s ...models.OrderStatus) []models.OrderStatus {
	return s
}

func requireRejection(t *testing.T, err error, kind RejectionKind) *Rejection {
	t.Helper()

	require.Error(t, err)
	var rejection *Rejection
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, kind, rejection.Kind)
	require.NotNil(t, rejection.Allowed)
	require.NotEmpty(t, rejection.Detail)
	return rejection
}

func TestAllowedTargets(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		current models.OrderStatus
		method  models.FulfillmentMethod
		want    []models.OrderStatus
	}{
		{"confirmed pickup", models.StatusConfirmed, models.FulfillmentPickup, statuses(models.StatusProcessing, models.StatusOnHold, models.StatusCancelled)},
		{"confirmed shipping", models.StatusConfirmed, models.FulfillmentShipping, statuses(models.StatusProcessing, models.StatusOnHold, models.StatusCancelled)},
		{"processing pickup", models.StatusProcessing, models.FulfillmentPickup, statuses(models.StatusReady, models.StatusOnHold, models.StatusCancelled)},
		{"processing shipping", models.StatusProcessing, models.FulfillmentShipping, statuses(models.StatusShipped, models.StatusOnHold, models.StatusCancelled)},
		{"ready pickup", models.StatusReady, models.FulfillmentPickup, statuses(models.StatusCompleted, models.StatusOnHold, models.StatusCancelled)},
		{"shipped shipping", models.StatusShipped, models.FulfillmentShipping, statuses(models.StatusCompleted, models.StatusOnHold, models.StatusCancelled)},
		{"on hold", models.StatusOnHold, models.FulfillmentShipping, statuses(models.StatusConfirmed, models.StatusProcessing, models.StatusCancelled)},
		{"completed", models.StatusCompleted, models.FulfillmentPickup, []models.OrderStatus{}},
		{"cancelled", models.StatusCancelled, models.FulfillmentShipping, []models.OrderStatus{}},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, AllowedTargets(tc.current, tc.method))
		})
	}
}

func TestValidateAcceptsAdjacentTargets(t *testing.T) {
	t.Parallel()

	require.NoError(t, Validate(models.StatusConfirmed, models.FulfillmentPickup, models.StatusProcessing, ""))
	require.NoError(t, Validate(models.StatusProcessing, models.FulfillmentPickup, models.StatusReady, ""))
	require.NoError(t, Validate(models.StatusProcessing, models.FulfillmentShipping, models.StatusShipped, ""))
	require.NoError(t, Validate(models.StatusOnHold, models.FulfillmentShipping, models.StatusConfirmed, ""))
	require.NoError(t, Validate(models.StatusReady, models.FulfillmentPickup, models.StatusCancelled, "customer asked"))
}

func TestValidateTerminalStatusesRejectEverything(t *testing.T) {
	t.Parallel()

	for _, current := range []models.OrderStatus{models.StatusCompleted, models.StatusCancelled} {
		for _, target := range models.AllStatuses {
			err := Validate(current, models.FulfillmentPickup, target, "note")
			rejection := requireRejection(t, err, InvalidTransition)
			require.Empty(t, rejection.Allowed)
		}
	}
}

func TestValidateConfirmedCannotJumpToReady(t *testing.T) {
	t.Parallel()

	err := Validate(models.StatusConfirmed, models.FulfillmentPickup, models.StatusReady, "")
	rejection := requireRejection(t, err, InvalidTransition)
	require.Equal(t, statuses(models.StatusProcessing, models.StatusOnHold, models.StatusCancelled), rejection.Allowed)
	require.True(t, errors.Is(err, apperrors.ErrInvalidTransition))
}

func TestValidateFulfillmentGating(t *testing.T) {
	t.Parallel()

	err := Validate(models.StatusProcessing, models.FulfillmentShipping, models.StatusReady, "")
	rejection := requireRejection(t, err, FulfillmentMismatch)
	require.Equal(t, statuses(models.StatusShipped, models.StatusOnHold, models.StatusCancelled), rejection.Allowed)
	require.True(t, errors.Is(err, apperrors.ErrFulfillmentMismatch))

	err = Validate(models.StatusProcessing, models.FulfillmentPickup, models.StatusShipped, "")
	requireRejection(t, err, FulfillmentMismatch)
}

func TestValidateAdjacencyCheckedBeforeFulfillment(t *testing.T) {
	t.Parallel()

	// shipped is not adjacent to confirmed, so the adjacency error wins
	err := Validate(models.StatusConfirmed, models.FulfillmentPickup, models.StatusShipped, "")
	requireRejection(t, err, InvalidTransition)
}

func TestValidateNoteRequirement(t *testing.T) {
	t.Parallel()

	for _, target := range []models.OrderStatus{models.StatusOnHold, models.StatusCancelled} {
		for _, note := range []string{"", "   ", "\n\t"} {
			err := Validate(models.StatusConfirmed, models.FulfillmentPickup, target, note)
			rejection := requireRejection(t, err, NoteRequired)
			require.Contains(t, rejection.Allowed, target)
			require.True(t, errors.Is(err, apperrors.ErrNoteRequired))
		}

		require.NoError(t, Validate(models.StatusConfirmed, models.FulfillmentPickup, target, "address issue"))
	}
}

func TestValidateNeverAdmitsFulfillmentIllegalStatus(t *testing.T) {
	t.Parallel()

	for _, current := range models.AllStatuses {
		require.NotContains(t, AllowedTargets(current, models.FulfillmentPickup), models.StatusShipped)
		require.NotContains(t, AllowedTargets(current, models.FulfillmentShipping), models.StatusReady)

		require.Error(t, Validate(current, models.FulfillmentPickup, models.StatusShipped, "n"))
		require.Error(t, Validate(current, models.FulfillmentShipping, models.StatusReady, "n"))
	}
}

func TestAllowedTargetsAgreeWithValidate(t *testing.T) {
	t.Parallel()

	for _, method := range []models.FulfillmentMethod{models.FulfillmentPickup, models.FulfillmentShipping} {
		for _, current := range models.AllStatuses {
			allowed := AllowedTargets(current, method)

			for _, target := range models.AllStatuses {
				err := Validate(current, method, target, "with note")
				if contains(allowed, target) {
					require.NoError(t, err, "%s -> %s (%s)", current, target, method)
				} else {
					require.Error(t, err, "%s -> %s (%s)", current, target, method)
				}
			}
		}
	}
}
