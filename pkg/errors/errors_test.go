package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, IsRetryable(NewTemporaryError("try later")))
	assert.True(t, IsRetryable(NewServiceUnavailableError("breaker open")))
	assert.True(t, IsRetryable(fmt.Errorf("lock: %w", ErrTimeout)))
	assert.True(t, IsRetryable(fmt.Errorf("order changed since version 2: %w", ErrConflict)))

	assert.False(t, IsRetryable(NewConflictError("already discarded")))
	assert.False(t, IsRetryable(NewInvalidInputError("bad")))
	assert.False(t, IsRetryable(NewPaymentDeclinedError("card declined")))
	assert.False(t, IsRetryable(errors.New("unclassified")))
}

func TestStatusCode(t *testing.T) {
	t.Parallel()

	assert.Equal(t, http.StatusNotFound, StatusCode(fmt.Errorf("load: %w", ErrNotFound)))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusCode(ErrNoteRequired))
	assert.Equal(t, http.StatusConflict, StatusCode(ErrConflict))
	assert.Equal(t, http.StatusPaymentRequired, StatusCode(NewPaymentDeclinedError("declined")))
	assert.Equal(t, http.StatusGatewayTimeout, StatusCode(ErrTimeout))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("disk full")))
}

func TestAppErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewNotFoundError("Order 'ord-1' not found").WithContext("orderID", "ord-1")

	assert.Equal(t, "Order 'ord-1' not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "ord-1", err.Context["orderID"])
	assert.Equal(t, "invalid input", (&AppError{Err: ErrInvalidInput}).Error())
}
