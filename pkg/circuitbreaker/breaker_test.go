package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaidashi/lavender-orders/pkg/logger"
)

var errBoom = errors.New("boom")

func fail() (interface{}, error) { return nil, errBoom }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	cb := New("payments", Config{MaxFailures: 2, OpenTimeout: time.Minute}, logger.NewNop())

	_, err := cb.Execute(fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, gobreaker.StateClosed, cb.State())

	_, err = cb.Execute(fail)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerIgnoresSuccessfulErrors(t *testing.T) {
	t.Parallel()

	cb := New("payments", Config{
		MaxFailures:  1,
		IsSuccessful: func(err error) bool { return err == nil || errors.Is(err, errBoom) },
	}, logger.NewNop())

	for i := 0; i < 3; i++ {
		_, err := cb.Execute(fail)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestRegistrySnapshot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(New("stripe-payments", Config{MaxFailures: 1}, logger.NewNop()))
	two := NewTwoStep("http", Config{MaxFailures: 1}, logger.NewNop())
	reg.Register(two)
	reg.Register(nil)

	done, err := two.Allow()
	require.NoError(t, err)
	done(false)

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "http", snap[0].Name)
	assert.Equal(t, "open", snap[0].State)
	assert.Equal(t, uint32(0), snap[0].Requests, "counts reset on state change")
	assert.Equal(t, "stripe-payments", snap[1].Name)
	assert.Equal(t, "closed", snap[1].State)
}
