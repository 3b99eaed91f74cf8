package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsAfterConsecutiveFailures(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	})

	failing := errors.New("boom")
	_, err := cb.Execute(func() (interface{}, error) { return nil, failing })
	require.ErrorIs(t, err, failing)
	assert.Equal(t, StateClosed, cb.State())

	_, err = cb.Execute(func() (interface{}, error) { return nil, failing })
	require.ErrorIs(t, err, failing)
	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Execute(func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_HalfOpenRecoversOnSuccess(t *testing.T) {
	cb := New(&Config{
		Name:        "test",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     10 * time.Millisecond,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 1 },
	})

	_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
}

func TestNewRPCCircuitBreakers_AllHealthyInitially(t *testing.T) {
	rcb := NewRPCCircuitBreakers()
	status, breakers := rcb.HealthStatus()
	assert.Equal(t, "HEALTHY", status)
	assert.Contains(t, breakers, "slot-subscriber")
	assert.Contains(t, breakers, "cluster-nodes")
}

func TestRPCCircuitBreakers_SlotSubscriberTripsFast(t *testing.T) {
	rcb := NewRPCCircuitBreakers()
	failing := errors.New("ws closed")

	_, _ = rcb.SlotSubscriber.Execute(func() (interface{}, error) { return nil, failing })
	_, _ = rcb.SlotSubscriber.Execute(func() (interface{}, error) { return nil, failing })

	status, _ := rcb.HealthStatus()
	assert.Equal(t, "DEGRADED", status)
}
