package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersWithoutPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.SlotTrackerCurrentSlot.Set(42)
	m.SlotTrackerEvents.WithLabelValues("start").Inc()
	m.FanoutAttempts.WithLabelValues("ok").Inc()

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SecondRegistryDoesNotCollide(t *testing.T) {
	reg1 := prometheus.NewRegistry()
	reg2 := prometheus.NewRegistry()

	assert.NotPanics(t, func() {
		New(reg1)
		New(reg2)
	})
}
