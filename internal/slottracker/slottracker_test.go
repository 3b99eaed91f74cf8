package slottracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentSlot_ZeroBeforeAnyEvent(t *testing.T) {
	tr := New()
	assert.Equal(t, uint64(0), tr.CurrentSlot())
}

func TestRecord_OutlierRejection(t *testing.T) {
	// Scenario 4 of spec.md §8: ring = [Start(1), End(1), Start(100), End(100)]
	tr := New()
	tr.Record(SlotEvent{Kind: Start, Slot: 1})
	tr.Record(SlotEvent{Kind: End, Slot: 1})
	tr.Record(SlotEvent{Kind: Start, Slot: 100})
	got := tr.Record(SlotEvent{Kind: End, Slot: 100})

	assert.Equal(t, uint64(2), got)
	assert.Equal(t, uint64(2), tr.CurrentSlot())
}

func TestRecord_MonotonicOnWellFormedStream(t *testing.T) {
	tr := New()
	var last uint64
	for slot := uint64(1000); slot < 1050; slot++ {
		got := tr.Record(SlotEvent{Kind: Start, Slot: slot})
		assert.GreaterOrEqual(t, got, last)
		last = got
		got = tr.Record(SlotEvent{Kind: End, Slot: slot})
		assert.GreaterOrEqual(t, got, last)
		last = got
	}
}

func TestRecord_RingCapacityBounded(t *testing.T) {
	tr := New()
	for slot := uint64(0); slot < 1000; slot++ {
		tr.Record(SlotEvent{Kind: Start, Slot: slot})
	}
	assert.LessOrEqual(t, len(tr.ring), ringCapacity)
}

func TestRecord_StartPreferredOverEndAtSamePosition(t *testing.T) {
	tr := New()
	tr.Record(SlotEvent{Kind: End, Slot: 9})
	got := tr.Record(SlotEvent{Kind: Start, Slot: 10})
	assert.Equal(t, uint64(10), got)
}

func TestRecord_SkipAdvancesWithinEnvelope(t *testing.T) {
	tr := New()
	tr.Record(SlotEvent{Kind: Start, Slot: 100})
	got := tr.Record(SlotEvent{Kind: Start, Slot: 140})
	assert.Equal(t, uint64(140), got)
}
