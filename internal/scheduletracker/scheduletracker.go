// Package scheduletracker holds the current and next epoch's leader
// schedule and rotates at epoch boundaries (spec.md §4.2).
package scheduletracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bifrost-gw/bifrost/internal/bifrosterr"
)

// Identity names a validator, opaquely, per spec.md §3.
type Identity string

// EpochInfo is the subset of `get_epoch_info` Tracker needs.
type EpochInfo struct {
	AbsoluteSlot  uint64
	SlotIndex     uint64
	SlotsInEpoch  uint64
}

// Fetcher is the upstream RPC surface the tracker depends on. Its
// implementation (internal/solanarpc) is an external collaborator per
// spec.md §1; the tracker only needs this interface.
type Fetcher interface {
	GetEpochInfo(ctx context.Context) (EpochInfo, error)
	// GetLeaderSchedule returns the inverted (slot_index -> identity)
	// map for the epoch starting at epochStart.
	GetLeaderSchedule(ctx context.Context, epochStart uint64) (map[uint64]Identity, error)
}

// Tracker holds (curr_start, next_start, slots_in_epoch, curr_map,
// next_map) per spec.md §3.
type Tracker struct {
	mu           sync.RWMutex
	currStart    uint64
	nextStart    uint64
	slotsInEpoch uint64
	currMap      map[uint64]Identity
	nextMap      map[uint64]Identity

	log *slog.Logger
}

// New constructs a Tracker by fetching epoch_info and both epochs' leader
// schedules. It fails with ErrInit if the epoch boundaries are malformed,
// an RPC call errors, or either schedule comes back empty.
func New(ctx context.Context, rpc Fetcher, log *slog.Logger) (*Tracker, error) {
	if log == nil {
		log = slog.Default()
	}

	info, err := rpc.GetEpochInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: get_epoch_info: %v", bifrosterr.ErrInit, err)
	}
	if info.SlotsInEpoch == 0 {
		return nil, fmt.Errorf("%w: slots_in_epoch is zero", bifrosterr.ErrInit)
	}
	if info.SlotIndex >= info.SlotsInEpoch {
		return nil, fmt.Errorf("%w: slot_index %d >= slots_in_epoch %d", bifrosterr.ErrInit, info.SlotIndex, info.SlotsInEpoch)
	}

	currStart := info.AbsoluteSlot - info.SlotIndex
	nextStart := currStart + info.SlotsInEpoch

	currMap, err := rpc.GetLeaderSchedule(ctx, currStart)
	if err != nil {
		return nil, fmt.Errorf("%w: get_leader_schedule(curr): %v", bifrosterr.ErrInit, err)
	}
	if len(currMap) == 0 {
		return nil, fmt.Errorf("%w: empty current leader schedule", bifrosterr.ErrInit)
	}

	nextMap, err := rpc.GetLeaderSchedule(ctx, nextStart)
	if err != nil {
		return nil, fmt.Errorf("%w: get_leader_schedule(next): %v", bifrosterr.ErrInit, err)
	}
	if len(nextMap) == 0 {
		return nil, fmt.Errorf("%w: empty next leader schedule", bifrosterr.ErrInit)
	}

	return &Tracker{
		currStart:    currStart,
		nextStart:    nextStart,
		slotsInEpoch: info.SlotsInEpoch,
		currMap:      currMap,
		nextMap:      nextMap,
		log:          log,
	}, nil
}

// Bounds returns the current epoch's [start, end) range under a shared
// lock, for callers (e.g. LeaderTracker) that need a consistent snapshot.
func (t *Tracker) Bounds() (currStart, nextStart uint64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.currStart, t.nextStart
}

// SlotToIndex returns the epoch-relative index for slot, or ok=false if
// slot falls outside [curr_start, next_start).
func (t *Tracker) SlotToIndex(slot uint64) (index uint64, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if slot < t.currStart || slot >= t.nextStart {
		return 0, false
	}
	return slot - t.currStart, true
}

// LeaderFor returns the identity scheduled at the given epoch-relative
// index in the current map, or ok=false if absent.
func (t *Tracker) LeaderFor(index uint64) (Identity, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	id, ok := t.currMap[index]
	return id, ok
}

// MaybeRotate performs at most one epoch shift if currentSlot has reached
// next_start. It is idempotent within an epoch: repeated calls with
// currentSlot < next_start return false without mutating state.
//
// The replacement next_map fetch happens without holding the write lock
// (spec.md §5). If it fails, nothing is committed: curr/next stay exactly
// as they were, so currentSlot is still >= next_start and the caller's
// next tick retries the fetch — the bounded-backoff retry spec.md §4.2's
// "implementations must document which" calls for, bounded by the
// caller's polling interval rather than a separate timer. The schedule
// already being served (curr_map, next_map) is untouched by a failed
// attempt, so callers keep resolving leaders against the last-known-good
// schedule until a fetch succeeds.
func (t *Tracker) MaybeRotate(ctx context.Context, currentSlot uint64, rpc Fetcher) (bool, error) {
	t.mu.RLock()
	nextStart := t.nextStart
	newNextStart := t.nextStart + t.slotsInEpoch
	t.mu.RUnlock()

	if currentSlot < nextStart {
		return false, nil
	}

	fetched, err := rpc.GetLeaderSchedule(ctx, newNextStart)
	if err != nil || len(fetched) == 0 {
		if err == nil {
			err = fmt.Errorf("empty leader schedule")
		}
		t.log.Warn("schedule rotation: next-epoch fetch failed, retaining current schedule",
			"attempted_next_start", newNextStart, "error", err)
		return false, fmt.Errorf("bifrost: schedule fetch error: %w", err)
	}

	t.mu.Lock()
	t.currStart = t.nextStart
	t.nextStart = newNextStart
	t.currMap = t.nextMap
	t.nextMap = fetched
	t.mu.Unlock()

	t.log.Info("schedule rotated", "curr_start", t.currStart, "next_start", t.nextStart)
	return true, nil
}
