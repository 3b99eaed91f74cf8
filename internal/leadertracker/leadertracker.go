// Package leadertracker composes the slot, schedule, and socket trackers
// to answer "who are the next N leaders right now?" (spec.md §4.4).
package leadertracker

import (
	"log/slog"

	"github.com/bifrost-gw/bifrost/internal/scheduletracker"
	"github.com/bifrost-gw/bifrost/internal/slottracker"
	"github.com/bifrost-gw/bifrost/internal/socketregistry"
)

// Identity is re-exported so callers share one type across the stack.
type Identity = scheduletracker.Identity

// Leader is one resolved fanout target.
type Leader struct {
	Identity    Identity
	Socket      string
	CurrentSlot uint64
}

// Tracker composes SlotTracker, ScheduleTracker, and SocketRegistry.
type Tracker struct {
	slots     *slottracker.Tracker
	schedule  *scheduletracker.Tracker
	sockets   *socketregistry.Registry
	log       *slog.Logger
}

// New wires the three trackers together.
func New(slots *slottracker.Tracker, schedule *scheduletracker.Tracker, sockets *socketregistry.Registry, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	return &Tracker{slots: slots, schedule: schedule, sockets: sockets, log: log}
}

// GetFutureLeaders implements spec.md §4.4's algorithm: snapshot current
// slot and schedule bounds, then walk [start, end) resolving each target
// slot to a deduplicated, socket-resolved leader list.
func (t *Tracker) GetFutureLeaders(start, end int) []Leader {
	currentSlot := t.slots.CurrentSlot()
	currStart, nextStart := t.schedule.Bounds()

	if currentSlot == 0 || currentSlot < currStart || currentSlot >= nextStart {
		return nil
	}

	out := make([]Leader, 0, end-start)
	seen := make(map[Identity]struct{}, end-start)

	for i := start; i < end; i++ {
		target := currentSlot + uint64(i)
		if target < currentSlot { // overflow
			break
		}
		if target >= nextStart { // do not cross epochs within one call
			break
		}

		index, ok := t.schedule.SlotToIndex(target)
		if !ok {
			continue
		}
		identity, ok := t.schedule.LeaderFor(index)
		if !ok {
			continue
		}
		if _, dup := seen[identity]; dup {
			continue
		}
		socket, ok := t.sockets.Lookup(identity)
		if !ok {
			t.log.Warn("leader tracker: unresolved socket for leader", "identity", identity, "slot", target)
			continue
		}

		seen[identity] = struct{}{}
		out = append(out, Leader{Identity: identity, Socket: socket, CurrentSlot: currentSlot})
	}

	return out
}

// GetLeaders is GetFutureLeaders(0, 2): the current-plus-next leader, per
// spec.md §4.4.
func (t *Tracker) GetLeaders() []Leader {
	return t.GetFutureLeaders(0, 2)
}
