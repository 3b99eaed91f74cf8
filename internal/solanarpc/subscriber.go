package solanarpc

import (
	"context"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bifrost-gw/bifrost/internal/circuitbreaker"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/slottracker"
)

type slotSubscribeRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
}

type slotUpdateNotification struct {
	Method string `json:"method"`
	Params struct {
		Result struct {
			Type string `json:"type"`
			Slot uint64 `json:"slot"`
		} `json:"result"`
	} `json:"params"`
}

// SlotSubscriber maintains a WebSocket subscription to slot_updates and
// feeds FirstShredReceived/Completed notifications into a SlotTracker,
// reconnecting with circuit-breaker-gated backoff on every drop (spec.md
// §6, §7's BackgroundFault policy).
type SlotSubscriber struct {
	wsURL   string
	tracker *slottracker.Tracker
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	log     *slog.Logger
}

// NewSlotSubscriber wires a subscriber to its tracker and reconnect breaker.
// m may be nil, in which case no metrics are recorded.
func NewSlotSubscriber(wsURL string, tracker *slottracker.Tracker, breaker *circuitbreaker.CircuitBreaker, m *metrics.Metrics, log *slog.Logger) *SlotSubscriber {
	if log == nil {
		log = slog.Default()
	}
	return &SlotSubscriber{wsURL: wsURL, tracker: tracker, breaker: breaker, metrics: m, log: log}
}

// Run connects, subscribes, and processes notifications until ctx is
// cancelled. A dropped connection is reconnected after a backoff delay
// gated by the circuit breaker: while the breaker is open, Run re-checks it
// after each backoff delay instead of dialing. The delay starts at 1s,
// doubles after every ended connection up to 30s, and is never reset.
func (s *SlotSubscriber) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := s.breaker.Allow(); err != nil {
			s.log.Warn("slot subscriber: breaker open, waiting before reconnect", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		_, _ = s.breaker.Execute(func() (interface{}, error) { return nil, err })
		s.log.Warn("slot subscriber: connection ended, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *SlotSubscriber) runOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(slotSubscribeRequest{JSONRPC: "2.0", ID: 1, Method: "slotsUpdatesSubscribe"}); err != nil {
		return err
	}

	// A successful connect records nothing on the breaker and does not
	// reset the caller's backoff: once this returns, the caller records the
	// ended connection as a breaker failure and doubles its backoff.
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		var notif slotUpdateNotification
		if err := conn.ReadJSON(&notif); err != nil {
			return err
		}
		if notif.Method != "slotsUpdatesNotification" {
			continue
		}

		evt, ok := toSlotEvent(notif)
		if !ok {
			continue
		}
		current := s.tracker.Record(evt)

		if s.metrics != nil {
			s.metrics.SlotTrackerEvents.WithLabelValues(notif.Params.Result.Type).Inc()
			s.metrics.SlotTrackerCurrentSlot.Set(float64(current))
		}
	}
}

func toSlotEvent(notif slotUpdateNotification) (slottracker.SlotEvent, bool) {
	switch notif.Params.Result.Type {
	case "firstShredReceived":
		return slottracker.SlotEvent{Kind: slottracker.Start, Slot: notif.Params.Result.Slot}, true
	case "completed":
		return slottracker.SlotEvent{Kind: slottracker.End, Slot: notif.Params.Result.Slot}, true
	default:
		return slottracker.SlotEvent{}, false
	}
}
