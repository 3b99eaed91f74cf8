package solanarpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bifrost-gw/bifrost/internal/circuitbreaker"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/slottracker"
)

func TestSlotSubscriber_FeedsTrackerFromNotifications(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub slotSubscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))
		assert.Equal(t, "slotsUpdatesSubscribe", sub.Method)

		notifs := []string{
			`{"method":"slotsUpdatesNotification","params":{"result":{"type":"firstShredReceived","slot":10}}}`,
			`{"method":"slotsUpdatesNotification","params":{"result":{"type":"completed","slot":10}}}`,
			`{"method":"slotsUpdatesNotification","params":{"result":{"type":"someOtherKind","slot":999}}}`,
		}
		for _, n := range notifs {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(n)))
		}
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tracker := slottracker.New()
	breaker := circuitbreaker.New(&circuitbreaker.Config{Name: "test", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
		ReadyToTrip: func(c circuitbreaker.Counts) bool { return false }})

	sub := NewSlotSubscriber(wsURL, tracker, breaker, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = sub.runOnce(ctx)

	assert.Equal(t, uint64(11), tracker.CurrentSlot())
}

func TestSlotSubscriber_RecordsMetricsWhenProvided(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var sub slotSubscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"method":"slotsUpdatesNotification","params":{"result":{"type":"firstShredReceived","slot":20}}}`)))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	tracker := slottracker.New()
	breaker := circuitbreaker.New(&circuitbreaker.Config{Name: "test", MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute,
		ReadyToTrip: func(c circuitbreaker.Counts) bool { return false }})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sub := NewSlotSubscriber(wsURL, tracker, breaker, m, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = sub.runOnce(ctx)

	mf, err := reg.Gather()
	require.NoError(t, err)
	var sawEvent bool
	for _, fam := range mf {
		if fam.GetName() == "bifrost_slot_tracker_events_total" {
			sawEvent = true
		}
	}
	assert.True(t, sawEvent, "expected bifrost_slot_tracker_events_total to be registered")
}

func TestToSlotEvent_IgnoresUnknownKinds(t *testing.T) {
	notif := slotUpdateNotification{}
	notif.Params.Result.Type = "unknown"
	_, ok := toSlotEvent(notif)
	assert.False(t, ok)
}

func TestToSlotEvent_MapsKnownKinds(t *testing.T) {
	notif := slotUpdateNotification{}
	notif.Params.Result.Type = "firstShredReceived"
	notif.Params.Result.Slot = 5
	evt, ok := toSlotEvent(notif)
	require.True(t, ok)
	assert.Equal(t, slottracker.Start, evt.Kind)
	assert.Equal(t, uint64(5), evt.Slot)
}
