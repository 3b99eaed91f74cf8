package tpupool

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-gw/bifrost/internal/metrics"
)

func TestGet_UnknownSocketReturnsFalse(t *testing.T) {
	p, err := New(Config{ALPN: "bifrost-test", MaxIdleTimeout: time.Second, KeepaliveInterval: 500 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer p.CloseAll()

	_, ok := p.Get("127.0.0.1:1")
	assert.False(t, ok)
}

func TestPoolEntry_StateTransitions(t *testing.T) {
	e := &PoolEntry{Socket: "x", state: Pending}
	assert.Equal(t, Pending, e.State())

	e.state = Open
	assert.Equal(t, Open, e.State())

	e.close()
	assert.Equal(t, Closed, e.State())
}

func TestPoolEntry_OpenUniStream_FailsWhenNotOpen(t *testing.T) {
	e := &PoolEntry{Socket: "x", state: Pending}
	_, err := e.OpenUniStream(context.Background())
	assert.Error(t, err)
}

func TestPoolEntry_Fail_MarksClosed(t *testing.T) {
	e := &PoolEntry{Socket: "x", state: Open}
	e.Fail()
	assert.Equal(t, Closed, e.State())
}

func TestGet_SkipsEntryAfterFail(t *testing.T) {
	p, err := New(Config{ALPN: "bifrost-test", MaxIdleTimeout: time.Second, KeepaliveInterval: 500 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer p.CloseAll()

	entry := &PoolEntry{Socket: "10.0.0.1:8001", state: Open}
	p.mu.Lock()
	p.entries[entry.Socket] = entry
	p.mu.Unlock()

	_, ok := p.Get(entry.Socket)
	assert.True(t, ok)

	entry.Fail()

	_, ok = p.Get(entry.Socket)
	assert.False(t, ok, "a failed entry must not be handed out by Get")
}

func TestGetOrConnect_DialFailureIsNotCached(t *testing.T) {
	p, err := New(Config{ALPN: "bifrost-test", MaxIdleTimeout: 200 * time.Millisecond, KeepaliveInterval: 100 * time.Millisecond}, nil, nil)
	require.NoError(t, err)
	defer p.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Nothing listens on this port, so the dial must fail and must not
	// be left behind in the entries map.
	_, err = p.GetOrConnect(ctx, "127.0.0.1:1")
	assert.Error(t, err)

	_, ok := p.Get("127.0.0.1:1")
	assert.False(t, ok)
}

func TestGetOrConnect_DialFailureRecordsMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p, err := New(Config{ALPN: "bifrost-test", MaxIdleTimeout: 200 * time.Millisecond, KeepaliveInterval: 100 * time.Millisecond}, m, nil)
	require.NoError(t, err)
	defer p.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = p.GetOrConnect(ctx, "127.0.0.1:1")
	assert.Error(t, err)

	mf, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range mf {
		if fam.GetName() == "bifrost_tpu_pool_dials_total" {
			found = true
		}
	}
	assert.True(t, found, "expected bifrost_tpu_pool_dials_total to be registered")
}
