package ingress

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrost-gw/bifrost/internal/bifrosterr"
	"github.com/bifrost-gw/bifrost/internal/leadertracker"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/tpupool"
)

func TestReadTransaction_RejectsOversizedPayload(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 10)
	_, err := ReadTransaction(bytes.NewReader(data), 5)
	assert.Error(t, err)
}

func TestReadTransaction_AcceptsUnderLimit(t *testing.T) {
	data := []byte{1, 2, 3}
	got, err := ReadTransaction(bytes.NewReader(data), 10)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

type fakeLeaderSource struct {
	leaders []leadertracker.Leader
}

func (f *fakeLeaderSource) GetLeaders() []leadertracker.Leader { return f.leaders }

type fakePool struct {
	known map[string]bool
}

func (p *fakePool) Get(socket string) (*tpupool.PoolEntry, bool) {
	if !p.known[socket] {
		return nil, false
	}
	return nil, false // entries are intentionally absent; covered by Result-level tests below
}

func TestSend_NoLeadersReturnsNotOK(t *testing.T) {
	f := New(&fakeLeaderSource{}, &fakePool{known: map[string]bool{}}, metrics.New(prometheus.NewRegistry()), nil)
	result := f.Send(context.Background(), []byte{1})
	assert.False(t, result.OK)
	assert.True(t, strings.HasPrefix(result.StatusLine(), "ERROR:"))
}

func TestSend_UnresolvedSocketIsAllPeersFailed(t *testing.T) {
	leaders := []leadertracker.Leader{{Identity: "A", Socket: "10.0.0.1:8001"}}
	f := New(&fakeLeaderSource{leaders: leaders}, &fakePool{known: map[string]bool{}}, metrics.New(prometheus.NewRegistry()), nil)

	result := f.Send(context.Background(), []byte{1})
	assert.False(t, result.OK)
	assert.ErrorIs(t, result.LastError, bifrosterr.ErrPeerDialFailed)
}

func TestFanout_ReadTransaction_RecordsOversizedMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	f := New(&fakeLeaderSource{}, &fakePool{known: map[string]bool{}}, metrics.New(reg), nil)

	_, err := f.ReadTransaction(bytes.NewReader(bytes.Repeat([]byte{1}, 10)), 5)
	assert.Error(t, err)

	mf, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, fam := range mf {
		if fam.GetName() == "bifrost_fanout_oversized_total" {
			found = true
			assert.Equal(t, float64(1), fam.Metric[0].Counter.GetValue())
		}
	}
	assert.True(t, found, "expected bifrost_fanout_oversized_total to be registered")
}

func TestResult_StatusLine(t *testing.T) {
	ok := Result{OK: true, PeersAttempted: 2, PeersAccepted: 1}
	assert.Equal(t, "OK accepted=1/2", ok.StatusLine())

	failed := Result{OK: false, LastError: errors.New("boom")}
	assert.Equal(t, "ERROR: boom", failed.StatusLine())

	empty := Result{OK: false}
	assert.Equal(t, "ERROR: no leaders", empty.StatusLine())
}
