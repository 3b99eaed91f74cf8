// Package ingress implements the per-stream transaction fanout protocol
// (spec.md §4.7): read one blob, resolve current leaders, write it to every
// reachable one, and report back a single status line.
package ingress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bifrost-gw/bifrost/internal/bifrosterr"
	"github.com/bifrost-gw/bifrost/internal/leadertracker"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/tpupool"
)

// LeaderSource is the subset of *leadertracker.Tracker Fanout needs.
type LeaderSource interface {
	GetLeaders() []leadertracker.Leader
}

// Pool is the subset of *tpupool.Pool Fanout needs: non-blocking lookup
// only, per spec.md §4.7 step 4 — the hot path never dials.
type Pool interface {
	Get(socket string) (*tpupool.PoolEntry, bool)
}

// Fanout resolves leaders and writes one transaction blob to each.
type Fanout struct {
	leaders LeaderSource
	pool    Pool
	metrics *metrics.Metrics
	log     *slog.Logger
}

// New wires a Fanout handler to its leader source and connection pool.
func New(leaders LeaderSource, pool Pool, m *metrics.Metrics, log *slog.Logger) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{leaders: leaders, pool: pool, metrics: m, log: log}
}

// ReadTransaction reads r to end, capped at maxSize+1 so an oversized
// payload is detected without buffering it in full (spec.md §4.7 step 1).
func ReadTransaction(r io.Reader, maxSize int) ([]byte, error) {
	limited := io.LimitReader(r, int64(maxSize)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read transaction: %w", err)
	}
	if len(data) > maxSize {
		return nil, bifrosterr.ErrPayloadTooLarge
	}
	return data, nil
}

// ReadTransaction reads one transaction blob from r, recording a metric
// when the client exceeds maxSize.
func (f *Fanout) ReadTransaction(r io.Reader, maxSize int) ([]byte, error) {
	blob, err := ReadTransaction(r, maxSize)
	if err != nil && errors.Is(err, bifrosterr.ErrPayloadTooLarge) && f.metrics != nil {
		f.metrics.FanoutOversized.Inc()
	}
	return blob, err
}

// sanityLog performs the optional deserialize-for-logging pass described in
// spec.md §4.7 step 2. Solana transaction decoding is out of scope for this
// gateway (spec.md's Non-goals exclude signature verification); the
// reference behaviour forwards regardless of whether this check could run,
// so failure here is logged, never surfaced.
func (f *Fanout) sanityLog(blob []byte) {
	if len(blob) == 0 {
		f.log.Warn("fanout: empty transaction payload", "reason", "invalid_transaction")
		return
	}
	// The first byte of a legacy/v0 Solana transaction is its signature
	// count (a compact-u16). A zero count is already malformed.
	if blob[0] == 0 {
		f.log.Warn("fanout: transaction has zero signatures", "reason", "invalid_transaction")
	}
}

// Result reports the outcome of one fanout.
type Result struct {
	OK             bool
	PeersAttempted int
	PeersAccepted  int
	LastError      error
}

// StatusLine renders Result as the single response line spec.md §4.7 step 5
// requires: "OK ..." or "ERROR: ...".
func (r Result) StatusLine() string {
	if r.OK {
		return fmt.Sprintf("OK accepted=%d/%d", r.PeersAccepted, r.PeersAttempted)
	}
	if r.LastError != nil {
		return fmt.Sprintf("ERROR: %v", r.LastError)
	}
	return "ERROR: no leaders"
}

// Send resolves the current leaders and writes blob to each reachable
// connection, tolerating partial failure (spec.md §8's Fanout property).
func (f *Fanout) Send(ctx context.Context, blob []byte) Result {
	start := time.Now()
	defer func() {
		if f.metrics != nil {
			f.metrics.FanoutDuration.Observe(time.Since(start).Seconds())
		}
	}()

	// A per-send correlation ID ties together the scattered per-leader log
	// lines below, since a single client stream fans out to several leaders
	// and concurrent sends interleave their lines in the log output.
	sendID := uuid.NewString()

	f.sanityLog(blob)

	leaders := f.leaders.GetLeaders()
	if len(leaders) == 0 {
		if f.metrics != nil {
			f.metrics.FanoutNoLeaders.Inc()
		}
		return Result{OK: false}
	}

	var accepted int
	var lastErr error

	for _, leader := range leaders {
		entry, ok := f.pool.Get(leader.Socket)
		if !ok {
			lastErr = fmt.Errorf("%w: %s", bifrosterr.ErrPeerDialFailed, leader.Socket)
			f.log.Debug("fanout: peer not in pool", "send_id", sendID, "socket", leader.Socket)
			continue
		}

		stream, err := entry.OpenUniStream(ctx)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", bifrosterr.ErrPeerWriteFailed, leader.Socket, err)
			f.log.Debug("fanout: open stream failed", "send_id", sendID, "socket", leader.Socket, "error", err)
			f.recordAttempt("write_failed")
			entry.Fail()
			continue
		}

		if _, err := stream.Write(blob); err != nil {
			lastErr = fmt.Errorf("%w: %s: %v", bifrosterr.ErrPeerWriteFailed, leader.Socket, err)
			f.log.Debug("fanout: write failed", "send_id", sendID, "socket", leader.Socket, "error", err)
			f.recordAttempt("write_failed")
			entry.Fail()
			continue
		}
		_ = stream.Close()

		accepted++
		f.recordAttempt("ok")
	}

	if accepted == 0 {
		if lastErr == nil {
			lastErr = bifrosterr.ErrAllPeersFailed
		}
		f.log.Warn("fanout: all peers failed", "send_id", sendID, "peers_attempted", len(leaders), "error", lastErr)
		return Result{OK: false, PeersAttempted: len(leaders), LastError: lastErr}
	}

	return Result{OK: true, PeersAttempted: len(leaders), PeersAccepted: accepted}
}

func (f *Fanout) recordAttempt(outcome string) {
	if f.metrics != nil {
		f.metrics.FanoutAttempts.WithLabelValues(outcome).Inc()
	}
}
