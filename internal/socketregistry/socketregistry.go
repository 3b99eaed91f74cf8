// Package socketregistry maps validator identity to TPU-QUIC socket
// address, refreshed periodically from the cluster-nodes RPC (spec.md
// §4.3).
package socketregistry

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bifrost-gw/bifrost/internal/scheduletracker"
)

// Identity is re-exported from scheduletracker so callers share one type
// across the composition.
type Identity = scheduletracker.Identity

// Node is one cluster-nodes RPC result entry this package cares about.
type Node struct {
	Pubkey  Identity
	TPUQUIC string // "" if the node does not publish a tpu_quic endpoint
}

// Fetcher is the upstream RPC surface the registry depends on.
type Fetcher interface {
	GetClusterNodes(ctx context.Context) ([]Node, error)
}

// Registry holds the current Identity -> Socket snapshot. Writers replace
// the whole map atomically so readers never observe a partial merge.
type Registry struct {
	snapshot atomic.Pointer[map[Identity]string]

	mu       sync.Mutex // serializes refreshes
	fetcher  Fetcher
	log      *slog.Logger
}

// New constructs an empty Registry. Call Refresh (directly or via Run) to
// populate it.
func New(fetcher Fetcher, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{fetcher: fetcher, log: log}
	empty := map[Identity]string{}
	r.snapshot.Store(&empty)
	return r
}

// Lookup returns the socket currently known for identity, or ok=false if
// unresolved. Absence is not an error (spec.md §4.3): callers treat it as
// "unknown leader".
func (r *Registry) Lookup(identity Identity) (socket string, ok bool) {
	m := *r.snapshot.Load()
	socket, ok = m[identity]
	return socket, ok
}

// Size returns the number of identities currently resolved to a socket.
func (r *Registry) Size() int {
	return len(*r.snapshot.Load())
}

// Refresh queries the cluster-nodes RPC in isolation and atomically
// replaces the published snapshot. A refresh failure is a BackgroundFault:
// it is logged and the previous snapshot keeps serving.
func (r *Registry) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	nodes, err := r.fetcher.GetClusterNodes(ctx)
	if err != nil {
		r.log.Warn("socket registry refresh failed, serving last-known-good", "error", err)
		return err
	}

	fresh := make(map[Identity]string, len(nodes))
	for _, n := range nodes {
		if n.TPUQUIC == "" {
			continue
		}
		fresh[n.Pubkey] = n.TPUQUIC
	}
	r.snapshot.Store(&fresh)
	r.log.Debug("socket registry refreshed", "resolved", len(fresh))
	return nil
}

// Run refreshes the registry once immediately and then every interval
// until ctx is cancelled. It never returns on a refresh error: it logs and
// keeps looping, per spec.md §7's BackgroundFault policy.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		}
	}
}
