// Package prewarmer keeps connections to upcoming leaders open before a
// transaction needs them, mirroring the teacher's pool maintainer loop
// (spec.md §4.6).
package prewarmer

import (
	"context"
	"log/slog"
	"time"

	"github.com/bifrost-gw/bifrost/internal/leadertracker"
	"github.com/bifrost-gw/bifrost/internal/tpupool"
)

// Config controls how far ahead and how often the prewarmer looks.
type Config struct {
	Count    int
	Interval time.Duration
}

// Dialer is the subset of *tpupool.Pool the prewarmer needs. Declaring it
// here (rather than depending on the concrete pool type) lets tests supply
// a fake instead of standing up real QUIC sockets.
type Dialer interface {
	GetOrConnect(ctx context.Context, socket string) (*tpupool.PoolEntry, error)
}

// LeaderSource is the subset of *leadertracker.Tracker the prewarmer needs.
type LeaderSource interface {
	GetFutureLeaders(start, end int) []leadertracker.Leader
}

// Prewarmer periodically dials the next Count upcoming leaders so the pool
// has a warm connection ready by the time a transaction needs one.
type Prewarmer struct {
	cfg     Config
	leaders LeaderSource
	pool    Dialer
	log     *slog.Logger
}

// New wires a Prewarmer to its leader source and connection pool.
func New(cfg Config, leaders LeaderSource, pool Dialer, log *slog.Logger) *Prewarmer {
	if log == nil {
		log = slog.Default()
	}
	return &Prewarmer{cfg: cfg, leaders: leaders, pool: pool, log: log}
}

// Run ticks every Interval until ctx is cancelled, firing a fan-out of
// fire-and-forget dial attempts for each upcoming leader. It never blocks
// the tick loop on a slow or failing dial.
func (p *Prewarmer) Run(ctx context.Context) {
	p.tick(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Prewarmer) tick(ctx context.Context) {
	upcoming := p.leaders.GetFutureLeaders(0, p.cfg.Count)
	for _, leader := range upcoming {
		leader := leader
		go func() {
			dialCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			if _, err := p.pool.GetOrConnect(dialCtx, leader.Socket); err != nil {
				p.log.Debug("prewarmer: dial failed", "identity", leader.Identity, "socket", leader.Socket, "error", err)
			}
		}()
	}
}
