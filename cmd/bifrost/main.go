// Command bifrost runs the TPU transaction-forwarding gateway: it accepts
// signed transactions over WebTransport and fans each one out to the
// current and upcoming slot leaders' TPU-QUIC sockets (spec.md §1).
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bifrost-gw/bifrost/internal/adminserver"
	"github.com/bifrost-gw/bifrost/internal/circuitbreaker"
	"github.com/bifrost-gw/bifrost/internal/config"
	"github.com/bifrost-gw/bifrost/internal/ingress"
	"github.com/bifrost-gw/bifrost/internal/leadertracker"
	"github.com/bifrost-gw/bifrost/internal/metrics"
	"github.com/bifrost-gw/bifrost/internal/prewarmer"
	"github.com/bifrost-gw/bifrost/internal/scheduletracker"
	"github.com/bifrost-gw/bifrost/internal/slottracker"
	"github.com/bifrost-gw/bifrost/internal/socketregistry"
	"github.com/bifrost-gw/bifrost/internal/solanarpc"
	"github.com/bifrost-gw/bifrost/internal/tpupool"
	"github.com/bifrost-gw/bifrost/internal/webtransportsrv"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file (optional)")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("startup: invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("bifrost exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("bifrost shut down cleanly")
}

func run(parent context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	rpcClient := solanarpc.NewClient(cfg.RPC.URL, 10*time.Second)
	breakers := circuitbreaker.NewRPCCircuitBreakers()

	log.Info("bifrost starting", "rpc_url", cfg.RPC.URL, "listen_addr", cfg.Server.ListenAddr)

	schedule, err := scheduletracker.New(ctx, rpcClient, log)
	if err != nil {
		return err
	}

	sockets := socketregistry.New(rpcClient, log)
	if err := sockets.Refresh(ctx); err != nil {
		log.Warn("startup: initial socket registry refresh failed, starting empty", "error", err)
	}

	slots := slottracker.New()

	leaders := leadertracker.New(slots, schedule, sockets, log)

	pool, err := tpupool.New(tpupool.Config{
		ALPN:              cfg.TPU.ALPN,
		MaxIdleTimeout:    cfg.TPU.MaxIdleTimeout,
		KeepaliveInterval: cfg.TPU.KeepaliveInterval,
	}, m, log)
	if err != nil {
		return err
	}
	defer pool.CloseAll()

	warmer := prewarmer.New(prewarmer.Config{
		Count:    cfg.Prewarm.Count,
		Interval: cfg.Prewarm.Interval,
	}, leaders, pool, log)

	subscriber := solanarpc.NewSlotSubscriber(cfg.RPC.WSURL, slots, breakers.SlotSubscriber, m, log)

	fanout := ingress.New(leaders, pool, m, log)

	wtSrv, err := webtransportsrv.New(webtransportsrv.Config{
		ListenAddr:         cfg.Server.ListenAddr,
		CertPath:           cfg.Server.CertPath,
		KeyPath:            cfg.Server.KeyPath,
		MaxTransactionSize: cfg.Server.MaxTransactionSize,
	}, fanout, log)
	if err != nil {
		return err
	}

	status := &gatewayStatus{slots: slots, schedule: schedule, sockets: sockets}
	admin := adminserver.New(cfg.Admin.ListenAddr, reg, status, log)

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	runTask := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				log.Error("component stopped with error", "component", name, "error", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}()
	}

	runTask("webtransport-server", wtSrv.Run)
	runTask("admin-server", admin.Run)

	wg.Add(2)
	go func() { defer wg.Done(); warmer.Run(ctx) }()
	go func() { defer wg.Done(); subscriber.Run(ctx) }()

	go runScheduleRotation(ctx, slots, schedule, rpcClient, m, log)
	go runSocketRefresh(ctx, sockets, cfg.RPC.SocketRefreshInterval, m, log)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		cancel() // stop every other component so we don't wait on them indefinitely
		wg.Wait()
		return err
	}

	wg.Wait()
	return nil
}

// runScheduleRotation polls the current slot and lets ScheduleTracker
// rotate at the epoch boundary (spec.md §4.2). Rotation failures leave the
// stale next_map in place and are retried on the next tick.
func runScheduleRotation(ctx context.Context, slots *slottracker.Tracker, schedule *scheduletracker.Tracker, rpc *solanarpc.Client, m *metrics.Metrics, log *slog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := slots.CurrentSlot()
			if current == 0 {
				continue
			}
			rotated, err := schedule.MaybeRotate(ctx, current, rpc)
			if err != nil {
				log.Warn("schedule rotation check failed, retaining stale schedule", "error", err)
				m.ScheduleRotationErrors.Inc()
				continue
			}
			if rotated {
				log.Info("schedule rotated to next epoch", "current_slot", current)
				m.ScheduleRotations.Inc()
			}
		}
	}
}

// runSocketRefresh mirrors socketregistry.Registry.Run's refresh-once-then-
// tick loop, but drives it here (rather than calling Run directly) so each
// outcome can be recorded against the shared metrics registry.
func runSocketRefresh(ctx context.Context, sockets *socketregistry.Registry, interval time.Duration, m *metrics.Metrics, log *slog.Logger) {
	if interval <= 0 {
		interval = 60 * time.Second
	}

	refresh := func() {
		outcome := "ok"
		if err := sockets.Refresh(ctx); err != nil {
			outcome = "error"
		}
		m.SocketRegistryRefreshes.WithLabelValues(outcome).Inc()
		m.SocketRegistrySize.Set(float64(sockets.Size()))
	}

	refresh()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug("socket registry refresh loop stopped")
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// gatewayStatus implements adminserver.StatusProvider over the live
// trackers, for operator visibility via GET /status.
type gatewayStatus struct {
	slots    *slottracker.Tracker
	schedule *scheduletracker.Tracker
	sockets  *socketregistry.Registry
}

func (g *gatewayStatus) Status() map[string]interface{} {
	currStart, nextStart := g.schedule.Bounds()
	return map[string]interface{}{
		"current_slot":     g.slots.CurrentSlot(),
		"epoch_curr_start": currStart,
		"epoch_next_start": nextStart,
		"known_sockets":    g.sockets.Size(),
	}
}
