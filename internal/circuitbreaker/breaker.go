// Package circuitbreaker implements the circuit breaker pattern for gateway
// resilience against upstream Solana RPC failures.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // tripped, requests blocked
	StateHalfOpen              // probing whether the upstream recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one breaker's trip/reset behavior.
type Config struct {
	Name string

	// MaxRequests caps how many probe requests are admitted while
	// half-open; that many consecutive successes close the breaker again.
	MaxRequests uint32

	// Interval is how often Counts resets while closed (0 disables the
	// periodic reset, so Counts accumulate until the next state change).
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing again.
	Timeout time.Duration

	// ReadyToTrip decides, from a snapshot of Counts taken after a closed-
	// state failure, whether to trip to open.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange is notified of every transition, if set.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig trips on a >50% failure rate once at least 5 requests have
// been observed in the current window.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.Requests >= 5 && counts.FailureRatio() > 0.5
		},
		OnStateChange: func(name string, from State, to State) {
			log.Printf("[CircuitBreaker:%s] State change: %s -> %s", name, from, to)
		},
	}
}

// Counts tallies requests within the breaker's current window.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

func (c *Counts) reset() {
	*c = Counts{}
}

func (c *Counts) record(success bool) {
	if success {
		c.TotalSuccesses++
		c.ConsecutiveSuccesses++
		c.ConsecutiveFailures = 0
		return
	}
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker gates calls to a single upstream, tripping open after
// ReadyToTrip fires and probing again in half-open state after Timeout.
type CircuitBreaker struct {
	cfg *Config

	mu       sync.Mutex
	state    State
	epoch    uint64 // bumped on every window reset/state change; guards stale results
	counts   Counts
	deadline time.Time // window-closed: next periodic reset; open: next half-open probe
}

// New constructs a breaker, defaulting to DefaultConfig("default") if cfg
// is nil.
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State reports the current state, advancing the window first if its
// deadline has passed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.advance(time.Now())
	return state
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Execute runs req if the breaker currently allows it, recording the
// outcome against the window the call was admitted into.
func (cb *CircuitBreaker) Execute(req func() (interface{}, error)) (interface{}, error) {
	epoch, err := cb.admit()
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()
	result, err := req()
	cb.settle(epoch, err == nil)
	return result, err
}

// ExecuteContext is Execute for a context-aware request function.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, req func(context.Context) (interface{}, error)) (interface{}, error) {
	epoch, err := cb.admit()
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			cb.settle(epoch, false)
			panic(r)
		}
	}()
	result, err := req(ctx)
	cb.settle(epoch, err == nil)
	return result, err
}

// Allow reports whether a request would currently be admitted, without
// running or recording anything.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state, _ := cb.advance(time.Now())
	return cb.admissionError(state)
}

func (cb *CircuitBreaker) admissionError(state State) error {
	if state == StateOpen {
		return ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests {
		return ErrTooManyRequests
	}
	return nil
}

// admit checks the gate and, if open, reserves a request slot by
// incrementing Requests before the caller's work runs.
func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, epoch := cb.advance(time.Now())
	if err := cb.admissionError(state); err != nil {
		return epoch, err
	}
	cb.counts.Requests++
	return epoch, nil
}

// settle records req's outcome, unless the breaker has since moved past
// the epoch it was admitted into (a stale in-flight result).
func (cb *CircuitBreaker) settle(epoch uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	state, current := cb.advance(now)
	if epoch != current {
		return
	}

	switch {
	case state == StateClosed && success:
		cb.counts.record(true)
	case state == StateClosed && !success:
		cb.counts.record(false)
		if cb.cfg.ReadyToTrip(cb.counts) {
			cb.transition(StateOpen, now)
		}
	case state == StateHalfOpen && success:
		cb.counts.record(true)
		if cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.transition(StateClosed, now)
		}
	case state == StateHalfOpen && !success:
		cb.transition(StateOpen, now)
	}
}

// advance rolls the breaker forward to whatever state `now` implies
// (closed window expired -> fresh window; open timeout elapsed ->
// half-open) and returns the resulting state and epoch.
func (cb *CircuitBreaker) advance(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.deadline.IsZero() && cb.deadline.Before(now) {
			cb.newWindow(now)
		}
	case StateOpen:
		if cb.deadline.Before(now) {
			cb.transition(StateHalfOpen, now)
		}
	}
	return cb.state, cb.epoch
}

func (cb *CircuitBreaker) transition(to State, now time.Time) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.newWindow(now)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

func (cb *CircuitBreaker) newWindow(now time.Time) {
	cb.epoch++
	cb.counts.reset()

	var deadline time.Time
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			deadline = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		deadline = now.Add(cb.cfg.Timeout)
	}
	cb.deadline = deadline
}

func (cb *CircuitBreaker) String() string {
	state := cb.State()
	counts := cb.Counts()
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, requests=%d, failures=%d]",
		cb.cfg.Name, state, counts.Requests, counts.TotalFailures)
}

// Manager owns a named set of breakers, handing out a shared instance per
// name and defaulting unconfigured ones to a common Config.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      *Config
}

func NewManager(defaultCfg *Config) *Manager {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig("")
	}
	return &Manager{breakers: make(map[string]*CircuitBreaker), cfg: defaultCfg}
}

// Get returns the named breaker, creating it with the manager's default
// config on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	if cb, ok := m.lookup(name); ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	cfg := *m.cfg
	cfg.Name = name
	cb := New(&cfg)
	m.breakers[name] = cb
	return cb
}

// GetOrCreate returns the named breaker, creating it with cfg (falling
// back to the manager default if cfg is nil) on first use.
func (m *Manager) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	if cb, ok := m.lookup(name); ok {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[name]; ok {
		return cb
	}

	var resolved Config
	if cfg != nil {
		resolved = *cfg
	} else {
		resolved = *m.cfg
	}
	resolved.Name = name
	cb := New(&resolved)
	m.breakers[name] = cb
	return cb
}

func (m *Manager) lookup(name string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[name]
	return cb, ok
}

func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// CircuitBreakerStats is one breaker's state and counts, as reported by
// Manager.Stats.
type CircuitBreakerStats struct {
	Name   string
	State  State
	Counts Counts
}

func (m *Manager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = CircuitBreakerStats{Name: name, State: cb.State(), Counts: cb.Counts()}
	}
	return stats
}

// ExecuteWithFallback runs request through cb, falling back when the
// breaker is open, too many half-open probes are in flight, or request
// itself fails.
func ExecuteWithFallback[T any](cb *CircuitBreaker, request func() (T, error), fallback func(error) (T, error)) (T, error) {
	result, err := cb.Execute(func() (interface{}, error) { return request() })
	if err != nil {
		return fallback(err)
	}
	return result.(T), nil
}

// RPCCircuitBreakers holds one breaker per upstream RPC surface the
// gateway depends on (spec.md §7's BackgroundFault policy).
type RPCCircuitBreakers struct {
	manager *Manager

	EpochInfo      *CircuitBreaker
	LeaderSchedule *CircuitBreaker
	ClusterNodes   *CircuitBreaker
	SlotSubscriber *CircuitBreaker
}

// NewRPCCircuitBreakers builds the gateway's RPC breakers, each tuned to
// how much that surface's failure actually costs.
func NewRPCCircuitBreakers() *RPCCircuitBreakers {
	manager := NewManager(nil)

	// EpochInfo and LeaderSchedule only matter at rotation boundaries;
	// tolerate a handful of failures before tripping.
	epochInfo := &Config{
		Name:        "epoch-info",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	}

	leaderSchedule := &Config{
		Name:        "leader-schedule",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 3 },
	}

	// ClusterNodes feeds the socket registry on a fixed interval; a
	// failure just means stale sockets keep serving, so trip gently.
	clusterNodes := &Config{
		Name:        "cluster-nodes",
		MaxRequests: 2,
		Interval:    120 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.TotalFailures >= 5 },
	}

	// SlotSubscriber reconnects are the gateway's only path to a live
	// current_slot; trip fast so the caller backs off instead of hammering.
	slotSubscriber := &Config{
		Name:        "slot-subscriber",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(c Counts) bool { return c.ConsecutiveFailures >= 2 },
	}

	return &RPCCircuitBreakers{
		manager:        manager,
		EpochInfo:      manager.GetOrCreate("epoch-info", epochInfo),
		LeaderSchedule: manager.GetOrCreate("leader-schedule", leaderSchedule),
		ClusterNodes:   manager.GetOrCreate("cluster-nodes", clusterNodes),
		SlotSubscriber: manager.GetOrCreate("slot-subscriber", slotSubscriber),
	}
}

// HealthStatus summarizes every breaker's state: "HEALTHY" unless at
// least one has tripped open, in which case "DEGRADED".
func (r *RPCCircuitBreakers) HealthStatus() (string, map[string]string) {
	stats := r.manager.Stats()

	statuses := make(map[string]string, len(stats))
	healthy := true
	for name, stat := range stats {
		statuses[name] = stat.State.String()
		if stat.State == StateOpen {
			healthy = false
		}
	}

	if healthy {
		return "HEALTHY", statuses
	}
	return "DEGRADED", statuses
}
