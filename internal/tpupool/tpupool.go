// Package tpupool maintains a pool of QUIC connections to validator TPU
// sockets, keyed by socket address, with 0-RTT resumption and single-flight
// dialing (spec.md §4.5).
package tpupool

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/singleflight"

	"github.com/bifrost-gw/bifrost/internal/bifrosterr"
	"github.com/bifrost-gw/bifrost/internal/metrics"
)

// State is a PoolEntry's lifecycle stage.
type State int

const (
	Pending State = iota
	Open
	Closed
)

// PoolEntry wraps one QUIC connection to a validator's TPU-QUIC socket.
type PoolEntry struct {
	Socket string

	mu    sync.Mutex
	state State
	conn  quic.Connection
}

func (e *PoolEntry) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// OpenUniStream opens a unidirectional stream on the underlying connection
// for a single fire-and-forget transaction write (spec.md §4.7).
func (e *PoolEntry) OpenUniStream(ctx context.Context) (quic.SendStream, error) {
	e.mu.Lock()
	conn := e.conn
	state := e.state
	e.mu.Unlock()

	if state != Open || conn == nil {
		return nil, fmt.Errorf("%w: entry not open", bifrosterr.ErrPeerDialFailed)
	}
	return conn.OpenUniStreamSync(ctx)
}

// Fail marks the entry closed after an observed write/stream failure, so
// the next Get skips it and the next GetOrConnect redials (spec.md §4.5:
// "when observed closed, it is removed from the pool at lookup time").
func (e *PoolEntry) Fail() {
	e.close()
}

func (e *PoolEntry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == Closed {
		return
	}
	if e.conn != nil {
		_ = e.conn.CloseWithError(0, "pool closed")
	}
	e.state = Closed
}

// Config controls dial behavior for every connection the pool opens.
type Config struct {
	ALPN              string
	MaxIdleTimeout    time.Duration
	KeepaliveInterval time.Duration
}

// Pool is a single shared QUIC transport plus a map of sockets to
// connections, with single-flight dialing so concurrent requests for the
// same socket share one dial attempt (spec.md §4.5 step 2).
type Pool struct {
	cfg       Config
	transport *quic.Transport
	tlsConf   *tls.Config

	mu      sync.RWMutex
	entries map[string]*PoolEntry

	dialGroup singleflight.Group
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// New binds a single UDP socket (shared across all outbound connections,
// mirroring the teacher's shared-transport dial pattern) and prepares a
// self-signed client certificate, since the TPU-QUIC handshake does not
// validate client identity. m may be nil, in which case no metrics are
// recorded.
func New(cfg Config, m *metrics.Metrics, log *slog.Logger) (*Pool, error) {
	if log == nil {
		log = slog.Default()
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("%w: listen udp: %v", bifrosterr.ErrInit, err)
	}

	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("%w: generate client cert: %v", bifrosterr.ErrInit, err)
	}

	return &Pool{
		cfg:       cfg,
		transport: &quic.Transport{Conn: udpConn},
		tlsConf: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{cfg.ALPN},
			Certificates:       []tls.Certificate{cert},
			ClientSessionCache: tls.NewLRUClientSessionCache(0),
		},
		entries: make(map[string]*PoolEntry),
		metrics: m,
		log:     log,
	}, nil
}

// Get returns the existing open entry for socket, if any, without dialing.
// Ingress fanout (spec.md §4.7) uses this: a cold socket is skipped rather
// than blocking the request.
func (p *Pool) Get(socket string) (*PoolEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.entries[socket]
	if !ok || e.State() != Open {
		return nil, false
	}
	return e, true
}

// GetOrConnect returns the open entry for socket, dialing it if absent.
// Concurrent callers for the same socket share a single dial via
// singleflight.
func (p *Pool) GetOrConnect(ctx context.Context, socket string) (*PoolEntry, error) {
	if e, ok := p.Get(socket); ok {
		return e, nil
	}

	v, err, _ := p.dialGroup.Do(socket, func() (interface{}, error) {
		if e, ok := p.Get(socket); ok {
			return e, nil
		}
		return p.dial(ctx, socket)
	})
	if err != nil {
		return nil, err
	}
	return v.(*PoolEntry), nil
}

func (p *Pool) dial(ctx context.Context, socket string) (*PoolEntry, error) {
	addr, err := net.ResolveUDPAddr("udp", socket)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve %s: %v", bifrosterr.ErrPeerDialFailed, socket, err)
	}

	quicConf := &quic.Config{
		MaxIdleTimeout:  p.cfg.MaxIdleTimeout,
		KeepAlivePeriod: p.cfg.KeepaliveInterval,
	}

	// DialEarly attempts 0-RTT whenever quic-go holds cached session
	// tickets for this remote, falling back to a normal handshake
	// transparently otherwise (spec.md §4.5 step 3).
	conn, err := p.transport.DialEarly(ctx, addr, p.tlsConf, quicConf)
	if err != nil {
		p.log.Warn("tpu pool: dial failed", "socket", socket, "error", err)
		p.recordDial("failed")
		return nil, fmt.Errorf("%w: %s: %v", bifrosterr.ErrPeerDialFailed, socket, err)
	}

	entry := &PoolEntry{Socket: socket, state: Open, conn: conn}

	p.mu.Lock()
	if old, exists := p.entries[socket]; exists {
		old.close()
	}
	p.entries[socket] = entry
	openCount := len(p.entries)
	p.mu.Unlock()

	p.recordDial("ok")
	if p.metrics != nil {
		p.metrics.PoolOpenConnections.Set(float64(openCount))
	}

	p.log.Debug("tpu pool: connected", "socket", socket)
	return entry, nil
}

func (p *Pool) recordDial(outcome string) {
	if p.metrics != nil {
		p.metrics.PoolDialsTotal.WithLabelValues(outcome).Inc()
	}
}

// CloseAll tears down every pooled connection and the shared transport.
// Called once, on graceful shutdown.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	entries := make([]*PoolEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.entries = make(map[string]*PoolEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
	_ = p.transport.Close()

	if p.metrics != nil {
		p.metrics.PoolOpenConnections.Set(0)
	}
}

func selfSignedCert() (tls.Certificate, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  priv,
	}, nil
}
