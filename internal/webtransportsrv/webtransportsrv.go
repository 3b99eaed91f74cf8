// Package webtransportsrv binds the gateway's WebTransport listener and
// dispatches each session's bidirectional streams to the fanout handler
// (spec.md §4.7).
package webtransportsrv

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/bifrost-gw/bifrost/internal/ingress"
)

// Config controls the WebTransport listener.
type Config struct {
	ListenAddr         string
	CertPath, KeyPath  string
	MaxTransactionSize int
	Path               string // HTTP path the WebTransport endpoint is served on, e.g. "/tx"
}

// Server accepts WebTransport sessions and fans each incoming stream's
// payload out through ingress.Fanout.
type Server struct {
	cfg    Config
	fanout *ingress.Fanout
	wt     *webtransport.Server
	log    *slog.Logger
}

// New builds a Server bound to cfg.ListenAddr, serving cfg.Path.
func New(cfg Config, fanout *ingress.Fanout, log *slog.Logger) (*Server, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/tx"
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	s := &Server{cfg: cfg, fanout: fanout, log: log}

	s.wt = &webtransport.Server{
		H3: http3.Server{
			Addr:      cfg.ListenAddr,
			TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			Handler:   mux,
		},
		// Bifrost's clients are validator-adjacent services and CLI
		// tooling, not browsers, so they never send an Origin header.
		// The library's default same-origin check is a browser-CORS
		// concern that doesn't apply here.
		CheckOrigin: func(*http.Request) bool { return true },
	}

	mux.HandleFunc(cfg.Path, s.handleSession)

	return s, nil
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("webtransport server listening", "addr", s.cfg.ListenAddr, "path", s.cfg.Path)
		errCh <- s.wt.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		_ = s.wt.Close()
		return nil
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.wt.Upgrade(w, r)
	if err != nil {
		s.log.Warn("webtransport: session upgrade failed", "error", err)
		http.Error(w, "upgrade failed", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	s.log.Debug("webtransport: session accepted", "session_id", sessionID, "remote", r.RemoteAddr)
	go s.runSession(sessionID, session)
}

// runSession accepts bidirectional streams in a loop until the session
// closes or stream acceptance errors (spec.md §4.7). Each stream carries
// one transaction and is handled in its own goroutine, which replies with
// that transaction's status line. sessionID ties every log line
// for this session together, since a session can carry many concurrent
// streams.
func (s *Server) runSession(sessionID string, session *webtransport.Session) {
	ctx := session.Context()
	for {
		stream, err := session.AcceptStream(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				s.log.Debug("webtransport: session ended", "session_id", sessionID, "error", err)
			}
			return
		}
		go s.handleStream(ctx, sessionID, stream)
	}
}

func (s *Server) handleStream(ctx context.Context, sessionID string, stream *webtransport.Stream) {
	defer stream.Close()

	blob, err := s.fanout.ReadTransaction(stream, s.cfg.MaxTransactionSize)
	if err != nil {
		s.log.Warn("webtransport: stream read failed", "session_id", sessionID, "error", err)
		_, _ = stream.Write([]byte("ERROR: " + err.Error() + "\n"))
		return
	}

	result := s.fanout.Send(ctx, blob)
	line := result.StatusLine() + "\n"
	if _, err := stream.Write([]byte(line)); err != nil {
		s.log.Debug("webtransport: status write failed", "session_id", sessionID, "error", err)
	}
}
