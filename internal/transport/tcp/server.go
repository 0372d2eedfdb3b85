// Package tcp serves the line protocol over raw TCP connections.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/session"
)

// Transport labels sessions served by this package.
const Transport = "tcp"

// Server accepts TCP connections and hands each to the dispatcher on its
// own goroutine.
type Server struct {
	disp *session.Dispatcher
	opts Options
	log  *zerolog.Logger

	mu   sync.Mutex
	addr net.Addr
	wg   sync.WaitGroup
}

// NewServer creates a TCP server for disp.
func NewServer(disp *session.Dispatcher, opts Options, logger *zerolog.Logger) *Server {
	return &Server{disp: disp, opts: opts.withDefaults(), log: logger}
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections from ln until ctx is cancelled or ln fails.
// Live sessions are not closed here; the dispatcher owns their shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("tcp server listening")

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Info().Msg("tcp server stopped accepting")
				return nil
			}
			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(backoff*2, time.Second)
			}
			s.log.Error().Err(err).Dur("retry_in", backoff).Msg("error accepting connection")
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.disp.Serve(context.WithoutCancel(ctx), newLineConn(conn, s.opts, s.log), Transport)
		}()
	}
}

// Addr returns the listening address once Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Wait blocks until every connection goroutine has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}
