package session

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/proto"
	"github.com/vovakirdan/linechat-server/internal/utils"
)

// Dispatcher runs sessions for accepted connections, contains their
// failures and tracks them for shutdown.
type Dispatcher struct {
	deps *Deps
	log  *zerolog.Logger

	mu      sync.Mutex
	live    map[string]*Session
	closing bool
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher over deps.
func NewDispatcher(deps Deps) *Dispatcher {
	d := deps.withDefaults()
	return &Dispatcher{
		deps: d,
		log:  d.Log,
		live: make(map[string]*Session),
	}
}

// Deps returns the shared components sessions operate on.
func (d *Dispatcher) Deps() *Deps {
	return d.deps
}

// Serve runs a session on conn and blocks until it has ended and cleaned up.
// A panic inside the session is logged and turned into a normal cleanup.
func (d *Dispatcher) Serve(ctx context.Context, conn Conn, transport string) {
	s := New(utils.NewID(), conn, d.deps)

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		_ = conn.Send(core.System(proto.TagServer, "Server is shutting down."))
		_ = conn.Close()
		return
	}
	d.live[s.ID()] = s
	d.wg.Add(1)
	d.mu.Unlock()

	started := time.Now()
	d.deps.Observer.SessionStart(transport)
	d.log.Info().Str("conn_id", utils.ShortID(s.ID())).Str("remote", conn.RemoteAddr()).Str("transport", transport).Msg("new connection")

	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Str("conn_id", utils.ShortID(s.ID())).
				Str("user", s.Name()).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("session panicked")
		}
		s.Cleanup()
		d.deps.Observer.SessionDone(transport, started)

		d.mu.Lock()
		delete(d.live, s.ID())
		d.mu.Unlock()
		d.wg.Done()
	}()

	if err := s.Run(ctx); err != nil {
		d.log.Warn().Err(err).Str("conn_id", utils.ShortID(s.ID())).Str("user", s.Name()).Msg("session ended with error")
	}
}

// Live returns the number of running sessions.
func (d *Dispatcher) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live)
}

// Shutdown refuses new sessions, tells every live client the server is
// going away and closes its connection. It then waits for the sessions to
// finish cleanup or for ctx to expire.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	sessions := make([]*Session, 0, len(d.live))
	for _, s := range d.live {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	d.log.Info().Int("sessions", len(sessions)).Msg("closing client connections")
	var closing sync.WaitGroup
	for _, s := range sessions {
		s := s
		closing.Add(1)
		go func() {
			defer closing.Done()
			_ = s.conn.Send(core.System(proto.TagServer, "Server is shutting down."))
			_ = s.conn.Close()
		}()
	}

	closed := make(chan struct{})
	go func() {
		closing.Wait()
		close(closed)
	}()
	select {
	case <-closed:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.Wait(ctx)
}

// Wait blocks until every session has finished or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
