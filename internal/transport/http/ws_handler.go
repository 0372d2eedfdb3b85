package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/proto"
	"github.com/vovakirdan/linechat-server/internal/session"
	"github.com/vovakirdan/linechat-server/internal/transport"
)

// Transport labels sessions served over WebSocket.
const Transport = "ws"

// WSOptions tune WebSocket connections.
type WSOptions struct {
	MaxLineBytes  int
	OutboundQueue int
	WriteTimeout  time.Duration
	// LinesPerMinute limits inbound lines per connection. Zero disables it.
	LinesPerMinute int
}

func (o WSOptions) withDefaults() WSOptions {
	if o.MaxLineBytes <= 0 {
		o.MaxLineBytes = 4096
	}
	if o.OutboundQueue <= 0 {
		o.OutboundQueue = transport.DefaultQueueSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

// WSHandler upgrades HTTP connections and runs a chat session over them.
// Each text frame carries one line in either direction.
type WSHandler struct {
	disp *session.Dispatcher
	opts WSOptions
	log  *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(disp *session.Dispatcher, opts WSOptions, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{disp: disp, opts: opts.withDefaults(), log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	// Room for the line plus a terminator.
	conn.SetReadLimit(int64(h.opts.MaxLineBytes) + 2)

	wc := newWSConn(conn, r.RemoteAddr, h.opts, h.log)
	h.disp.Serve(context.WithoutCancel(r.Context()), wc, Transport)
}

type wsConn struct {
	conn    *websocket.Conn
	remote  string
	opts    WSOptions
	outbox  *transport.Outbox
	limiter *rateLimiter
	log     *zerolog.Logger

	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, remote string, opts WSOptions, logger *zerolog.Logger) *wsConn {
	c := &wsConn{
		conn:    conn,
		remote:  remote,
		opts:    opts,
		limiter: newRateLimiter(opts.LinesPerMinute),
		log:     logger,
	}
	c.outbox = transport.NewOutbox(opts.OutboundQueue, c.write, func(err error) {
		logger.Debug().Err(err).Str("remote", remote).Msg("ws write failed")
		_ = conn.CloseNow()
	})
	return c
}

// write sends every line of payload as its own text frame.
func (c *wsConn) write(payload string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	defer cancel()
	for _, line := range strings.Split(strings.TrimSuffix(payload, "\n"), "\n") {
		if err := c.conn.Write(ctx, websocket.MessageText, []byte(line)); err != nil {
			return err
		}
	}
	return nil
}

func (c *wsConn) Send(msg core.Message) error {
	return c.outbox.Send(msg)
}

func (c *wsConn) ReadLine(ctx context.Context) (string, error) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if isWSClosed(err) {
				return "", io.EOF
			}
			return "", err
		}
		if !c.limiter.allow() {
			_ = c.Send(core.Error(proto.TagServer, "You are sending messages too fast. Slow down."))
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func isWSClosed(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) || errors.Is(err, stdhttp.ErrServerClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "failed to get reader")
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.outbox.Close(c.opts.WriteTimeout)
		if err := c.conn.Close(websocket.StatusNormalClosure, "bye"); err != nil {
			c.log.Debug().Err(err).Str("remote", c.remote).Msg("ws close")
		}
	})
	return nil
}

func (c *wsConn) RemoteAddr() string {
	return c.remote
}
