package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/transport"
)

// ErrLineTooLong is returned by ReadLine when a client exceeds the line limit.
var ErrLineTooLong = errors.New("line too long")

// Options tune a line connection.
type Options struct {
	MaxLineBytes  int
	OutboundQueue int
	WriteTimeout  time.Duration
	// IdleTimeout closes a connection that sends nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
}

func (o Options) withDefaults() Options {
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

// lineConn adapts a net.Conn to session.Conn.
type lineConn struct {
	conn   net.Conn
	reader *bufio.Reader
	opts   Options
	outbox *transport.Outbox

	closeOnce sync.Once
	closeErr  error
}

func newLineConn(conn net.Conn, opts Options, logger *zerolog.Logger) *lineConn {
	opts = opts.withDefaults()
	c := &lineConn{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, min(opts.MaxLineBytes, 64*1024)),
		opts:   opts,
	}
	c.outbox = transport.NewOutbox(opts.OutboundQueue, c.write, func(err error) {
		logger.Debug().Err(err).Str("remote", c.RemoteAddr()).Msg("write failed")
		// Unblocks the reader so the session unwinds.
		_ = conn.Close()
	})
	return c
}

func (c *lineConn) write(payload string) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	_, err := io.WriteString(c.conn, payload)
	return err
}

func (c *lineConn) Send(msg core.Message) error {
	return c.outbox.Send(msg)
}

// ReadLine returns the next line without its terminator. EOF and a closed
// connection are reported as io.EOF.
func (c *lineConn) ReadLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.opts.IdleTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
	}

	var buf []byte
	for {
		frag, err := c.reader.ReadSlice('\n')
		buf = append(buf, frag...)
		if len(buf) > c.opts.MaxLineBytes+2 {
			return "", ErrLineTooLong
		}
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return "", io.EOF
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", fmt.Errorf("idle timeout: %w", err)
		}
		return "", err
	}
	return strings.TrimRight(string(buf), "\r\n"), nil
}

// Close flushes queued output, bounded by the write timeout, and closes the
// socket. It is safe to call more than once.
func (c *lineConn) Close() error {
	c.closeOnce.Do(func() {
		c.outbox.Close(c.opts.WriteTimeout)
		err := c.conn.Close()
		if err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *lineConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
