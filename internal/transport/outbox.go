// Package transport holds pieces shared by the TCP and WebSocket transports.
package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vovakirdan/linechat-server/internal/core"
)

// DefaultQueueSize bounds an outbox when no size is configured.
const DefaultQueueSize = 64

// Outbox is a bounded queue of encoded messages drained by a single writer
// goroutine. Send never blocks: a full queue is a delivery failure.
type Outbox struct {
	write  func(payload string) error
	onFail func(error)

	mu     sync.Mutex
	ch     chan string
	closed bool
	broken atomic.Bool
	done   chan struct{}
}

// NewOutbox starts the writer. write is called for every queued payload in
// order; after the first write error the outbox stops writing and onFail
// runs once.
func NewOutbox(size int, write func(payload string) error, onFail func(error)) *Outbox {
	if size <= 0 {
		size = DefaultQueueSize
	}
	o := &Outbox{
		write:  write,
		onFail: onFail,
		ch:     make(chan string, size),
		done:   make(chan struct{}),
	}
	go o.run()
	return o
}

func (o *Outbox) run() {
	defer close(o.done)
	for payload := range o.ch {
		if o.broken.Load() {
			continue
		}
		if err := o.write(payload); err != nil {
			o.broken.Store(true)
			if o.onFail != nil {
				o.onFail(err)
			}
		}
	}
}

// Send encodes msg and queues it.
func (o *Outbox) Send(msg core.Message) error {
	payload := msg.Encode()
	if payload == "" {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return core.ErrConnClosed
	}
	if o.broken.Load() {
		return core.ErrSendFailed
	}
	select {
	case o.ch <- payload:
		return nil
	default:
		return fmt.Errorf("%w: outbound queue full", core.ErrSendFailed)
	}
}

// Close stops accepting messages and waits up to timeout for the queue to
// drain. It reports whether the writer finished in time. Later calls only
// wait.
func (o *Outbox) Close(timeout time.Duration) bool {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.ch)
	}
	o.mu.Unlock()

	select {
	case <-o.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Broken reports whether a write has failed.
func (o *Outbox) Broken() bool {
	return o.broken.Load()
}
