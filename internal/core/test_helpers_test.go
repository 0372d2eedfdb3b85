package core

import (
	"context"
	"errors"
	"sync"
)

// recorder is a Sender that keeps every message it accepts.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
	fail bool
}

func (r *recorder) Send(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return ErrSendFailed
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recorder) setFail(v bool) {
	r.mu.Lock()
	r.fail = v
	r.mu.Unlock()
}

func (r *recorder) messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) ofKind(kind Kind) []Message {
	var out []Message
	for _, m := range r.messages() {
		if m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type memHistory struct {
	mu      sync.Mutex
	entries map[string][]Entry
	failing bool
}

func newMemHistory() *memHistory {
	return &memHistory{entries: make(map[string][]Entry)}
}

func (m *memHistory) AppendEntry(_ context.Context, room string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errors.New("disk full")
	}
	m.entries[room] = append(m.entries[room], e)
	return nil
}

func (m *memHistory) LoadEntries(_ context.Context, room string, limit int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.entries[room]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]Entry(nil), all...), nil
}
