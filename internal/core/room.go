package core

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/proto"
)

// DefaultHistoryCap bounds stored room history when no cap is configured.
const DefaultHistoryCap = 1000

const persistTimeout = 2 * time.Second

// HistoryStore persists room history on a best-effort basis.
type HistoryStore interface {
	AppendEntry(ctx context.Context, room string, e Entry) error
	LoadEntries(ctx context.Context, room string, limit int) ([]Entry, error)
}

// Welcome is returned to a member joining a room.
type Welcome struct {
	RoomID  string
	History []Entry
}

// BroadcastResult reports the outcome of a fan-out.
type BroadcastResult struct {
	Delivered int
	// Dropped lists members removed because delivery to them failed.
	Dropped []string
}

type member struct {
	name   string
	handle Sender
}

// Room groups members that receive each other's messages.
type Room struct {
	id          string
	historyCap  int
	replayLimit int
	store       HistoryStore
	log         *zerolog.Logger

	// order is taken before mu and held through delivery and persistence,
	// so both follow history order.
	order   sync.Mutex
	mu      sync.Mutex
	members map[string]Sender
	history []Entry
}

func newRoom(id string, historyCap, replayLimit int, st HistoryStore, logger *zerolog.Logger) *Room {
	if historyCap <= 0 {
		historyCap = DefaultHistoryCap
	}
	if replayLimit <= 0 || replayLimit > historyCap {
		replayLimit = historyCap
	}
	return &Room{
		id:          id,
		historyCap:  historyCap,
		replayLimit: replayLimit,
		store:       st,
		log:         logger,
		members:     make(map[string]Sender),
	}
}

// ID returns the room id.
func (r *Room) ID() string {
	return r.id
}

// Join adds name to the room, replacing any handle stored for the same name,
// and returns the history to replay. Joins are not announced.
func (r *Room) Join(name string, handle Sender) Welcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.members[name] = handle
	return Welcome{RoomID: r.id, History: r.tail(r.replayLimit)}
}

// Leave removes name if it is still bound to handle. It reports whether a
// member was removed.
func (r *Room) Leave(name string, handle Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(name, handle)
}

func (r *Room) removeLocked(name string, handle Sender) bool {
	current, ok := r.members[name]
	if !ok || current != handle {
		return false
	}
	delete(r.members, name)
	return true
}

// Broadcast records text from sender and delivers it to every other member.
// Blank text is ignored. Members whose delivery fails are removed from the room.
func (r *Room) Broadcast(sender, text string) BroadcastResult {
	if strings.TrimSpace(text) == "" {
		return BroadcastResult{}
	}

	r.order.Lock()
	defer r.order.Unlock()

	entry := Entry{From: sender, Text: text, At: time.Now()}

	r.mu.Lock()
	r.history = append(r.history, entry)
	if over := len(r.history) - r.historyCap; over > 0 {
		r.history = append(r.history[:0], r.history[over:]...)
	}
	targets := r.snapshotLocked(sender)
	r.mu.Unlock()

	res := r.deliver(targets, Chat(r.id, sender, text))
	r.persist(entry)
	return res
}

// Announce sends a system line to every member except the named one. The
// line is not recorded in history.
func (r *Room) Announce(text, except string) BroadcastResult {
	r.mu.Lock()
	targets := r.snapshotLocked(except)
	r.mu.Unlock()

	return r.deliver(targets, System(proto.RoomTag(r.id), text))
}

func (r *Room) snapshotLocked(except string) []member {
	targets := make([]member, 0, len(r.members))
	for name, h := range r.members {
		if name == except {
			continue
		}
		targets = append(targets, member{name: name, handle: h})
	}
	return targets
}

func (r *Room) deliver(targets []member, msg Message) BroadcastResult {
	var res BroadcastResult
	var failed []member
	for _, m := range targets {
		if err := m.handle.Send(msg); err != nil {
			failed = append(failed, m)
			continue
		}
		res.Delivered++
	}
	if len(failed) == 0 {
		return res
	}

	r.mu.Lock()
	for _, m := range failed {
		if r.removeLocked(m.name, m.handle) {
			res.Dropped = append(res.Dropped, m.name)
		}
	}
	r.mu.Unlock()

	if r.log != nil {
		r.log.Warn().Str("room", r.id).Strs("dropped", res.Dropped).Msg("room delivery failed")
	}
	return res
}

func (r *Room) persist(e Entry) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := r.store.AppendEntry(ctx, r.id, e); err != nil && r.log != nil {
		r.log.Warn().Err(err).Str("room", r.id).Msg("failed to persist room message")
	}
}

// Members returns the sorted names of current members.
func (r *Room) Members() []string {
	r.mu.Lock()
	names := make([]string, 0, len(r.members))
	for name := range r.members {
		names = append(names, name)
	}
	r.mu.Unlock()
	sortNames(names)
	return names
}

// Has reports whether name is a member.
func (r *Room) Has(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.members[name]
	return ok
}

// IsMember reports whether name is a member bound to handle.
func (r *Room) IsMember(name string, handle Sender) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.members[name]
	return ok && current == handle
}

// HistoryLen returns the number of stored entries.
func (r *Room) HistoryLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}

// History returns up to limit most recent entries, oldest first. A
// non-positive limit returns everything stored.
func (r *Room) History(limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = len(r.history)
	}
	return r.tail(limit)
}

func (r *Room) tail(n int) []Entry {
	start := len(r.history) - n
	if start < 0 {
		start = 0
	}
	out := make([]Entry, len(r.history)-start)
	copy(out, r.history[start:])
	return out
}

func (r *Room) load(ctx context.Context) {
	if r.store == nil {
		return
	}
	entries, err := r.store.LoadEntries(ctx, r.id, r.historyCap)
	if err != nil {
		if r.log != nil {
			r.log.Warn().Err(err).Str("room", r.id).Msg("failed to load room history")
		}
		return
	}
	r.mu.Lock()
	r.history = append(r.history[:0], entries...)
	r.mu.Unlock()
}
