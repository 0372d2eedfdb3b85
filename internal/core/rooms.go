package core

import (
	"cmp"
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// MaxRoomIDLength is the longest room id accepted, in runes.
const MaxRoomIDLength = 32

// RoomsOptions configures the room pool.
type RoomsOptions struct {
	// IDs are created up front and always exist.
	IDs []string
	// AllowCreate enables lazy creation of rooms on first join.
	AllowCreate bool
	HistoryCap  int
	ReplayLimit int
	Store       HistoryStore
	Logger      *zerolog.Logger
}

// Rooms is the registry of rooms. Rooms are never removed.
type Rooms struct {
	opts RoomsOptions

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRooms creates the fixed pool described by opts.
func NewRooms(opts RoomsOptions) *Rooms {
	rs := &Rooms{
		opts:  opts,
		rooms: make(map[string]*Room, len(opts.IDs)),
	}
	for _, id := range opts.IDs {
		if ValidateRoomID(id) != nil {
			continue
		}
		rs.rooms[id] = rs.newRoom(id)
	}
	return rs
}

func (rs *Rooms) newRoom(id string) *Room {
	return newRoom(id, rs.opts.HistoryCap, rs.opts.ReplayLimit, rs.opts.Store, rs.opts.Logger)
}

// Preload restores stored history for every existing room.
func (rs *Rooms) Preload(ctx context.Context) {
	for _, r := range rs.List() {
		r.load(ctx)
	}
}

// ValidateRoomID checks a room id typed by a client.
func ValidateRoomID(id string) error {
	if id == "" || utf8.RuneCountInString(id) > MaxRoomIDLength {
		return coreError(ErrCodeInvalidRoom, "Invalid room number.", ErrInvalidRoom)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return coreError(ErrCodeInvalidRoom, "Invalid room number.", ErrInvalidRoom)
	}
	return nil
}

// Get returns an existing room.
func (rs *Rooms) Get(id string) (*Room, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	r, ok := rs.rooms[id]
	return r, ok
}

// Open returns the room with id, creating it when lazy creation is enabled.
func (rs *Rooms) Open(ctx context.Context, id string) (*Room, error) {
	if err := ValidateRoomID(id); err != nil {
		return nil, err
	}
	if r, ok := rs.Get(id); ok {
		return r, nil
	}
	if !rs.opts.AllowCreate {
		return nil, coreError(ErrCodeRoomNotFound, "Invalid room number.", ErrRoomNotFound)
	}

	rs.mu.Lock()
	r, ok := rs.rooms[id]
	created := false
	if !ok {
		r = rs.newRoom(id)
		rs.rooms[id] = r
		created = true
	}
	rs.mu.Unlock()

	if created {
		r.load(ctx)
		if rs.opts.Logger != nil {
			rs.opts.Logger.Info().Str("room", id).Msg("chat room created")
		}
	}
	return r, nil
}

// List returns all rooms ordered by id.
func (rs *Rooms) List() []*Room {
	rs.mu.RLock()
	out := make([]*Room, 0, len(rs.rooms))
	for _, r := range rs.rooms {
		out = append(out, r)
	}
	rs.mu.RUnlock()

	slices.SortFunc(out, func(a, b *Room) int { return compareIDs(a.id, b.id) })
	return out
}

// IDs returns all room ids in order.
func (rs *Rooms) IDs() []string {
	rooms := rs.List()
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.id
	}
	return ids
}

// AllowCreate reports whether unknown ids create rooms.
func (rs *Rooms) AllowCreate() bool {
	return rs.opts.AllowCreate
}

// compareIDs orders numeric ids numerically and before any other id.
func compareIDs(a, b string) int {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		return strings.Compare(a, b)
	}
}

func sortNames(names []string) {
	slices.Sort(names)
}
