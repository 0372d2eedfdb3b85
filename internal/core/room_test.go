package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRooms(opts RoomsOptions) *Rooms {
	if len(opts.IDs) == 0 {
		opts.IDs = []string{"1", "2", "3", "4"}
	}
	return NewRooms(opts)
}

func TestRoomBroadcastExcludesSender(t *testing.T) {
	rooms := newTestRooms(RoomsOptions{})
	room, err := rooms.Open(context.Background(), "1")
	require.NoError(t, err)

	alice, bob := &recorder{}, &recorder{}
	room.Join("alice", alice)
	room.Join("bob", bob)

	res := room.Broadcast("alice", "hi")
	assert.Equal(t, 1, res.Delivered)

	require.Len(t, bob.messages(), 1)
	assert.Equal(t, "[1] alice: hi\n", bob.messages()[0].Encode())
	assert.Empty(t, alice.messages(), "sender must not receive its own message")
}

func TestRoomBroadcastIgnoresBlankText(t *testing.T) {
	room := newRoom("1", 10, 0, nil, nil)
	bob := &recorder{}
	room.Join("bob", bob)

	room.Broadcast("alice", "   \t ")
	assert.Empty(t, bob.messages())
	assert.Zero(t, room.HistoryLen())
}

func TestRoomHistoryBound(t *testing.T) {
	room := newRoom("1", 1000, 0, nil, nil)
	room.Join("alice", &recorder{})

	for i := 0; i < 1001; i++ {
		room.Broadcast("alice", fmt.Sprintf("msg %d", i))
		require.LessOrEqual(t, room.HistoryLen(), 1000)
	}

	w := room.Join("carol", &recorder{})
	require.Len(t, w.History, 1000)
	assert.Equal(t, "msg 1", w.History[0].Text)
	assert.Equal(t, "msg 1000", w.History[999].Text)
	for i, e := range w.History {
		assert.Equal(t, fmt.Sprintf("msg %d", i+1), e.Text)
	}
}

func TestRoomReplayLimit(t *testing.T) {
	room := newRoom("1", 100, 5, nil, nil)
	for i := 0; i < 20; i++ {
		room.Broadcast("alice", fmt.Sprintf("m%d", i))
	}
	w := room.Join("bob", &recorder{})
	require.Len(t, w.History, 5)
	assert.Equal(t, "m15", w.History[0].Text)
	assert.Equal(t, 20, room.HistoryLen())
}

func TestRoomJoinReplacesHandle(t *testing.T) {
	room := newRoom("1", 10, 0, nil, nil)
	old, fresh := &recorder{}, &recorder{}
	room.Join("bob", old)
	room.Join("bob", fresh)

	room.Broadcast("alice", "hello")
	assert.Empty(t, old.messages())
	assert.Len(t, fresh.messages(), 1)
	assert.Equal(t, []string{"bob"}, room.Members())
}

func TestRoomLeaveIsIdempotent(t *testing.T) {
	room := newRoom("1", 10, 0, nil, nil)
	bob := &recorder{}
	room.Join("bob", bob)

	assert.True(t, room.Leave("bob", bob))
	assert.False(t, room.Leave("bob", bob))
	assert.Empty(t, room.Members())
}

func TestRoomLeaveWithStaleHandleKeepsMember(t *testing.T) {
	room := newRoom("1", 10, 0, nil, nil)
	stale, current := &recorder{}, &recorder{}
	room.Join("bob", current)

	assert.False(t, room.Leave("bob", stale))
	assert.True(t, room.Has("bob"))
}

func TestRoomDeliveryFailureDropsOnlyFailingMember(t *testing.T) {
	room := newRoom("1", 10, 0, nil, nil)
	bob, carol, dave := &recorder{}, &recorder{}, &recorder{}
	room.Join("bob", bob)
	room.Join("carol", carol)
	room.Join("dave", dave)
	carol.setFail(true)

	res := room.Broadcast("alice", "hello")
	assert.Equal(t, 2, res.Delivered)
	assert.Equal(t, []string{"carol"}, res.Dropped)
	assert.Len(t, bob.messages(), 1)
	assert.Len(t, dave.messages(), 1)
	assert.Equal(t, []string{"bob", "dave"}, room.Members())
	assert.Equal(t, 1, room.HistoryLen(), "message is still recorded")
}

func TestRoomAnnounceIsNotRecorded(t *testing.T) {
	room := newRoom("2", 10, 0, nil, nil)
	bob := &recorder{}
	room.Join("bob", bob)

	room.Announce("alice left the room.", "alice")
	require.Len(t, bob.messages(), 1)
	assert.Equal(t, "[ChatRoom 2] alice left the room.\n", bob.messages()[0].Encode())
	assert.Zero(t, room.HistoryLen())
}

func TestRoomsOpen(t *testing.T) {
	ctx := context.Background()

	fixed := newTestRooms(RoomsOptions{})
	_, err := fixed.Open(ctx, "9")
	assert.ErrorIs(t, err, ErrRoomNotFound)
	_, err = fixed.Open(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidRoom)
	assert.Equal(t, []string{"1", "2", "3", "4"}, fixed.IDs())

	lazy := newTestRooms(RoomsOptions{AllowCreate: true})
	r, err := lazy.Open(ctx, "lobby")
	require.NoError(t, err)
	again, err := lazy.Open(ctx, "lobby")
	require.NoError(t, err)
	assert.Same(t, r, again)
	_, err = lazy.Open(ctx, "two words")
	assert.ErrorIs(t, err, ErrInvalidRoom)
	assert.Equal(t, []string{"1", "2", "3", "4", "lobby"}, lazy.IDs())
}

func TestRoomsIDOrdering(t *testing.T) {
	rooms := NewRooms(RoomsOptions{IDs: []string{"10", "b", "2", "a", "1"}})
	assert.Equal(t, []string{"1", "2", "10", "a", "b"}, rooms.IDs())
}

func TestRoomHistoryPersistsAndPreloads(t *testing.T) {
	st := newMemHistory()
	rooms := newTestRooms(RoomsOptions{Store: st, HistoryCap: 3})
	room, _ := rooms.Get("1")
	for i := 0; i < 5; i++ {
		room.Broadcast("alice", fmt.Sprintf("m%d", i))
	}
	assert.Len(t, st.entries["1"], 5)

	restarted := newTestRooms(RoomsOptions{Store: st, HistoryCap: 3})
	restarted.Preload(context.Background())
	r, _ := restarted.Get("1")
	hist := r.History(0)
	require.Len(t, hist, 3)
	assert.Equal(t, "m2", hist[0].Text)
	assert.Equal(t, "m4", hist[2].Text)
}

func TestRoomPersistFailureDoesNotBlockDelivery(t *testing.T) {
	st := newMemHistory()
	st.failing = true
	room := newRoom("1", 10, 0, st, nil)
	bob := &recorder{}
	room.Join("bob", bob)

	res := room.Broadcast("alice", "still delivered")
	assert.Equal(t, 1, res.Delivered)
	assert.Equal(t, 1, room.HistoryLen())
}

func TestRoomConcurrentBroadcastsPersistInHistoryOrder(t *testing.T) {
	st := newMemHistory()
	room := newRoom("1", 1000, 0, st, nil)
	watcher := &recorder{}
	room.Join("watcher", watcher)

	const senders, each = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < senders; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				room.Broadcast(fmt.Sprintf("u%d", i), fmt.Sprintf("m%d-%d", i, j))
			}
		}()
	}
	wg.Wait()

	texts := func(entries []Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Text)
		}
		return out
	}
	memory := texts(room.History(senders * each))
	require.Len(t, memory, senders*each)

	stored, err := st.LoadEntries(context.Background(), "1", senders*each)
	require.NoError(t, err)
	assert.Equal(t, memory, texts(stored))

	delivered := make([]string, 0, senders*each)
	for _, m := range watcher.ofKind(KindChat) {
		delivered = append(delivered, m.Text)
	}
	assert.Equal(t, memory, delivered)
}
