package http

import (
	"time"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/proto"
	"github.com/vovakirdan/linechat-server/internal/store"
)

func roomInfo(r *core.Room) proto.RoomInfo {
	return proto.RoomInfo{
		ID:         r.ID(),
		Members:    r.Members(),
		HistoryLen: r.HistoryLen(),
	}
}

func entryHistory(entries []core.Entry) []proto.HistoryItem {
	items := make([]proto.HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, proto.HistoryItem{User: e.From, Text: e.Text, TS: unixMillis(e.At)})
	}
	return items
}

func storedHistory(msgs []*store.Message) []proto.HistoryItem {
	items := make([]proto.HistoryItem, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, proto.HistoryItem{ID: m.ID, User: m.Sender, Text: m.Body, TS: unixMillis(m.CreatedAt)})
	}
	return items
}

func unixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
