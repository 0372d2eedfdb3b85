package store

import (
	"context"
	"time"

	"github.com/vovakirdan/linechat-server/internal/core"
)

// Message represents a persisted room chat message.
type Message struct {
	ID        int64
	Room      string
	Sender    string
	Body      string
	CreatedAt time.Time
}

// RoomSummary is the stored message count of a room.
type RoomSummary struct {
	Room     string
	Messages int
	LastAt   *time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message to storage.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves messages from a room with pagination.
	// If beforeID is provided, returns messages older than that ID.
	// Limit determines max number of messages to return.
	ListMessages(ctx context.Context, room string, limit int, beforeID *int64) ([]*Message, error)

	// PruneMessages keeps only the newest keep messages of a room and
	// returns the number of rows removed.
	PruneMessages(ctx context.Context, room string, keep int) (int64, error)

	// ListRoomSummaries reports stored message counts per room.
	ListRoomSummaries(ctx context.Context) ([]RoomSummary, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}

// History adapts a MessageStore to the room history contract.
type History struct {
	Messages MessageStore
}

// NewHistory wraps ms.
func NewHistory(ms MessageStore) *History {
	return &History{Messages: ms}
}

// AppendEntry persists a room entry.
func (h *History) AppendEntry(ctx context.Context, room string, e core.Entry) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	return h.Messages.SaveMessage(ctx, &Message{
		Room:      room,
		Sender:    e.From,
		Body:      e.Text,
		CreatedAt: at.UTC(),
	})
}

// LoadEntries returns up to limit newest entries of room, oldest first.
func (h *History) LoadEntries(ctx context.Context, room string, limit int) ([]core.Entry, error) {
	msgs, err := h.Messages.ListMessages(ctx, room, limit, nil)
	if err != nil {
		return nil, err
	}
	entries := make([]core.Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, core.Entry{From: m.Sender, Text: m.Body, At: m.CreatedAt})
	}
	return entries, nil
}
