package proto

// OnlineResponse lists the names currently claimed.
type OnlineResponse struct {
	Users []string `json:"users"`
	Count int      `json:"count"`
}

// RoomInfo summarizes a room for the admin API.
type RoomInfo struct {
	ID         string   `json:"id"`
	Members    []string `json:"members"`
	HistoryLen int      `json:"history_len"`
}

// RoomsResponse wraps the room list.
type RoomsResponse struct {
	Rooms []RoomInfo `json:"rooms"`
}

// HistoryItem is one stored room message.
// ID is set for persisted messages and can be passed back as before.
type HistoryItem struct {
	ID   int64  `json:"id,omitempty"`
	User string `json:"user"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// HistoryResponse carries the most recent messages of a room, oldest first.
type HistoryResponse struct {
	Room     string        `json:"room"`
	Messages []HistoryItem `json:"messages"`
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}
