package core

import (
	"strings"
	"time"

	"github.com/vovakirdan/linechat-server/internal/proto"
)

// Kind tags the variant carried by a Message.
type Kind int

const (
	// KindChat is a room chat line from another member.
	KindChat Kind = iota
	// KindSystem is a tagged informational server line.
	KindSystem
	// KindPrivateIn is a private message received from the partner.
	KindPrivateIn
	// KindPrivateOut confirms a private message was delivered.
	KindPrivateOut
	// KindError explains a rejected input.
	KindError
	// KindHistory replays room history to a joining member.
	KindHistory
	// KindPrompt asks the client for input.
	KindPrompt
	// KindRaw is passed through verbatim (game output).
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindSystem:
		return "system"
	case KindPrivateIn:
		return "private_in"
	case KindPrivateOut:
		return "private_out"
	case KindError:
		return "error"
	case KindHistory:
		return "history"
	case KindPrompt:
		return "prompt"
	case KindRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Entry is one stored room message.
type Entry struct {
	From string
	Text string
	At   time.Time
}

// Message is what the core hands to a connection. It is built once by the
// producer and encoded once by the transport.
type Message struct {
	Kind    Kind
	Tag     string
	Room    string
	From    string
	To      string
	Text    string
	History []Entry
}

// Sender is a connection handle as seen by shared components. Send must not
// block on the peer; a failure means the message was not queued.
type Sender interface {
	Send(msg Message) error
}

// Chat builds a room chat message.
func Chat(room, from, text string) Message {
	return Message{Kind: KindChat, Room: room, From: from, Text: text}
}

// System builds a tagged server line.
func System(tag, text string) Message {
	return Message{Kind: KindSystem, Tag: tag, Text: text}
}

// Error builds a tagged error line.
func Error(tag, text string) Message {
	return Message{Kind: KindError, Tag: tag, Text: text}
}

// PrivateIn builds the recipient side of a private message.
func PrivateIn(from, text string) Message {
	return Message{Kind: KindPrivateIn, From: from, Text: text}
}

// PrivateOut builds the sender-side delivery confirmation.
func PrivateOut(to, text string) Message {
	return Message{Kind: KindPrivateOut, To: to, Text: text}
}

// History builds the replay sent to a member joining room.
func History(room string, entries []Entry) Message {
	return Message{Kind: KindHistory, Room: room, History: entries}
}

// Prompt builds an input prompt.
func Prompt(text string) Message {
	return Message{Kind: KindPrompt, Text: text}
}

// Raw builds a pass-through line.
func Raw(text string) Message {
	return Message{Kind: KindRaw, Text: text}
}

// Lines renders the message as protocol lines without terminators.
func (m Message) Lines() []string {
	switch m.Kind {
	case KindChat:
		return []string{proto.RoomLine(m.Room, m.From, m.Text)}
	case KindPrivateIn:
		return []string{proto.PrivateInLine(m.From, m.Text)}
	case KindPrivateOut:
		return []string{proto.PrivateOutLine(m.To, m.Text)}
	case KindSystem, KindError:
		tag := m.Tag
		if tag == "" {
			tag = proto.TagServer
		}
		return splitLines(m.Text, func(s string) string { return proto.SystemLine(tag, s) })
	case KindHistory:
		tag := proto.RoomTag(m.Room)
		if len(m.History) == 0 {
			return []string{proto.SystemLine(tag, "No previous messages.")}
		}
		lines := make([]string, 0, len(m.History)+1)
		lines = append(lines, proto.SystemLine(tag, "Previous messages:"))
		for _, e := range m.History {
			lines = append(lines, proto.HistoryEntryLine(e.From, e.Text))
		}
		return lines
	default:
		return splitLines(m.Text, nil)
	}
}

// Encode renders the message as newline-terminated protocol text.
func (m Message) Encode() string {
	var b strings.Builder
	for _, line := range m.Lines() {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

func splitLines(text string, wrap func(string) string) []string {
	parts := strings.Split(strings.TrimRight(text, "\r\n"), "\n")
	for i, p := range parts {
		p = strings.TrimRight(p, "\r")
		if wrap != nil && p != "" {
			p = wrap(p)
		}
		parts[i] = p
	}
	return parts
}
