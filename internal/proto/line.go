package proto

import (
	"fmt"
	"strings"
)

// Tags prefix system lines so clients can tell them apart from chat lines.
const (
	TagServer        = "Server"
	TagChatRoom      = "ChatRoom"
	TagPrivate       = "Private"
	TagTextAdventure = "TextAdventure"
)

// Control words, matched case-insensitively.
const (
	CmdLeave = "/leave"
	CmdMenu  = "/menu"
	CmdExit  = "/exit"
	WordExit = "exit"
	WordQuit = "quit"
)

// Menu option tokens.
const (
	OptionJoinRoom  = "1"
	OptionPrivate   = "2"
	OptionListUsers = "3"
	OptionExit      = "4"
	OptionGame      = "5"
)

// RoomLine formats a chat line delivered to room members.
func RoomLine(room, sender, text string) string {
	return fmt.Sprintf("[%s] %s: %s", room, sender, text)
}

// PrivateInLine formats a private message as seen by its recipient.
func PrivateInLine(sender, text string) string {
	return fmt.Sprintf("[%s] %s: %s", TagPrivate, sender, text)
}

// PrivateOutLine formats the delivery confirmation echoed to the sender.
func PrivateOutLine(recipient, text string) string {
	return fmt.Sprintf("[%s -> %s] %s", TagPrivate, recipient, text)
}

// SystemLine formats a tagged server line.
func SystemLine(tag, text string) string {
	return fmt.Sprintf("[%s] %s", tag, text)
}

// RoomTag returns the system tag used inside a specific room.
func RoomTag(room string) string {
	return TagChatRoom + " " + room
}

// HistoryEntryLine formats one replayed history entry.
func HistoryEntryLine(sender, text string) string {
	return sender + ": " + text
}

// MenuLines returns the main menu block. The game option is listed only when
// a game is available.
func MenuLines(withGame bool) []string {
	lines := []string{
		"",
		"Options:",
		"1. Join chat room",
		"2. Private messages",
		"3. List online users",
		"4. Exit",
	}
	if withGame {
		lines = append(lines, "5. Play text adventure")
	}
	return append(lines, "Enter option ("+OptionList(withGame)+"):")
}

// OptionList renders the valid option tokens, e.g. "1, 2, 3, or 4".
func OptionList(withGame bool) string {
	if withGame {
		return "1, 2, 3, 4, or 5"
	}
	return "1, 2, 3, or 4"
}

// Normalize strips line terminators and surrounding whitespace.
func Normalize(line string) string {
	return strings.TrimSpace(strings.TrimRight(line, "\r\n"))
}

// Is reports whether input equals the control word, ignoring case.
func Is(input string, words ...string) bool {
	for _, w := range words {
		if strings.EqualFold(input, w) {
			return true
		}
	}
	return false
}
