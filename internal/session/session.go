package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/game"
	"github.com/vovakirdan/linechat-server/internal/proto"
)

// Phase is the position of a session in its state machine.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseMenu
	PhaseRoomSelect
	PhaseInRoom
	PhaseInPrivate
	PhaseGame
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseMenu:
		return "menu"
	case PhaseRoomSelect:
		return "room_select"
	case PhaseInRoom:
		return "in_room"
	case PhaseInPrivate:
		return "in_private"
	case PhaseGame:
		return "game"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is a line-oriented client connection. Send must be safe for
// concurrent use and must not block on the peer.
type Conn interface {
	core.Sender
	// ReadLine blocks until a full line arrives. The terminator is stripped.
	ReadLine(ctx context.Context) (string, error)
	Close() error
	RemoteAddr() string
}

// GameLauncher starts the text adventure for a player.
type GameLauncher interface {
	Enabled() bool
	Start(ctx context.Context, player string, out core.Sender, onExit func(error)) (game.Handle, error)
}

// Observer receives counters from sessions.
type Observer interface {
	SessionStart(transport string)
	SessionDone(transport string, since time.Time)
	RoomMessage(room string, dropped int)
	PrivateMessage(delivered bool)
	GameStart()
	GameDone()
}

type nopObserver struct{}

func (nopObserver) SessionStart(string)           {}
func (nopObserver) SessionDone(string, time.Time) {}
func (nopObserver) RoomMessage(string, int)       {}
func (nopObserver) PrivateMessage(bool)           {}
func (nopObserver) GameStart()                    {}
func (nopObserver) GameDone()                     {}

// Deps are the shared components a session operates on.
type Deps struct {
	Directory *core.Directory
	Rooms     *core.Rooms
	Pairs     *core.PairingTable
	// Games is optional; the game menu entry is hidden without it.
	Games    GameLauncher
	Observer Observer
	Log      *zerolog.Logger
	// Activity receives user activity events. Defaults to Log.
	Activity *zerolog.Logger
}

func (d *Deps) withDefaults() *Deps {
	out := *d
	if out.Observer == nil {
		out.Observer = nopObserver{}
	}
	if out.Log == nil {
		nop := zerolog.Nop()
		out.Log = &nop
	}
	if out.Activity == nil {
		activity := out.Log.With().Str("component", "activity").Logger()
		out.Activity = &activity
	}
	return &out
}

// Session drives one connection through the chat state machine. Input is
// handled on a single goroutine; shared state lives in Deps.
type Session struct {
	id   string
	conn Conn
	deps *Deps

	log      zerolog.Logger
	activity zerolog.Logger
	started  time.Time

	mu    sync.Mutex
	phase Phase
	name  string
	room  *core.Room
	game  game.Handle

	// lastPartner is the partner seen when this session last paired; it
	// tells a vanished partner apart from one that ended the chat.
	lastPartner  string
	roomJoined   time.Time
	roomMessages int
	gameStopping atomic.Bool

	cleanupOnce sync.Once
}

// New creates a session for conn. deps must outlive the session.
func New(id string, conn Conn, deps *Deps) *Session {
	deps = deps.withDefaults()
	return &Session{
		id:       id,
		conn:     conn,
		deps:     deps,
		log:      deps.Log.With().Str("conn_id", id).Str("remote", conn.RemoteAddr()).Logger(),
		activity: deps.Activity.With().Str("conn_id", id).Str("remote", conn.RemoteAddr()).Logger(),
		started:  time.Now(),
		phase:    PhaseConnecting,
	}
}

// ID returns the connection id.
func (s *Session) ID() string { return s.id }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Name returns the claimed name, or "" while connecting.
func (s *Session) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// Run reads and handles lines until the client exits or the connection
// ends. A closed connection is a normal end and yields nil.
func (s *Session) Run(ctx context.Context) error {
	s.send(core.Prompt("Welcome! Please enter a username:"))
	for {
		line, err := s.conn.ReadLine(ctx)
		if err != nil {
			if IsClosed(err) {
				s.log.Debug().Err(err).Msg("connection closed")
				return nil
			}
			return fmt.Errorf("read line: %w", err)
		}
		if s.handle(ctx, line) {
			return nil
		}
	}
}

// IsClosed reports whether err is a normal end of connection.
func IsClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, core.ErrConnClosed) ||
		errors.Is(err, context.Canceled)
}

// handle processes one input line and reports whether the session is over.
func (s *Session) handle(ctx context.Context, raw string) bool {
	line := proto.Normalize(raw)

	switch s.Phase() {
	case PhaseConnecting:
		s.handleName(line)
	case PhaseMenu:
		return s.handleMenu(ctx, line)
	case PhaseRoomSelect:
		s.handleRoomSelect(ctx, line)
	case PhaseInRoom:
		s.handleRoom(line)
	case PhaseInPrivate:
		s.handlePrivate(line)
	case PhaseGame:
		return s.handleGame(ctx, line)
	case PhaseClosed:
		return true
	}
	return false
}

func (s *Session) handleName(name string) {
	_, err := s.deps.Directory.TryClaim(name, s.conn)
	if err != nil {
		retry := "Try again:"
		if errors.Is(err, core.ErrNameTaken) {
			retry = "Try another:"
		}
		s.send(core.Prompt(core.UserMessage(err, "Invalid username.") + " " + retry))
		s.log.Debug().Err(err).Str("user", name).Msg("name rejected")
		return
	}

	s.mu.Lock()
	s.name = name
	s.phase = PhaseMenu
	s.mu.Unlock()

	s.log = s.log.With().Str("user", name).Logger()
	s.activity = s.activity.With().Str("user", name).Logger()
	s.log.Info().Int("online", s.deps.Directory.Count()).Msg("client registered")
	s.activity.Info().Msg("user connected")
	s.sendMenu()
}

func (s *Session) gameEnabled() bool {
	return s.deps.Games != nil && s.deps.Games.Enabled()
}

func (s *Session) sendMenu() {
	s.send(core.Raw(strings.Join(proto.MenuLines(s.gameEnabled()), "\n")))
}

func (s *Session) handleMenu(ctx context.Context, option string) bool {
	if option == "" {
		return false
	}
	s.activity.Info().Str("option", option).Msg("menu option selected")

	switch {
	case option == proto.OptionJoinRoom:
		s.setPhase(PhaseRoomSelect)
		s.send(core.Prompt(fmt.Sprintf("Enter chat room number (%s):", roomChoices(s.deps.Rooms))))
	case option == proto.OptionPrivate:
		s.enterPrivate()
	case option == proto.OptionListUsers:
		s.send(core.System(proto.TagServer, "Online users: "+onlineList(s.deps.Directory.ListOnline())))
		s.sendMenu()
	case option == proto.OptionExit || proto.Is(option, proto.WordExit, proto.WordQuit):
		s.log.Info().Msg("client initiated disconnect")
		s.send(core.Raw("Goodbye!"))
		s.setPhase(PhaseClosed)
		return true
	case option == proto.OptionGame && s.gameEnabled():
		s.startGame(ctx)
	default:
		err := core.NewError(core.ErrCodeInvalidOption, "Invalid option. Please enter "+proto.OptionList(s.gameEnabled())+".", core.ErrInvalidOption)
		s.log.Debug().Str("option", option).Str("code", err.Code).Err(err).Msg("invalid menu option")
		s.send(core.Error(proto.TagServer, core.UserMessage(err, "Invalid option.")))
		s.sendMenu()
	}
	return false
}

func (s *Session) handleRoomSelect(ctx context.Context, id string) {
	if id == "" {
		return
	}
	room, err := s.deps.Rooms.Open(ctx, id)
	if err != nil {
		s.log.Debug().Err(err).Str("room", id).Msg("invalid room choice")
		s.send(core.Error(proto.TagServer, core.UserMessage(err, "Invalid room number.")))
		s.setPhase(PhaseMenu)
		s.sendMenu()
		return
	}

	name := s.Name()
	welcome := room.Join(name, s.conn)

	s.mu.Lock()
	s.room = room
	s.phase = PhaseInRoom
	s.roomJoined = time.Now()
	s.roomMessages = 0
	s.mu.Unlock()

	tag := proto.RoomTag(room.ID())
	s.log.Info().Str("room", room.ID()).Msg("entered chat room")
	s.activity.Info().Str("room", room.ID()).Int("members", len(room.Members())).Msg("joined chat room")

	s.send(core.System(tag, fmt.Sprintf("You joined chat room %s!", room.ID())))
	s.send(core.History(room.ID(), welcome.History))
	s.send(core.Raw("Type your messages. Type " + proto.CmdLeave + " to exit the chat room."))
	s.sendRoomPrompt(room)
}

func (s *Session) sendRoomPrompt(room *core.Room) {
	s.send(core.Prompt(fmt.Sprintf("[%s] You:", room.ID())))
}

func (s *Session) handleRoom(text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	room := s.room
	s.mu.Unlock()
	if room == nil {
		s.setPhase(PhaseMenu)
		s.sendMenu()
		return
	}

	if proto.Is(text, proto.CmdLeave) {
		s.leaveRoom(true)
		s.send(core.System(proto.TagChatRoom, "Leaving chat room."))
		s.setPhase(PhaseMenu)
		s.sendMenu()
		return
	}

	name := s.Name()
	if !room.IsMember(name, s.conn) {
		s.droppedFromRoom(room)
		return
	}

	res := room.Broadcast(name, text)
	s.mu.Lock()
	s.roomMessages++
	s.mu.Unlock()
	s.deps.Observer.RoomMessage(room.ID(), len(res.Dropped))
	s.log.Debug().Str("room", room.ID()).Int("delivered", res.Delivered).Int("dropped", len(res.Dropped)).Msg("room message")
	s.sendRoomPrompt(room)
}

// leaveRoom removes the session from its room and announces the departure
// to the remaining members.
func (s *Session) leaveRoom(explicit bool) {
	s.mu.Lock()
	room := s.room
	name := s.name
	joined := s.roomJoined
	count := s.roomMessages
	s.room = nil
	s.mu.Unlock()
	if room == nil {
		return
	}

	if room.Leave(name, s.conn) {
		room.Announce(name+" left the room.", name)
	}
	s.activity.Info().
		Str("room", room.ID()).
		Bool("explicit", explicit).
		Dur("duration", time.Since(joined)).
		Int("messages", count).
		Msg("left chat room")
}

// droppedFromRoom handles a session the room removed after a failed
// delivery. The removal was silent, so nothing is announced.
func (s *Session) droppedFromRoom(room *core.Room) {
	s.mu.Lock()
	if s.room == room {
		s.room = nil
	}
	s.mu.Unlock()

	s.log.Info().Str("room", room.ID()).Msg("dropped from chat room after delivery failure")
	s.activity.Info().Str("room", room.ID()).Msg("removed from chat room")
	s.send(core.Error(proto.RoomTag(room.ID()), "You were removed from the room because messages could not be delivered. Returning to menu."))
	s.setPhase(PhaseMenu)
	s.sendMenu()
}

func (s *Session) enterPrivate() {
	s.setPhase(PhaseInPrivate)
	name := s.Name()
	s.send(core.System(proto.TagPrivate, "You joined the private room!"))

	if partner, ok := s.deps.Pairs.Partner(name); ok {
		s.mu.Lock()
		s.lastPartner = partner
		s.mu.Unlock()
		s.send(core.System(proto.TagPrivate, fmt.Sprintf("You are in a private chat with %s. Type %s to return to the menu.", partner, proto.CmdMenu)))
		return
	}
	s.promptRecipient()
}

func (s *Session) promptRecipient() {
	name := s.Name()
	s.mu.Lock()
	s.lastPartner = ""
	s.mu.Unlock()

	others := make([]string, 0)
	for _, n := range s.deps.Directory.ListOnline() {
		if n != name {
			others = append(others, n)
		}
	}
	s.send(core.System(proto.TagPrivate, "Online users: "+onlineList(others)))
	s.send(core.Prompt(fmt.Sprintf("Enter the username to chat with (or %s to return):", proto.CmdMenu)))
}

func (s *Session) handlePrivate(text string) {
	if text == "" {
		return
	}
	name := s.Name()

	if proto.Is(text, proto.CmdMenu, proto.CmdExit) {
		if partner, ok := s.deps.Pairs.Unpair(name); ok {
			s.send(core.System(proto.TagPrivate, fmt.Sprintf("Private chat with %s ended.", partner)))
			s.activity.Info().Str("partner", partner).Msg("private chat ended")
		}
		s.toMenu()
		return
	}

	if _, paired := s.deps.Pairs.Partner(name); !paired {
		s.mu.Lock()
		last := s.lastPartner
		s.mu.Unlock()
		if last != "" {
			if _, online := s.deps.Directory.Lookup(last); !online {
				s.partnerGone(last)
				return
			}
			s.send(core.Error(proto.TagPrivate, "You are not in a private chat."))
			s.promptRecipient()
			return
		}
		s.selectRecipient(text)
		return
	}

	partner, err := s.deps.Pairs.Forward(name, text)
	switch {
	case err == nil:
		s.deps.Observer.PrivateMessage(true)
		s.send(core.PrivateOut(partner, text))
	case errors.Is(err, core.ErrPartnerOffline):
		s.deps.Observer.PrivateMessage(false)
		s.partnerGone(partner)
	case errors.Is(err, core.ErrNoPartner):
		s.send(core.Error(proto.TagPrivate, core.UserMessage(err, "You are not in a private chat.")))
		s.promptRecipient()
	default:
		s.log.Warn().Err(err).Msg("private message failed")
		s.send(core.Error(proto.TagPrivate, "Message could not be delivered."))
	}
}

func (s *Session) partnerGone(partner string) {
	s.deps.Pairs.Unpair(s.Name())
	s.log.Info().Str("partner", partner).Msg("private partner offline")
	s.activity.Info().Str("partner", partner).Msg("private chat ended")
	s.send(core.Error(proto.TagPrivate, fmt.Sprintf("%s is no longer online. Returning to menu.", partner)))
	s.toMenu()
}

func (s *Session) selectRecipient(target string) {
	name := s.Name()
	if err := s.deps.Pairs.RequestPair(name, target); err != nil {
		s.send(core.Error(proto.TagPrivate, core.UserMessage(err, "Could not start a private chat.")))
		s.promptRecipient()
		return
	}

	s.mu.Lock()
	s.lastPartner = target
	s.mu.Unlock()

	s.activity.Info().Str("partner", target).Msg("private chat started")
	s.send(core.System(proto.TagPrivate, fmt.Sprintf("You are now chatting with %s. Type %s to return to the menu.", target, proto.CmdMenu)))
	if h, ok := s.deps.Directory.Lookup(target); ok {
		_ = h.Send(core.System(proto.TagPrivate, fmt.Sprintf("%s started a private chat with you. Choose option %s to reply.", name, proto.OptionPrivate)))
	}
}

func (s *Session) toMenu() {
	s.mu.Lock()
	s.lastPartner = ""
	s.phase = PhaseMenu
	s.mu.Unlock()
	s.sendMenu()
}

func (s *Session) startGame(ctx context.Context) {
	name := s.Name()
	s.send(core.System(proto.TagTextAdventure, "Starting game..."))
	s.gameStopping.Store(false)

	h, err := s.deps.Games.Start(ctx, name, s.conn, func(error) {
		s.deps.Observer.GameDone()
		s.send(game.EndedLine(name))
		if !s.gameStopping.Load() {
			s.sendMenu()
		}
	})
	if err != nil {
		s.log.Error().Err(err).Msg("failed to start game")
		s.send(core.Error(proto.TagTextAdventure, "Error: "+err.Error()))
		s.sendMenu()
		return
	}
	s.deps.Observer.GameStart()

	s.mu.Lock()
	s.game = h
	s.phase = PhaseGame
	s.mu.Unlock()
	s.activity.Info().Msg("text adventure started")
	s.send(core.System(proto.TagTextAdventure, fmt.Sprintf("Interactive mode for %s. Type %s to return.", name, proto.CmdExit)))
}

func (s *Session) handleGame(ctx context.Context, text string) bool {
	s.mu.Lock()
	h := s.game
	s.mu.Unlock()

	if h == nil || isDone(h) {
		// The game ended on its own; the line belongs to the menu.
		s.mu.Lock()
		s.game = nil
		s.phase = PhaseMenu
		s.mu.Unlock()
		return s.handleMenu(ctx, text)
	}
	if text == "" {
		return false
	}

	if proto.Is(text, proto.CmdExit) {
		s.stopGame()
		s.setPhase(PhaseMenu)
		s.sendMenu()
		return false
	}
	if err := h.Input(text); err != nil {
		s.log.Warn().Err(err).Msg("game input failed")
		s.stopGame()
		s.setPhase(PhaseMenu)
		s.sendMenu()
	}
	return false
}

func isDone(h game.Handle) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func (s *Session) stopGame() {
	s.mu.Lock()
	h := s.game
	s.game = nil
	s.mu.Unlock()
	if h == nil {
		return
	}
	s.gameStopping.Store(true)
	if err := h.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("game stopped")
	}
	s.activity.Info().Msg("text adventure ended")
}

// Cleanup releases everything the session holds. It runs once; later calls
// are no-ops.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		name := s.Name()
		if name != "" {
			s.leaveRoom(false)
			if partner, ok := s.deps.Pairs.Depart(name); ok {
				s.activity.Info().Str("partner", partner).Msg("private chat ended")
			}
		}
		s.stopGame()
		s.setPhase(PhaseClosed)
		if err := s.conn.Close(); err != nil && !IsClosed(err) {
			s.log.Debug().Err(err).Msg("close connection")
		}

		if name != "" {
			s.activity.Info().Dur("duration", time.Since(s.started)).Msg("user disconnected")
			s.log.Info().Int("online", s.deps.Directory.Count()).Msg("client disconnected")
		} else {
			s.log.Info().Msg("client disconnected before choosing username")
		}
	})
}

func (s *Session) send(msg core.Message) {
	if err := s.conn.Send(msg); err != nil {
		s.log.Debug().Err(err).Str("kind", msg.Kind.String()).Msg("send to client failed")
	}
}

func onlineList(names []string) string {
	if len(names) == 0 {
		return "No users online."
	}
	return strings.Join(names, ", ")
}

// roomChoices renders the room ids for the selection prompt: "1-4" for a
// contiguous numeric pool, a comma list otherwise.
func roomChoices(rooms *core.Rooms) string {
	ids := rooms.IDs()
	if len(ids) == 0 {
		return "any name"
	}
	contiguous := true
	first, err := strconv.Atoi(ids[0])
	if err != nil {
		contiguous = false
	}
	for i, id := range ids {
		n, err := strconv.Atoi(id)
		if err != nil || n != first+i {
			contiguous = false
			break
		}
	}
	choices := strings.Join(ids, ", ")
	if contiguous && len(ids) > 1 {
		choices = ids[0] + "-" + ids[len(ids)-1]
	}
	if rooms.AllowCreate() {
		choices += ", or a new name"
	}
	return choices
}
