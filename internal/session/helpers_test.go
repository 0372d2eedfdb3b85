package session

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/game"
	"github.com/vovakirdan/linechat-server/internal/proto"
)

const waitTimeout = 2 * time.Second

// pipeConn is an in-memory Conn with scripted input and recorded output.
type pipeConn struct {
	name string
	in   chan string

	mu     sync.Mutex
	lines  []string
	cursor int
	closed bool
	// failing makes the next n sends fail as a full queue would.
	failing int
	done    chan struct{}
	once    sync.Once
}

func newPipeConn(name string) *pipeConn {
	return &pipeConn{
		name: name,
		in:   make(chan string, 2048),
		done: make(chan struct{}),
	}
}

func (c *pipeConn) Send(msg core.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.failing > 0 {
		c.failing--
		return core.ErrSendFailed
	}
	c.lines = append(c.lines, msg.Lines()...)
	return nil
}

func (c *pipeConn) ReadLine(ctx context.Context) (string, error) {
	select {
	case <-c.done:
		return "", io.EOF
	default:
	}
	select {
	case line := <-c.in:
		return line, nil
	case <-c.done:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *pipeConn) RemoteAddr() string { return "pipe/" + c.name }

func (c *pipeConn) failNext(n int) {
	c.mu.Lock()
	c.failing = n
	c.mu.Unlock()
}

func (c *pipeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *pipeConn) write(lines ...string) {
	for _, l := range lines {
		c.in <- l + "\n"
	}
}

func (c *pipeConn) output() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// expect waits for want to appear after the last matched line.
func (c *pipeConn) expect(t *testing.T, want string) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for i := c.cursor; i < len(c.lines); i++ {
			if c.lines[i] == want {
				c.cursor = i + 1
				c.mu.Unlock()
				return
			}
		}
		c.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("%s: line %q not received; got:\n%s", c.name, want, strings.Join(c.output(), "\n"))
}

// settle waits until no new output arrives for a short while.
func (c *pipeConn) settle() {
	last := -1
	for i := 0; i < 50; i++ {
		n := len(c.output())
		if n == last {
			return
		}
		last = n
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *pipeConn) count(want string) int {
	n := 0
	for _, l := range c.output() {
		if l == want {
			n++
		}
	}
	return n
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	dir   *core.Directory
	rooms *core.Rooms
	pairs *core.PairingTable
	disp  *Dispatcher
	wg    sync.WaitGroup
}

func newHarness(t *testing.T, games GameLauncher) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	dir := core.NewDirectory()
	rooms := core.NewRooms(core.RoomsOptions{IDs: []string{"1", "2", "3", "4"}})
	pairs := core.NewPairingTable(dir)
	h := &harness{
		t:     t,
		ctx:   ctx,
		dir:   dir,
		rooms: rooms,
		pairs: pairs,
		disp: NewDispatcher(Deps{
			Directory: dir,
			Rooms:     rooms,
			Pairs:     pairs,
			Games:     games,
		}),
	}
	t.Cleanup(func() {
		cancel()
		h.wg.Wait()
	})
	return h
}

func (h *harness) dial(label string) *pipeConn {
	c := newPipeConn(label)
	h.serve(c)
	return c
}

func (h *harness) serve(c Conn) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.disp.Serve(h.ctx, c, "test")
	}()
}

// slowCloseConn takes delay to close the first time, like a connection
// draining a backed up outbound queue.
type slowCloseConn struct {
	*pipeConn
	delay time.Duration
	once  sync.Once
}

func (c *slowCloseConn) Close() error {
	c.once.Do(func() { time.Sleep(c.delay) })
	return c.pipeConn.Close()
}

// login connects and claims name, leaving the session at the menu.
func (h *harness) login(name string) *pipeConn {
	h.t.Helper()
	c := h.dial(name)
	c.expect(h.t, "Welcome! Please enter a username:")
	c.write(name)
	c.expect(h.t, h.menuPrompt())
	return c
}

func (h *harness) menuPrompt() string {
	lines := proto.MenuLines(h.disp.deps.Games != nil)
	return lines[len(lines)-1]
}

func (h *harness) joinRoom(c *pipeConn, room string) {
	h.t.Helper()
	c.write("1")
	c.expect(h.t, "Enter chat room number (1-4):")
	c.write(room)
	c.expect(h.t, fmt.Sprintf("[%s] You:", room))
}

func (h *harness) waitOffline(name string) {
	h.t.Helper()
	require.Eventually(h.t, func() bool {
		_, ok := h.dir.Lookup(name)
		return !ok
	}, waitTimeout, 5*time.Millisecond)
}

// fakeGames is a GameLauncher whose games record input in memory.
type fakeGames struct {
	mu    sync.Mutex
	games []*fakeGame
}

func (f *fakeGames) Enabled() bool { return true }

func (f *fakeGames) Start(_ context.Context, _ string, out core.Sender, onExit func(error)) (game.Handle, error) {
	g := &fakeGame{out: out, onExit: onExit, done: make(chan struct{})}
	f.mu.Lock()
	f.games = append(f.games, g)
	f.mu.Unlock()
	_ = out.Send(core.Raw("You are standing in an open field."))
	return g, nil
}

func (f *fakeGames) last() *fakeGame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.games) == 0 {
		return nil
	}
	return f.games[len(f.games)-1]
}

type fakeGame struct {
	out    core.Sender
	onExit func(error)
	done   chan struct{}
	once   sync.Once

	mu     sync.Mutex
	inputs []string
}

func (g *fakeGame) Input(line string) error {
	g.mu.Lock()
	g.inputs = append(g.inputs, line)
	g.mu.Unlock()
	return g.out.Send(core.Raw("> " + line))
}

func (g *fakeGame) finish() {
	g.once.Do(func() {
		close(g.done)
		if g.onExit != nil {
			g.onExit(nil)
		}
	})
}

func (g *fakeGame) Stop() error {
	g.finish()
	return nil
}

func (g *fakeGame) Done() <-chan struct{} { return g.done }

func (g *fakeGame) received() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.inputs...)
}
