// Package game runs the optional text adventure as a child process whose
// stdout is relayed to a connection and whose stdin is fed from it.
package game

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/proto"
)

// DefaultStopTimeout is how long a child gets between SIGTERM and SIGKILL.
const DefaultStopTimeout = 5 * time.Second

// ErrNotConfigured is returned by Start when no game command is set.
var ErrNotConfigured = errors.New("game not configured")

// Config describes the child process.
type Config struct {
	Command     string
	Args        []string
	Dir         string
	StopTimeout time.Duration
}

// Handle controls a running game.
type Handle interface {
	// Input writes one line to the child's stdin.
	Input(line string) error
	// Stop terminates the child, forcing it after the stop timeout, and
	// waits for it to exit.
	Stop() error
	// Done is closed once the child has exited and its output is drained.
	Done() <-chan struct{}
}

// Launcher starts games for sessions.
type Launcher struct {
	cfg Config
	log *zerolog.Logger
}

// NewLauncher returns a launcher for cfg.
func NewLauncher(cfg Config, logger *zerolog.Logger) *Launcher {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Launcher{cfg: cfg, log: logger}
}

// Enabled reports whether a game command is configured.
func (l *Launcher) Enabled() bool {
	return l != nil && l.cfg.Command != ""
}

// Start launches the child for player. Output lines are sent to out as raw
// lines; onExit, if set, runs once after the child exits.
func (l *Launcher) Start(ctx context.Context, player string, out core.Sender, onExit func(error)) (Handle, error) {
	if !l.Enabled() {
		return nil, ErrNotConfigured
	}

	gctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(gctx, l.cfg.Command, l.cfg.Args...)
	cmd.Dir = l.cfg.Dir
	cmd.Env = os.Environ()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = l.cfg.StopTimeout

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("start game: %w", err)
	}

	p := &process{
		cmd:     cmd,
		stdin:   stdin,
		cancel:  cancel,
		done:    make(chan struct{}),
		timeout: l.cfg.StopTimeout,
	}
	log := l.log.With().Str("user", player).Int("pid", cmd.Process.Pid).Logger()
	log.Info().Msg("game started")

	go p.run(stdout, out, func(err error) {
		if err != nil && gctx.Err() == nil {
			log.Warn().Err(err).Msg("game exited with error")
		} else {
			log.Info().Msg("game ended")
		}
		if onExit != nil {
			onExit(err)
		}
	})
	return p, nil
}

type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	done    chan struct{}
	timeout time.Duration

	mu       sync.Mutex
	err      error
	stopOnce sync.Once
}

func (p *process) run(stdout io.Reader, out core.Sender, onExit func(error)) {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if err := out.Send(core.Raw(scanner.Text())); err != nil {
			p.cancel()
			break
		}
	}
	// Drain so the child never blocks on a full pipe while being stopped.
	_, _ = io.Copy(io.Discard, stdout)

	err := p.cmd.Wait()
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.cancel()
	close(p.done)
	onExit(err)
}

func (p *process) Input(line string) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("game input: %w", err)
	}
	return nil
}

func (p *process) Stop() error {
	p.stopOnce.Do(func() {
		_ = p.stdin.Close()
		p.cancel()
	})
	select {
	case <-p.done:
	case <-time.After(p.timeout + time.Second):
		return fmt.Errorf("game did not exit within %s", p.timeout)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *process) Done() <-chan struct{} {
	return p.done
}

// EndedLine is sent to the player when the game is over.
func EndedLine(player string) core.Message {
	return core.System(proto.TagTextAdventure, fmt.Sprintf("Game ended for %s.", player))
}
