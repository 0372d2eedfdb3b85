package app

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/proto"
)

// runConsole reads operator commands from r until ctx is done. Typing
// "exit" calls stop. Reading happens on its own goroutine since a blocked
// read on stdin cannot be interrupted.
func runConsole(ctx context.Context, r io.Reader, stop context.CancelFunc, logger *zerolog.Logger) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			cmd := strings.TrimSpace(line)
			switch {
			case cmd == "":
			case proto.Is(cmd, proto.WordExit):
				logger.Info().Msg("exit requested from console")
				stop()
				return
			default:
				logger.Info().Str("command", cmd).Msg("unknown console command, type exit to stop the server")
			}
		}
	}
}
