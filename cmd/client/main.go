package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
)

var (
	addr    string
	timeout time.Duration
)

func init() {
	rootCmd.Flags().StringVarP(&addr, "addr", "a", "localhost:65432", "server address, host:port for TCP or ws://host/ws for WebSocket")
	rootCmd.Flags().DurationVar(&timeout, "dial-timeout", 5*time.Second, "connect timeout")
}

var rootCmd = &cobra.Command{
	Use:          "linechat-client",
	Short:        "Interactive client for linechat-server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// link carries lines to and from the server.
type link interface {
	ReadLine(ctx context.Context) (string, error)
	WriteLine(ctx context.Context, line string) error
	Close() error
}

func run() error {
	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(baseCtx)
	defer cancel()

	l, err := dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer l.Close()

	go func() {
		defer cancel()
		readLoop(ctx, l)
	}()

	writeLoop(ctx, l)
	return nil
}

func dial(ctx context.Context, target string) (link, error) {
	dctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if strings.HasPrefix(target, "ws://") || strings.HasPrefix(target, "wss://") {
		conn, _, err := websocket.Dial(dctx, target, nil)
		if err != nil {
			return nil, err
		}
		return &wsLink{conn: conn}, nil
	}

	var d net.Dialer
	conn, err := d.DialContext(dctx, "tcp", target)
	if err != nil {
		return nil, err
	}
	return &tcpLink{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func readLoop(ctx context.Context, l link) {
	for {
		line, err := l.ReadLine(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				fmt.Println("Disconnected from server.")
				return
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				fmt.Println("Disconnected from server.")
				return
			}
			log.Printf("read error: %v", err)
			return
		}
		fmt.Println(line)
	}
}

func writeLoop(ctx context.Context, l link) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
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
			if err := l.WriteLine(ctx, line); err != nil {
				log.Printf("send error: %v", err)
				return
			}
		}
	}
}

type tcpLink struct {
	conn   net.Conn
	reader *bufio.Reader
}

func (t *tcpLink) ReadLine(ctx context.Context) (string, error) {
	line, err := t.reader.ReadString('\n')
	if err != nil {
		if line != "" && errors.Is(err, io.EOF) {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *tcpLink) WriteLine(ctx context.Context, line string) error {
	_, err := t.conn.Write([]byte(line + "\n"))
	return err
}

func (t *tcpLink) Close() error {
	return t.conn.Close()
}

type wsLink struct {
	conn *websocket.Conn
}

func (w *wsLink) ReadLine(ctx context.Context) (string, error) {
	_, data, err := w.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *wsLink) WriteLine(ctx context.Context, line string) error {
	return w.conn.Write(ctx, websocket.MessageText, []byte(line))
}

func (w *wsLink) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "bye")
}
