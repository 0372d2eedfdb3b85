package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/linechat-server/internal/app"
	"github.com/vovakirdan/linechat-server/internal/config"
	applog "github.com/vovakirdan/linechat-server/internal/log"
)

var (
	configPath string
	host       string
	port       int
	httpAddr   string
	dbPath     string
	logLevel   string
	gameCmd    string
	noConsole  bool

	version = "dev"
	commit  = "none"
)

func init() {
	rootCmd.Version = fmt.Sprintf("%s (%s)", version, commit)
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	rootCmd.Flags().StringVar(&host, "host", "", "TCP listen host")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "TCP listen port")
	rootCmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP/WebSocket listen address, empty disables it")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite path for room history, empty keeps history in memory")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.Flags().StringVar(&gameCmd, "game", "", "text adventure command, empty hides the game")
	rootCmd.Flags().BoolVar(&noConsole, "no-console", false, "do not read commands from stdin")
}

var rootCmd = &cobra.Command{
	Use:          "linechat-server",
	Short:        "Multi-room line chat server",
	Long:         `linechat-server serves chat rooms and private messages over plain TCP lines and WebSocket`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command) error {
	boot := applog.New("info")

	cfg, resolved, err := config.Load(boot, configPath)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(flagOverrides(cmd, cfg))

	logs := applog.Setup(cfg.Log.Level,
		applog.FileOptions{Path: cfg.Log.File, MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups, MaxAgeDays: cfg.Log.MaxAgeDays},
		applog.FileOptions{Path: cfg.Log.ActivityFile, MaxSizeMB: cfg.Log.MaxSizeMB, MaxBackups: cfg.Log.MaxBackups, MaxAgeDays: cfg.Log.MaxAgeDays},
	)
	defer logs.Close()
	logger := logs.Main

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	application, err := app.New(cfg, logs)
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize app")
		return err
	}
	if noConsole {
		application.Console = nil
	}

	logger.Info().
		Str("config", resolved).
		Str("tcp_addr", cfg.TCPAddr).
		Str("http_addr", cfg.HTTPAddr).
		Strs("rooms", cfg.Rooms).
		Msg("starting linechat server")
	if err := application.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("server exited with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// flagOverrides collects the flags set on the command line.
func flagOverrides(cmd *cobra.Command, cfg config.Config) config.Config {
	var out config.Config
	flags := cmd.Flags()
	if flags.Changed("host") || flags.Changed("port") {
		h, p, err := net.SplitHostPort(cfg.TCPAddr)
		if err != nil {
			h, p, _ = net.SplitHostPort(config.Default().TCPAddr)
		}
		if flags.Changed("host") {
			h = host
		}
		if flags.Changed("port") {
			p = strconv.Itoa(port)
		}
		out.TCPAddr = net.JoinHostPort(h, p)
	}
	if flags.Changed("http-addr") {
		out.HTTPAddr = httpAddr
	}
	if flags.Changed("db") {
		out.DatabasePath = dbPath
	}
	if flags.Changed("log-level") {
		out.Log.Level = logLevel
	}
	if flags.Changed("game") {
		out.Game.Command = gameCmd
	}
	return out
}
