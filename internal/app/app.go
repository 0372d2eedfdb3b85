package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/linechat-server/internal/config"
	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/game"
	applog "github.com/vovakirdan/linechat-server/internal/log"
	"github.com/vovakirdan/linechat-server/internal/metrics"
	"github.com/vovakirdan/linechat-server/internal/session"
	"github.com/vovakirdan/linechat-server/internal/store"
	"github.com/vovakirdan/linechat-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/linechat-server/internal/transport/http"
	"github.com/vovakirdan/linechat-server/internal/transport/tcp"
)

// App wires together core and transport layers.
type App struct {
	cfg config.Config
	log *zerolog.Logger

	directory *core.Directory
	rooms     *core.Rooms
	pairs     *core.PairingTable
	store     store.Store
	metrics   *metrics.Metrics
	disp      *session.Dispatcher

	tcp  *tcp.Server
	http *stdhttp.Server

	// Console is read for operator commands; nil disables it.
	Console io.Reader
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logs *applog.Loggers) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logs.Main

	a := &App{
		cfg:       cfg,
		log:       logger,
		directory: core.NewDirectory(),
		metrics:   metrics.New(),
		Console:   os.Stdin,
	}

	var history core.HistoryStore
	if cfg.DatabasePath != "" {
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")
		a.store = st
		history = store.NewHistory(st)
	}

	a.rooms = core.NewRooms(core.RoomsOptions{
		IDs:         cfg.Rooms,
		AllowCreate: cfg.AllowRoomCreation,
		HistoryCap:  cfg.HistoryCap,
		ReplayLimit: cfg.ReplayLimit,
		Store:       history,
		Logger:      logger,
	})
	a.pairs = core.NewPairingTable(a.directory)

	deps := session.Deps{
		Directory: a.directory,
		Rooms:     a.rooms,
		Pairs:     a.pairs,
		Observer:  a.metrics,
		Log:       logger,
		Activity:  logs.Activity,
	}
	launcher := game.NewLauncher(game.Config{
		Command:     cfg.Game.Command,
		Args:        cfg.Game.Args,
		Dir:         cfg.Game.Dir,
		StopTimeout: cfg.Game.StopTimeout,
	}, logger)
	if launcher.Enabled() {
		deps.Games = launcher
		logger.Info().Str("command", cfg.Game.Command).Msg("text adventure enabled")
	}
	a.disp = session.NewDispatcher(deps)

	a.metrics.RegisterGauge("names_online", "Names currently claimed.", func() float64 { return float64(a.directory.Count()) })
	a.metrics.RegisterGauge("pairs_active", "Private chat pairs.", func() float64 { return float64(a.pairs.Pairs()) })
	a.metrics.RegisterGauge("sessions_live", "Sessions owned by the dispatcher.", func() float64 { return float64(a.disp.Live()) })

	if cfg.TCPAddr != "" {
		a.tcp = tcp.NewServer(a.disp, tcp.Options{
			MaxLineBytes:  cfg.MaxLineBytes,
			OutboundQueue: cfg.OutboundQueue,
			WriteTimeout:  cfg.WriteTimeout,
			IdleTimeout:   cfg.IdleTimeout,
		}, logger)
	}
	if cfg.HTTPAddr != "" {
		httpDeps := transporthttp.Deps{
			Dispatcher: a.disp,
			Directory:  a.directory,
			Rooms:      a.rooms,
			Metrics:    a.metrics,
		}
		if a.store != nil {
			httpDeps.Store = a.store
		}
		a.http = transporthttp.NewServer(httpDeps, transporthttp.Config{
			Addr:              cfg.HTTPAddr,
			ReadHeaderTimeout: cfg.ReadHeaderTimeout,
			WS: transporthttp.WSOptions{
				MaxLineBytes:   cfg.MaxLineBytes,
				OutboundQueue:  cfg.OutboundQueue,
				WriteTimeout:   cfg.WriteTimeout,
				LinesPerMinute: cfg.WSLinesPerMinute,
			},
		}, logger)
	}

	return a, nil
}

// Dispatcher exposes the session dispatcher.
func (a *App) Dispatcher() *session.Dispatcher {
	return a.disp
}

// Run restores history, starts every listener and blocks until ctx is
// cancelled, the console asks to exit or a listener fails.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.restoreHistory(ctx)

	g, gctx := errgroup.WithContext(ctx)

	if a.tcp != nil {
		g.Go(func() error {
			return a.tcp.ListenAndServe(gctx, a.cfg.TCPAddr)
		})
	}

	if a.http != nil {
		g.Go(func() error {
			a.log.Info().Str("addr", a.http.Addr).Msg("http server listening")
			if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
			defer shutdownCancel()
			a.log.Info().Msg("shutting down http server")
			return a.http.Shutdown(shutdownCtx)
		})
	}

	if a.Console != nil {
		g.Go(func() error {
			runConsole(gctx, a.Console, cancel, a.log)
			return nil
		})
	}

	err := g.Wait()
	a.shutdown()
	return err
}

func (a *App) restoreHistory(ctx context.Context) {
	if a.store == nil {
		return
	}
	summaries, err := a.store.ListRoomSummaries(ctx)
	if err != nil {
		a.log.Warn().Err(err).Msg("failed to list stored rooms")
	}
	for _, s := range summaries {
		if s.Messages > a.cfg.HistoryCap && a.cfg.HistoryCap > 0 {
			n, err := a.store.PruneMessages(ctx, s.Room, a.cfg.HistoryCap)
			if err != nil {
				a.log.Warn().Err(err).Str("room", s.Room).Msg("failed to prune history")
			} else {
				a.log.Debug().Str("room", s.Room).Int64("pruned", n).Msg("history pruned")
			}
		}
	}

	a.rooms.Preload(ctx)
	if !a.rooms.AllowCreate() {
		return
	}
	// Rooms created at runtime before a restart come back with their history.
	for _, s := range summaries {
		if _, err := a.rooms.Open(ctx, s.Room); err != nil {
			a.log.Warn().Err(err).Str("room", s.Room).Msg("skipping stored room")
		}
	}
}

func (a *App) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	start := time.Now()
	if err := a.disp.Shutdown(ctx); err != nil {
		a.log.Warn().Err(err).Int("sessions", a.disp.Live()).Msg("sessions did not finish before shutdown timeout")
	} else if a.tcp != nil {
		a.tcp.Wait()
	}
	a.log.Info().Dur("elapsed", time.Since(start)).Msg("client connections closed")

	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
