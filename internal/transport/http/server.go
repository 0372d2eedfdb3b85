package http

import (
	stdhttp "net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/linechat-server/internal/core"
	"github.com/vovakirdan/linechat-server/internal/metrics"
	"github.com/vovakirdan/linechat-server/internal/session"
	"github.com/vovakirdan/linechat-server/internal/store"
)

// Config holds the HTTP listener settings.
type Config struct {
	Addr              string
	ReadHeaderTimeout time.Duration
	WS                WSOptions
}

// Deps are the components the HTTP surface reads from.
type Deps struct {
	Dispatcher *session.Dispatcher
	Directory  *core.Directory
	Rooms      *core.Rooms
	// Store is optional; without it history comes from memory only.
	Store store.MessageStore
	// Metrics is optional; without it /metrics is not served.
	Metrics *metrics.Metrics
}

// NewServer builds the admin API and WebSocket endpoint.
func NewServer(deps Deps, cfg Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers every route on a gin engine.
func NewRouter(deps Deps, cfg Config, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := NewAPIHandlers(deps, logger)
	router.GET("/health", api.Health)

	group := router.Group("/api")
	group.GET("/online", api.Online)
	group.GET("/rooms", api.ListRooms)
	group.GET("/rooms/:id/history", api.RoomHistory)

	router.GET("/ws", gin.WrapH(NewWSHandler(deps.Dispatcher, cfg.WS, logger)))
	return router
}
