package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/metrics"
	"github.com/vovakirdan/doubtline/internal/stream"
)

// Deps are the long-lived components the HTTP layer serves.
type Deps struct {
	Hub      *core.Hub
	Broker   *stream.Broker
	Resolver auth.Resolver
}

// NewServer builds an HTTP server with the realtime routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewHandler(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewHandler mounts the websocket endpoint on a plain mux, since the upgrade
// has to hijack the raw connection, and hands every other path to gin.
func NewHandler(deps Deps, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	if deps.Resolver == nil {
		deps.Resolver = auth.GuestResolver{}
	}

	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, deps.Resolver, WSOptions{
		ReadLimit:    cfg.MaxMessageBytes,
		Buffer:       cfg.ClientBuffer,
		InboundRate:  cfg.InboundRate,
		InboundBurst: cfg.InboundBurst,
	}, logger))
	mux.Handle("/", NewRouter(deps, logger))
	return mux
}

// NewRouter registers the stream and API routes on a fresh gin engine.
func NewRouter(deps Deps, logger *zerolog.Logger) *gin.Engine {
	if deps.Resolver == nil {
		deps.Resolver = auth.GuestResolver{}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	// The stream stays out of the duration histogram and request log.
	streams := NewStreamHandler(deps.Broker, deps.Resolver, logger)
	r.GET("/stream/:channel", streams.Serve)

	short := r.Group("/")
	short.Use(metrics.GinMiddleware(), LoggerMiddleware(logger))
	short.GET("/health", healthHandler)
	short.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := short.Group("/api")
	api.Use(IdentityMiddleware(deps.Resolver, logger))

	events := NewEventHandlers(deps.Hub.Bus(), logger)
	api.POST("/events/:name", events.Publish)

	rooms := NewRoomHandlers(deps.Hub, logger)
	api.GET("/rooms/:room", rooms.Get)

	return r
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
