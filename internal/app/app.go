package app

import (
	"context"
	"errors"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/presence"
	"github.com/vovakirdan/doubtline/internal/stream"
	transporthttp "github.com/vovakirdan/doubtline/internal/transport/http"
)

// App wires together core and transport layers. Every component is built
// here and lives until Run returns.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	sweepInterval   time.Duration
	bus             *bus.Bus
	typing          *presence.Tracker
	hub             *core.Hub
	broker          *stream.Broker
	log             *zerolog.Logger

	// ends open push streams, which never go idle
	cancelRequests context.CancelFunc
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	eventBus := bus.New(logger)
	typing := presence.NewTracker(cfg.TypingWindow, nil)
	hub := core.NewHub(core.HubOptions{
		Bus:    eventBus,
		Typing: typing,
		Policy: core.RoutePolicy{
			EchoMessages: cfg.EchoMessages,
			EchoTyping:   cfg.EchoTyping,
		},
		StopTyping: cfg.StopTypingSignal,
		Logger:     logger,
	})
	broker := stream.NewBroker(eventBus, stream.Options{
		KeepAlive: cfg.KeepAliveInterval,
		Logger:    logger,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:      hub,
		Broker:   broker,
		Resolver: newResolver(cfg),
	}, cfg, logger)

	requests, cancelRequests := context.WithCancel(context.Background())
	server.BaseContext = func(net.Listener) context.Context { return requests }

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		sweepInterval:   cfg.TypingSweepInterval,
		bus:             eventBus,
		typing:          typing,
		hub:             hub,
		broker:          broker,
		log:             logger,
		cancelRequests:  cancelRequests,
	}, nil
}

func newResolver(cfg *config.Config) auth.Resolver {
	if cfg.JWTSecret == "" {
		return auth.GuestResolver{}
	}
	return &auth.JWTResolver{
		Config: &auth.JWTConfig{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		},
		Required: cfg.JWTRequired,
	}
}

// Bus exposes the event bus for in-process producers.
func (a *App) Bus() *bus.Bus { return a.bus }

// Handler exposes the HTTP routes, mainly for tests.
func (a *App) Handler() stdhttp.Handler { return a.server.Handler }

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)
	go a.typing.Run(hubCtx, a.sweepInterval)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		// Stopping the hub closes every client so websocket handlers return;
		// cancelling request contexts ends push streams.
		stopHub()
		a.cancelRequests()

		a.log.Info().Int("streams", a.broker.Open()).Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("graceful shutdown timed out, closing")
			_ = a.server.Close()
		}
		return <-serverErr
	}
}
