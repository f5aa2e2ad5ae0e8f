package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/proto"
	"github.com/vovakirdan/doubtline/internal/utils"
)

// WSOptions tunes per-connection limits.
type WSOptions struct {
	ReadLimit    int64
	Buffer       int
	InboundRate  float64
	InboundBurst int
}

// WSHandler upgrades HTTP connections and bridges them to core.Client.
type WSHandler struct {
	hub      *core.Hub
	resolver auth.Resolver
	opts     WSOptions
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(hub *core.Hub, resolver auth.Resolver, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{hub: hub, resolver: resolver, opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := h.resolver.Resolve(r)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws identity rejected")
		stdhttp.Error(w, "unauthorized", stdhttp.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")
	if h.opts.ReadLimit > 0 {
		conn.SetReadLimit(h.opts.ReadLimit)
	}

	client := newClient(identity, h.opts.Buffer)
	if !h.hub.RegisterClient(client) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	// Transport-level close always triggers full cleanup, whatever the cause.
	defer h.hub.UnregisterClient(client)

	h.log.Info().Str("client_id", client.ID).Str("user", client.UserID).Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("client_id", client.ID).Msg("ws connection closed with error")
		}
	}

	h.log.Info().Str("client_id", client.ID).Msg("ws disconnected")
	conn.Close(status, reason)
}

func newClient(identity *auth.Identity, buffer int) *core.Client {
	id := utils.NewID()
	if identity == nil {
		return core.NewClient(id, "guest-"+id[:8], "guest", buffer)
	}
	return core.NewClient(id, identity.ID, identity.DisplayName, buffer)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	limiter := newInboundLimiter(h.opts.InboundRate, h.opts.InboundBurst)

	for {
		var inbound proto.Inbound
		if err := wsjson.Read(ctx, conn, &inbound); err != nil {
			h.log.Debug().Err(err).Str("client_id", client.ID).Msg("read ws inbound")
			return err
		}

		if !limiter.allow() {
			client.Deliver(&core.Event{Kind: core.EventError, Error: &core.CoreError{
				Code:    core.ErrCodeRateLimited,
				Message: "slow down",
			}})
			continue
		}

		cmd, protoErr := inboundToCommand(inbound)
		if protoErr != nil {
			client.Deliver(&core.Event{Kind: core.EventError, Error: &core.CoreError{
				Code:    protoErr.Code,
				Message: protoErr.Msg,
			}})
			continue
		}

		select {
		case client.Commands <- cmd:
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Client) error {
	for {
		select {
		case event := <-client.Events:
			if event == nil {
				continue
			}
			out, err := outboundFromEvent(event)
			if err != nil {
				h.log.Warn().Err(err).Str("client_id", client.ID).Msg("map ws event")
				continue
			}
			if err := wsjson.Write(ctx, conn, out); err != nil {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("write ws event")
				return err
			}
		case <-client.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
