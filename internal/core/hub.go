package core

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/metrics"
	"github.com/vovakirdan/doubtline/internal/presence"
	"github.com/vovakirdan/doubtline/internal/utils"
)

// HubOptions configures a Hub. Zero values get working defaults.
type HubOptions struct {
	Bus        *bus.Bus
	Typing     *presence.Tracker
	Policy     RoutePolicy
	StopTyping bool
	Logger     *zerolog.Logger
}

// Hub consumes client commands and applies them to the room registry,
// the typing tracker and the event bus.
type Hub struct {
	registry   *Registry
	typing     *presence.Tracker
	bus        *bus.Bus
	stopTyping bool
	log        *zerolog.Logger

	register chan *Client
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewHub creates a hub. Call Run before registering clients.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(opts.Logger)
	}
	if opts.Typing == nil {
		opts.Typing = presence.NewTracker(0, nil)
	}
	return &Hub{
		registry:   NewRegistry(opts.Policy),
		typing:     opts.Typing,
		bus:        opts.Bus,
		stopTyping: opts.StopTyping,
		log:        opts.Logger,
		register:   make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Registry exposes room membership.
func (h *Hub) Registry() *Registry { return h.registry }

// Typing exposes the typing tracker.
func (h *Hub) Typing() *presence.Tracker { return h.typing }

// Bus exposes the event bus.
func (h *Hub) Bus() *bus.Bus { return h.bus }

// Run serves registered clients until ctx is done, then unregisters them.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.wg.Wait()
			return
		case c := <-h.register:
			h.wg.Add(1)
			go func() {
				defer h.wg.Done()
				h.serveClient(ctx, c)
			}()
		}
	}
}

// RegisterClient makes c addressable and starts consuming its commands.
// It returns false if the hub has stopped.
func (h *Hub) RegisterClient(c *Client) bool {
	h.registry.Add(c)
	select {
	case h.register <- c:
		metrics.WSConnections.Inc()
		h.log.Debug().Str("client_id", c.ID).Str("user", c.UserID).Msg("client registered")
		return true
	case <-h.done:
		h.registry.Remove(c.ID)
		return false
	}
}

// UnregisterClient removes c from every room, drops its typing state and
// unsubscribes every bus listener it owns. Safe to call more than once.
func (h *Hub) UnregisterClient(c *Client) {
	rooms, known := h.registry.Remove(c.ID)
	for _, sub := range c.drainSubscriptions() {
		sub.Unsubscribe()
	}
	c.Close()
	if !known {
		return
	}

	for _, room := range rooms {
		h.clearTyping(c, room)
		h.registry.Route(room, c.ID, &Event{Kind: EventUserLeft, Room: room, UserID: c.UserID, User: c.Name})
	}
	metrics.WSConnections.Dec()
	h.log.Debug().Str("client_id", c.ID).Strs("rooms", rooms).Msg("client unregistered")
}

func (h *Hub) serveClient(ctx context.Context, c *Client) {
	defer h.UnregisterClient(c)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			return
		case cmd, ok := <-c.Commands:
			if !ok {
				return
			}
			if cmd != nil {
				h.handle(c, cmd)
			}
		}
	}
}

func (h *Hub) handle(c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(c, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeave(c, cmd.Room)
	case CommandSendRoomMessage:
		h.handleMessage(c, cmd)
	case CommandTyping:
		h.handleTyping(c, cmd.Room)
	case CommandStopTyping:
		h.handleStopTyping(c, cmd.Room)
	case CommandSubscribe:
		h.handleSubscribe(c, cmd.Channel)
	case CommandUnsubscribe:
		h.handleUnsubscribe(c, cmd.Channel)
	default:
		h.sendError(c, coreError(ErrCodeBadRequest, "unknown command"))
	}
}

func (h *Hub) handleJoin(c *Client, room string) {
	added, err := h.registry.Join(c.ID, room)
	if err != nil {
		h.log.Warn().Err(err).Str("client_id", c.ID).Str("room", room).Msg("join failed")
		return
	}
	if !added {
		return
	}
	h.log.Debug().Str("client_id", c.ID).Str("room", room).Msg("joined room")
	h.registry.Route(room, c.ID, &Event{Kind: EventUserJoined, Room: room, UserID: c.UserID, User: c.Name})
}

func (h *Hub) handleLeave(c *Client, room string) {
	if !h.registry.Leave(c.ID, room) {
		return
	}
	h.clearTyping(c, room)
	h.log.Debug().Str("client_id", c.ID).Str("room", room).Msg("left room")
	h.registry.Route(room, c.ID, &Event{Kind: EventUserLeft, Room: room, UserID: c.UserID, User: c.Name})
}

// clearTyping drops c's typing state in room unless another connection of
// the same user is still there.
func (h *Hub) clearTyping(c *Client, room string) {
	if h.registry.UserInRoom(c.UserID, room) {
		return
	}
	h.typing.Clear(room, c.UserID)
}

func (h *Hub) handleMessage(c *Client, cmd *Command) {
	if !h.registry.IsMember(c.ID, cmd.Room) {
		h.sendError(c, coreError(ErrCodeNotInRoom, "join the room before sending"))
		return
	}

	msg := cmd.Message
	msg.ID = utils.NewID()
	msg.Room = cmd.Room
	msg.SenderID = c.UserID
	msg.Sender = c.Name
	msg.SentAt = time.Now().UTC()

	h.registry.Route(cmd.Room, c.ID, &Event{Kind: EventRoomMessage, Room: cmd.Room, UserID: c.UserID, User: c.Name, Message: msg})
}

func (h *Hub) handleTyping(c *Client, room string) {
	if !h.registry.IsMember(c.ID, room) {
		h.sendError(c, coreError(ErrCodeNotInRoom, "join the room before typing"))
		return
	}
	h.typing.MarkTyping(room, c.UserID)
	h.registry.Route(room, c.ID, &Event{Kind: EventUserTyping, Room: room, UserID: c.UserID, User: c.Name})
}

func (h *Hub) handleStopTyping(c *Client, room string) {
	// With the explicit signal disabled, passive expiry is the only removal path.
	if !h.stopTyping {
		return
	}
	if !h.typing.Clear(room, c.UserID) {
		return
	}
	h.registry.Route(room, c.ID, &Event{Kind: EventUserStoppedTyping, Room: room, UserID: c.UserID, User: c.Name})
}

func (h *Hub) handleSubscribe(c *Client, channel string) {
	for _, existing := range c.Subscriptions() {
		if existing == channel {
			return
		}
	}

	sub := h.bus.Subscribe(channel, func(name string, ev bus.Event) {
		app := ev
		if !c.Deliver(&Event{Kind: EventChannel, Channel: name, App: &app}) {
			metrics.Deliveries.WithLabelValues(EventChannel.String(), "dropped").Inc()
			return
		}
		metrics.Deliveries.WithLabelValues(EventChannel.String(), "delivered").Inc()
	})
	if !c.addSubscription(channel, sub) {
		sub.Unsubscribe()
		return
	}

	// The client may have been unregistered while we subscribed.
	select {
	case <-c.Done():
		if s := c.removeSubscription(channel); s != nil {
			s.Unsubscribe()
		}
	default:
	}
}

func (h *Hub) handleUnsubscribe(c *Client, channel string) {
	sub := c.removeSubscription(channel)
	if sub == nil {
		h.sendError(c, coreError(ErrCodeNotSubscribed, "not subscribed to "+channel))
		return
	}
	sub.Unsubscribe()
}

func (h *Hub) sendError(c *Client, err *CoreError) {
	c.Deliver(&Event{Kind: EventError, Error: err})
}
