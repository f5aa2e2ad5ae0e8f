package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/proto"
)

const (
	DefaultMaxAttempts  = 50
	DefaultBaseDelay    = time.Second
	DefaultMultiplier   = 2
	DefaultWriteTimeout = 5 * time.Second
)

var (
	// ErrFailed is returned by Connect once reconnection has been exhausted.
	ErrFailed = errors.New("reconnect attempts exhausted")
	// ErrNoDialers is returned by New when no transport is configured.
	ErrNoDialers = errors.New("no dialers configured")
)

// Config configures a Manager.
type Config struct {
	// Dialers in preference order, usually websocket then stream fallback.
	Dialers      []Dialer
	MaxAttempts  int
	Backoff      Backoff
	WriteTimeout time.Duration
	Clock        clock.Clock
	Logger       *zerolog.Logger
}

// Manager owns one persistent connection to the realtime server. It
// reconnects with exponential backoff and rejoins its rooms afterwards.
type Manager struct {
	dialers      []Dialer
	maxAttempts  int
	backoff      Backoff
	writeTimeout time.Duration
	clock        clock.Clock
	logger       *zerolog.Logger

	mu       sync.Mutex
	state    State
	attempt  int
	gen      uint64
	ctx      context.Context
	conn     Conn
	via      string
	stopRecv context.CancelFunc
	timer    *clock.Timer
	seq      uint64
	rooms    map[string]struct{}
	channels map[string]struct{}

	hmu        sync.RWMutex
	onMessage  []func(proto.NewMessage)
	onTyping   []func(ev proto.UserTyping, active bool)
	onPresence []func(ev proto.UserPresence, joined bool)
	onEvent    []func(proto.ChannelEvent)
	onState    []func(State)
}

// New builds a Manager in the Disconnected state. Call Connect to start.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Dialers) == 0 {
		return nil, ErrNoDialers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff.Base = DefaultBaseDelay
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = DefaultMultiplier
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		nop := zerolog.Nop()
		cfg.Logger = &nop
	}

	return &Manager{
		dialers:      cfg.Dialers,
		maxAttempts:  cfg.MaxAttempts,
		backoff:      cfg.Backoff,
		writeTimeout: cfg.WriteTimeout,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		state:        Disconnected,
		ctx:          context.Background(),
		rooms:        make(map[string]struct{}),
		channels:     make(map[string]struct{}),
	}, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Attempt returns the current reconnect attempt counter.
func (m *Manager) Attempt() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempt
}

// Transport names the dialer behind the live connection, or "" when offline.
func (m *Manager) Transport() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.via
}

// Rooms returns the rooms this manager considers itself a member of.
func (m *Manager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.rooms)
}

// Connect starts connecting in the background. ctx bounds every future
// dial and receive; cancelling it stops the manager without a retry.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case Failed:
		m.mu.Unlock()
		return ErrFailed
	case Connecting, Connected, Reconnecting:
		m.mu.Unlock()
		return nil
	}
	m.ctx = ctx
	m.gen++
	gen := m.gen
	m.state = Connecting
	m.mu.Unlock()

	m.emitState(Connecting)
	go m.dial(gen)
	return nil
}

// Disconnect closes the connection and cancels any pending retry. Room
// membership is kept so a later Connect rejoins.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	conn := m.detachLocked()
	changed := m.state != Disconnected && m.state != Failed
	if changed {
		m.state = Disconnected
	}
	m.attempt = 0
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if changed {
		m.emitState(Disconnected)
	}
}

// JoinRoom records membership and sends join_room when connected.
func (m *Manager) JoinRoom(room string) {
	if room == "" {
		return
	}
	m.mu.Lock()
	m.rooms[room] = struct{}{}
	conn := m.duplexLocked()
	m.mu.Unlock()

	m.sendOn(conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: room})
}

// LeaveRoom drops membership before returning; leave_room is sent if connected.
func (m *Manager) LeaveRoom(room string) {
	m.mu.Lock()
	_, ok := m.rooms[room]
	delete(m.rooms, room)
	conn := m.duplexLocked()
	m.mu.Unlock()

	if ok {
		m.sendOn(conn, proto.InboundTypeLeaveRoom, proto.RoomData{RoomKey: room})
	}
}

// Subscribe asks the server to forward bus events for channel over the duplex
// connection. Subscriptions are replayed after reconnect like rooms.
func (m *Manager) Subscribe(channel string) {
	if channel == "" {
		return
	}
	m.mu.Lock()
	m.channels[channel] = struct{}{}
	conn := m.duplexLocked()
	m.mu.Unlock()

	m.sendOn(conn, proto.InboundTypeSubscribe, proto.ChannelData{Channel: channel})
}

// Unsubscribe stops forwarding for channel.
func (m *Manager) Unsubscribe(channel string) {
	m.mu.Lock()
	_, ok := m.channels[channel]
	delete(m.channels, channel)
	conn := m.duplexLocked()
	m.mu.Unlock()

	if ok {
		m.sendOn(conn, proto.InboundTypeUnsubscribe, proto.ChannelData{Channel: channel})
	}
}

// Send writes a chat message to room. It returns false, without error, when
// there is no connected duplex transport or the write fails.
func (m *Manager) Send(room string, content any) bool {
	raw, err := json.Marshal(content)
	if err != nil {
		m.logger.Warn().Err(err).Str("room", room).Msg("encode message content")
		return false
	}

	m.mu.Lock()
	conn := m.duplexLocked()
	if conn == nil {
		m.mu.Unlock()
		return false
	}
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	return m.sendOn(conn, proto.InboundTypeSendMessage, proto.SendMessageData{
		RoomKey: room,
		Content: raw,
		Seq:     seq,
	})
}

// SendTyping is a fire-and-forget hint that the local user is typing in room.
func (m *Manager) SendTyping(room string) {
	m.mu.Lock()
	conn := m.duplexLocked()
	m.mu.Unlock()
	m.sendOn(conn, proto.InboundTypeTyping, proto.RoomData{RoomKey: room})
}

// StopTyping clears the typing hint early. Servers may ignore it and rely on expiry.
func (m *Manager) StopTyping(room string) {
	m.mu.Lock()
	conn := m.duplexLocked()
	m.mu.Unlock()
	m.sendOn(conn, proto.InboundTypeStopTyping, proto.RoomData{RoomKey: room})
}

// OnMessage registers a handler for new_message.
func (m *Manager) OnMessage(fn func(proto.NewMessage)) {
	m.hmu.Lock()
	m.onMessage = append(m.onMessage, fn)
	m.hmu.Unlock()
}

// OnTyping registers a handler for user_typing (active) and user_stopped_typing.
func (m *Manager) OnTyping(fn func(ev proto.UserTyping, active bool)) {
	m.hmu.Lock()
	m.onTyping = append(m.onTyping, fn)
	m.hmu.Unlock()
}

// OnPresence registers a handler for user_joined and user_left.
func (m *Manager) OnPresence(fn func(ev proto.UserPresence, joined bool)) {
	m.hmu.Lock()
	m.onPresence = append(m.onPresence, fn)
	m.hmu.Unlock()
}

// OnEvent registers a handler for application events from subscribed channels.
func (m *Manager) OnEvent(fn func(proto.ChannelEvent)) {
	m.hmu.Lock()
	m.onEvent = append(m.onEvent, fn)
	m.hmu.Unlock()
}

// OnStateChange registers a handler observing every state transition.
func (m *Manager) OnStateChange(fn func(State)) {
	m.hmu.Lock()
	m.onState = append(m.onState, fn)
	m.hmu.Unlock()
}

func (m *Manager) dial(gen uint64) {
	m.mu.Lock()
	ctx := m.ctx
	m.mu.Unlock()

	var errs []error
	for _, d := range m.dialers {
		if ctx.Err() != nil {
			break
		}
		conn, err := d.Dial(ctx)
		if err != nil {
			m.logger.Debug().Err(err).Str("transport", d.Name()).Msg("dial failed")
			errs = append(errs, err)
			continue
		}
		m.connected(gen, conn, d.Name())
		return
	}
	if err := ctx.Err(); err != nil {
		m.stopped(gen)
		return
	}
	m.failed(gen, errors.Join(errs...))
}

func (m *Manager) connected(gen uint64, conn Conn, transport string) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	recvCtx, stop := context.WithCancel(m.ctx)
	m.conn = conn
	m.via = transport
	m.stopRecv = stop
	m.state = Connected
	m.attempt = 0
	rooms := sortedKeys(m.rooms)
	channels := sortedKeys(m.channels)
	m.mu.Unlock()

	m.logger.Info().Str("transport", transport).Int("rooms", len(rooms)).Msg("connected")
	m.emitState(Connected)

	if conn.Duplex() {
		for _, room := range rooms {
			m.sendOn(conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: room})
		}
		for _, ch := range channels {
			m.sendOn(conn, proto.InboundTypeSubscribe, proto.ChannelData{Channel: ch})
		}
	}

	go m.receive(recvCtx, gen, conn)
}

func (m *Manager) receive(ctx context.Context, gen uint64, conn Conn) {
	for {
		out, err := conn.Receive(ctx)
		if err != nil {
			m.dropped(gen, err)
			return
		}
		m.dispatch(out)
	}
}

func (m *Manager) dropped(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	conn := m.detachLocked()
	if conn != nil {
		_ = conn.Close()
	}

	if m.ctx.Err() != nil {
		m.gen++
		m.state = Disconnected
		m.attempt = 0
		m.mu.Unlock()
		m.logger.Info().Err(err).Msg("connection closed")
		m.emitState(Disconnected)
		return
	}

	if errors.Is(err, ErrClosed) {
		m.logger.Info().Err(err).Msg("server closed connection")
	} else {
		m.logger.Warn().Err(err).Msg("connection dropped")
	}
	m.retryLocked(gen)
}

func (m *Manager) failed(gen uint64, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.logger.Warn().Err(err).Int("attempt", m.attempt+1).Msg("connect failed")
	m.retryLocked(gen)
}

func (m *Manager) stopped(gen uint64) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.gen++
	m.state = Disconnected
	m.mu.Unlock()
	m.emitState(Disconnected)
}

// retryLocked schedules the next attempt or gives up. It releases m.mu.
func (m *Manager) retryLocked(gen uint64) {
	m.attempt++
	if m.attempt > m.maxAttempts {
		m.gen++
		m.state = Failed
		attempts := m.attempt - 1
		m.mu.Unlock()
		m.logger.Error().Int("attempts", attempts).Msg("giving up reconnecting")
		m.emitState(Failed)
		return
	}

	delay := m.backoff.Delay(m.attempt)
	m.state = Reconnecting
	m.timer = m.clock.AfterFunc(delay, func() { m.redial(gen) })
	attempt := m.attempt
	m.mu.Unlock()

	m.logger.Debug().Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	m.emitState(Reconnecting)
}

func (m *Manager) redial(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Reconnecting {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = Connecting
	m.mu.Unlock()

	m.emitState(Connecting)
	m.dial(gen)
}

func (m *Manager) detachLocked() Conn {
	conn := m.conn
	m.conn = nil
	m.via = ""
	if m.stopRecv != nil {
		m.stopRecv()
		m.stopRecv = nil
	}
	return conn
}

func (m *Manager) duplexLocked() Conn {
	if m.state != Connected || m.conn == nil || !m.conn.Duplex() {
		return nil
	}
	return m.conn
}

func (m *Manager) sendOn(conn Conn, typ string, data any) bool {
	if conn == nil {
		return false
	}
	msg, err := proto.NewInbound(typ, data)
	if err != nil {
		m.logger.Warn().Err(err).Str("type", typ).Msg("encode inbound")
		return false
	}

	m.mu.Lock()
	base := m.ctx
	m.mu.Unlock()
	ctx, cancel := context.WithTimeout(base, m.writeTimeout)
	defer cancel()

	if err := conn.Send(ctx, msg); err != nil {
		m.logger.Debug().Err(err).Str("type", typ).Msg("send failed")
		return false
	}
	return true
}

// dispatch runs handlers outside hmu so a handler may register others.
func (m *Manager) dispatch(out proto.Outbound) {
	switch out.Type {
	case proto.OutboundTypeNewMessage:
		var msg proto.NewMessage
		if m.decode(out, &msg) {
			for _, fn := range handlers(&m.hmu, &m.onMessage) {
				fn(msg)
			}
		}
	case proto.OutboundTypeUserTyping, proto.OutboundTypeUserStopped:
		var ev proto.UserTyping
		if m.decode(out, &ev) {
			active := out.Type == proto.OutboundTypeUserTyping
			for _, fn := range handlers(&m.hmu, &m.onTyping) {
				fn(ev, active)
			}
		}
	case proto.OutboundTypeUserJoined, proto.OutboundTypeUserLeft:
		var ev proto.UserPresence
		if m.decode(out, &ev) {
			joined := out.Type == proto.OutboundTypeUserJoined
			for _, fn := range handlers(&m.hmu, &m.onPresence) {
				fn(ev, joined)
			}
		}
	case proto.OutboundTypeEvent:
		var ev proto.ChannelEvent
		if m.decode(out, &ev) {
			for _, fn := range handlers(&m.hmu, &m.onEvent) {
				fn(ev)
			}
		}
	case proto.OutboundTypeError:
		if out.Error != nil {
			m.logger.Warn().Str("code", out.Error.Code).Str("msg", out.Error.Msg).Msg("server error")
		}
	default:
		m.logger.Debug().Str("type", out.Type).Msg("unknown outbound type")
	}
}

func (m *Manager) decode(out proto.Outbound, v any) bool {
	if err := json.Unmarshal(out.Data, v); err != nil {
		m.logger.Warn().Err(fmt.Errorf("decode %s: %w", out.Type, err)).Msg("bad outbound")
		return false
	}
	return true
}

func (m *Manager) emitState(s State) {
	for _, fn := range handlers(&m.hmu, &m.onState) {
		fn(s)
	}
}

func handlers[T any](mu *sync.RWMutex, fns *[]T) []T {
	mu.RLock()
	defer mu.RUnlock()
	return slices.Clone(*fns)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
