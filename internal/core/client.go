package core

import (
	"sync"

	"github.com/vovakirdan/doubtline/internal/bus"
)

const defaultBuffer = 32

// Client is a connection as seen by the core layer.
type Client struct {
	ID       string
	UserID   string
	Name     string
	Commands chan *Command
	Events   chan *Event

	done      chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	subs map[string]*bus.Subscription
}

// NewClient constructs a client with initialized channels. userID is the
// sender identity used for typing and message attribution; it defaults to id.
func NewClient(id, userID, name string, buffer int) *Client {
	if userID == "" {
		userID = id
	}
	if name == "" {
		name = userID
	}
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	c := &Client{
		ID:       id,
		UserID:   userID,
		Name:     name,
		Commands: make(chan *Command, buffer),
		Events:   make(chan *Event, buffer),
		done:     make(chan struct{}),
		subs:     make(map[string]*bus.Subscription),
	}
	return c
}

// Deliver queues ev without blocking. It returns false when the client is
// closed or its buffer is full; the event is dropped in both cases.
func (c *Client) Deliver(ev *Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Events <- ev:
		return true
	default:
		return false
	}
}

// Done is closed once the client has been unregistered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Close marks the client as gone. Events is left open so late deliveries
// never panic; they are simply refused.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Subscriptions returns the channels the client currently listens on.
func (c *Client) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func (c *Client) addSubscription(channel string, sub *bus.Subscription) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.subs[channel]; exists {
		return false
	}
	c.subs[channel] = sub
	return true
}

func (c *Client) removeSubscription(channel string) *bus.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	sub := c.subs[channel]
	delete(c.subs, channel)
	return sub
}

func (c *Client) drainSubscriptions() []*bus.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*bus.Subscription, 0, len(c.subs))
	for ch, sub := range c.subs {
		out = append(out, sub)
		delete(c.subs, ch)
	}
	return out
}
