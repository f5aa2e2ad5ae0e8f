package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/vovakirdan/doubtline/internal/proto"
)

// StreamDialer opens the one-way push stream as a degraded fallback.
// Bus events arrive as "event" outbounds; nothing can be sent.
type StreamDialer struct {
	URL    string
	Token  string
	Client *http.Client
}

// Name implements Dialer.
func (d *StreamDialer) Name() string { return "stream" }

// Dial implements Dialer.
func (d *StreamDialer) Dial(ctx context.Context) (Conn, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.URL, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	hc := d.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream %s: %w", d.URL, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream %s: status %d", d.URL, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("open stream %s: unexpected content type %q", d.URL, ct)
	}

	sc := &streamConn{
		body:   resp.Body,
		cancel: cancel,
		frames: make(chan proto.Frame, 16),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go sc.read()
	return sc, nil
}

type streamConn struct {
	body      io.ReadCloser
	cancel    context.CancelFunc
	frames    chan proto.Frame
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	err       error
}

func (c *streamConn) read() {
	err := proto.ReadFrames(c.body, func(f proto.Frame) error {
		select {
		case c.frames <- f:
			return nil
		case <-c.closed:
			return ErrClosed
		}
	})
	if err == nil {
		err = ErrClosed
	}
	c.err = err
	close(c.done)
}

func (c *streamConn) Duplex() bool { return false }

func (c *streamConn) Send(context.Context, proto.Inbound) error { return ErrReceiveOnly }

// Receive returns the next message frame as an "event" outbound. Hello and
// keep-alive frames are consumed silently.
func (c *streamConn) Receive(ctx context.Context) (proto.Outbound, error) {
	for {
		var f proto.Frame
		select {
		case <-ctx.Done():
			return proto.Outbound{}, ctx.Err()
		case f = <-c.frames:
		case <-c.done:
			select {
			case f = <-c.frames:
			default:
				return proto.Outbound{}, c.err
			}
		}
		if f.Type != proto.FrameMessage {
			continue
		}
		return proto.NewOutbound(proto.OutboundTypeEvent, proto.ChannelEvent{
			Channel: f.Channel,
			Kind:    f.Kind,
			Payload: f.Payload,
		})
	}
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.cancel()
		err = c.body.Close()
	})
	return err
}
