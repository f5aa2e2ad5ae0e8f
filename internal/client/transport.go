package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/doubtline/internal/proto"
)

var (
	// ErrClosed is returned by Receive when the server ended the session
	// without a transport error. The manager still reconnects.
	ErrClosed = errors.New("connection closed")
	// ErrReceiveOnly is returned by Send on a one-way transport.
	ErrReceiveOnly = errors.New("transport is receive-only")
)

// Conn is one established transport session.
type Conn interface {
	Send(ctx context.Context, msg proto.Inbound) error
	Receive(ctx context.Context) (proto.Outbound, error)
	Close() error
	// Duplex reports whether Send is supported.
	Duplex() bool
}

// Dialer opens a Conn. Dialers are tried in preference order.
type Dialer interface {
	Name() string
	Dial(ctx context.Context) (Conn, error)
}

// WSDialer dials the duplex websocket endpoint.
type WSDialer struct {
	URL   string
	Token string
	// ReadLimit bounds a single inbound frame. Zero keeps the library default.
	ReadLimit int64
}

// Name implements Dialer.
func (d *WSDialer) Name() string { return "websocket" }

// Dial implements Dialer.
func (d *WSDialer) Dial(ctx context.Context) (Conn, error) {
	opts := &websocket.DialOptions{}
	if d.Token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + d.Token}}
	}

	c, resp, err := websocket.Dial(ctx, d.URL, opts)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.URL, err)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	return &wsConn{conn: c}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) Duplex() bool { return true }

func (c *wsConn) Send(ctx context.Context, msg proto.Inbound) error {
	return wsjson.Write(ctx, c.conn, msg)
}

func (c *wsConn) Receive(ctx context.Context) (proto.Outbound, error) {
	var out proto.Outbound
	if err := wsjson.Read(ctx, c.conn, &out); err != nil {
		if isCleanClose(err) {
			return out, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return out, err
	}
	return out, nil
}

func (c *wsConn) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func isCleanClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// StreamURL derives the push stream address for channel from a websocket URL,
// e.g. ws://host/ws -> http://host/stream/<channel>.
func StreamURL(wsURL, channel string) (string, error) {
	if channel == "" {
		return "", errors.New("stream channel is empty")
	}
	u, err := url.Parse(wsURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	base := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/ws")
	rawBase := strings.TrimSuffix(strings.TrimSuffix(u.EscapedPath(), "/"), "/ws")
	u.Path = base + "/stream/" + channel
	u.RawPath = rawBase + "/stream/" + url.PathEscape(channel)
	u.RawQuery = ""
	return u.String(), nil
}
