package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/proto"
	"github.com/vovakirdan/doubtline/internal/stream"
)

type testEnv struct {
	ts     *httptest.Server
	hub    *core.Hub
	bus    *bus.Bus
	broker *stream.Broker
}

func startTestServer(t *testing.T, cfg config.Config, resolver auth.Resolver) *testEnv {
	t.Helper()

	disabledLogger := zerolog.New(nil)
	b := bus.New(&disabledLogger)
	hub := core.NewHub(core.HubOptions{
		Bus:        b,
		Policy:     core.RoutePolicy{EchoMessages: cfg.EchoMessages, EchoTyping: cfg.EchoTyping},
		StopTyping: cfg.StopTypingSignal,
		Logger:     &disabledLogger,
	})
	broker := stream.NewBroker(b, stream.Options{KeepAlive: cfg.KeepAliveInterval, Logger: &disabledLogger})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	server := NewServer(Deps{Hub: hub, Broker: broker, Resolver: resolver}, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		cancel()
		ts.CloseClientConnections()
		ts.Close()
	})

	return &testEnv{ts: ts, hub: hub, bus: b, broker: broker}
}

func (e *testEnv) wsURL() string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
}

func dialWS(t *testing.T, ctx context.Context, env *testEnv, token string) *websocket.Conn {
	t.Helper()

	var opts *websocket.DialOptions
	if token != "" {
		opts = &websocket.DialOptions{HTTPHeader: map[string][]string{"Authorization": {"Bearer " + token}}}
	}
	conn, _, err := websocket.Dial(ctx, env.wsURL(), opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	in, err := proto.NewInbound(typ, data)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		t.Fatalf("send %s: %v", typ, err)
	}
}

// readUntil skips outbounds of other types until typ arrives.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) proto.Outbound {
	t.Helper()

	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if out.Type == typ {
			return out
		}
	}
}

// expectNone reads for wait and fails if typ arrives. The connection is
// unusable afterwards since a timed out read closes it.
func expectNone(t *testing.T, conn *websocket.Conn, typ string, wait time.Duration) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return
		}
		if out.Type == typ {
			t.Fatalf("unexpected %s: %s", typ, out.Data)
		}
	}
}

func decodeData(t *testing.T, out proto.Outbound, v any) {
	t.Helper()
	if err := json.Unmarshal(out.Data, v); err != nil {
		t.Fatalf("decode %s data: %v", out.Type, err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
