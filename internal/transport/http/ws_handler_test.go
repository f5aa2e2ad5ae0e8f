package http

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/doubtline/internal/auth"
	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
}

func TestWebSocketUpgradeThroughServerHandler(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("unexpected upgrade status: %d", resp.StatusCode)
	}

	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r1"})
	waitFor(t, "join over upgraded conn", func() bool { return len(env.hub.Registry().Members("r1")) == 1 })

	// The rest of the routes still go through the router.
	health, err := env.ts.Client().Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	health.Body.Close()
	if health.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", health.StatusCode)
	}
}

func TestWebSocketRoomFanOut(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dialWS(t, ctx, env, "")
	b := dialWS(t, ctx, env, "")
	c := dialWS(t, ctx, env, "")
	d := dialWS(t, ctx, env, "")

	for _, conn := range []*websocket.Conn{a, b, c} {
		sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "doubt-1"})
	}
	sendInbound(t, ctx, d, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "doubt-2"})
	waitFor(t, "joins", func() bool {
		return len(env.hub.Registry().Members("doubt-1")) == 3 && len(env.hub.Registry().Members("doubt-2")) == 1
	})

	sendInbound(t, ctx, a, proto.InboundTypeSendMessage, proto.SendMessageData{
		RoomKey: "doubt-1",
		Content: json.RawMessage(`{"text":"how do limits work?"}`),
		Seq:     7,
	})

	var ids []string
	for _, conn := range []*websocket.Conn{b, c, a} {
		var msg proto.NewMessage
		decodeData(t, readUntil(t, ctx, conn, proto.OutboundTypeNewMessage), &msg)
		if msg.RoomKey != "doubt-1" || msg.Seq != 7 || msg.SentAt == 0 {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if string(msg.Content) != `{"text":"how do limits work?"}` {
			t.Fatalf("content altered: %s", msg.Content)
		}
		ids = append(ids, msg.ID)
	}
	if ids[0] == "" || ids[0] != ids[1] || ids[1] != ids[2] {
		t.Fatalf("recipients saw different message ids: %v", ids)
	}

	expectNone(t, d, proto.OutboundTypeNewMessage, 150*time.Millisecond)
}

func TestWebSocketTypingNotEchoed(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dialWS(t, ctx, env, "")
	b := dialWS(t, ctx, env, "")
	sendInbound(t, ctx, a, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r"})
	sendInbound(t, ctx, b, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r"})
	waitFor(t, "joins", func() bool { return len(env.hub.Registry().Members("r")) == 2 })

	sendInbound(t, ctx, a, proto.InboundTypeTyping, proto.RoomData{RoomKey: "r"})

	var typing proto.UserTyping
	decodeData(t, readUntil(t, ctx, b, proto.OutboundTypeUserTyping), &typing)
	if typing.RoomKey != "r" || typing.SenderIdentity == "" {
		t.Fatalf("unexpected typing event: %+v", typing)
	}
	if got := env.hub.Typing().Typists("r"); len(got) != 1 || got[0] != typing.SenderIdentity {
		t.Fatalf("tracker typists = %v, want [%s]", got, typing.SenderIdentity)
	}

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/rooms/r")
	if err != nil {
		t.Fatalf("room request: %v", err)
	}
	defer resp.Body.Close()
	var room RoomResponse
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		t.Fatalf("decode room: %v", err)
	}
	if room.Members != 2 || len(room.Typing) != 1 {
		t.Fatalf("unexpected room state: %+v", room)
	}

	expectNone(t, a, proto.OutboundTypeUserTyping, 150*time.Millisecond)
}

func TestWebSocketDisconnectCleansUp(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	baseline := env.bus.TotalListeners()

	conn, _, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r1"})
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r2"})
	sendInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.ChannelData{Channel: "xp"})
	waitFor(t, "membership", func() bool {
		return env.hub.Registry().RoomCount() == 2 && env.bus.ListenerCount("xp") == 1
	})

	conn.Close(websocket.StatusNormalClosure, "bye")

	waitFor(t, "cleanup", func() bool {
		return env.hub.Registry().RoomCount() == 0 && env.bus.TotalListeners() == baseline
	})
}

func TestWebSocketSubscribeReceivesBusEvents(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, env, "")
	sendInbound(t, ctx, conn, proto.InboundTypeSubscribe, proto.ChannelData{Channel: "dashboard"})
	waitFor(t, "subscription", func() bool { return env.bus.ListenerCount("dashboard") == 1 })

	publish(t, env, "dashboard", `{"kind":"quiz_completed","data":{"userId":"u1","quizId":"q9","score":8,"total":10}}`, http.StatusAccepted)

	var ev proto.ChannelEvent
	decodeData(t, readUntil(t, ctx, conn, proto.OutboundTypeEvent), &ev)
	if ev.Channel != "dashboard" || ev.Kind != "quiz_completed" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	var quiz struct {
		QuizID string  `json:"quizId"`
		Score  float64 `json:"score"`
	}
	if err := json.Unmarshal(ev.Payload, &quiz); err != nil || quiz.QuizID != "q9" || quiz.Score != 8 {
		t.Fatalf("unexpected payload %s: %v", ev.Payload, err)
	}
}

func TestWebSocketProtocolErrors(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, env, "")

	sendInbound(t, ctx, conn, "shout", nil)
	out := readUntil(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != "invalid_message" {
		t.Fatalf("expected invalid_message, got %+v", out)
	}

	sendInbound(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{
		RoomKey: "nowhere",
		Content: json.RawMessage(`"hi"`),
	})
	out = readUntil(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != core.ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room, got %+v", out)
	}

	// The connection survives both errors.
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "ok"})
	waitFor(t, "join after errors", func() bool { return len(env.hub.Registry().Members("ok")) == 1 })
}

func TestWebSocketRateLimited(t *testing.T) {
	cfg := config.Default()
	cfg.InboundRate = 1
	cfg.InboundBurst = 1
	env := startTestServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(t, ctx, env, "")
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r"})
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r2"})

	out := readUntil(t, ctx, conn, proto.OutboundTypeError)
	if out.Error == nil || out.Error.Code != core.ErrCodeRateLimited {
		t.Fatalf("expected rate_limited, got %+v", out)
	}
}

func TestWebSocketJWTIdentity(t *testing.T) {
	jwtCfg := &auth.JWTConfig{Secret: []byte("testsecret"), TTL: time.Minute}
	env := startTestServer(t, config.Default(), &auth.JWTResolver{Config: jwtCfg, Required: true})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, env.wsURL(), nil)
	if err == nil {
		t.Fatal("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %+v", resp)
	}

	token, err := auth.GenerateToken(jwtCfg, auth.Identity{ID: "stu-1", DisplayName: "Alice", Role: "student"})
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	conn := dialWS(t, ctx, env, token)
	sendInbound(t, ctx, conn, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: "r"})
	sendInbound(t, ctx, conn, proto.InboundTypeSendMessage, proto.SendMessageData{RoomKey: "r", Content: json.RawMessage(`"hi"`)})

	var msg proto.NewMessage
	decodeData(t, readUntil(t, ctx, conn, proto.OutboundTypeNewMessage), &msg)
	if msg.SenderID != "stu-1" || msg.Sender != "Alice" {
		t.Fatalf("unexpected sender: %+v", msg)
	}
}
