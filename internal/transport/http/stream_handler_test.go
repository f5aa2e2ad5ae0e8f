package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/vovakirdan/doubtline/internal/config"
	"github.com/vovakirdan/doubtline/internal/proto"
)

func publish(t *testing.T, env *testEnv, name, body string, wantStatus int) PublishResponse {
	t.Helper()

	resp, err := env.ts.Client().Post(env.ts.URL+"/api/events/"+name, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("publish %s: %v", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("publish %s: status %d, want %d", name, resp.StatusCode, wantStatus)
	}
	var out PublishResponse
	if wantStatus == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			t.Fatalf("decode publish response: %v", err)
		}
	}
	return out
}

func openStream(t *testing.T, env *testEnv, channel string) (<-chan proto.Frame, context.CancelFunc) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.ts.URL+"/stream/"+channel, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	resp, err := env.ts.Client().Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open stream: %v", err)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		resp.Body.Close()
		cancel()
		t.Fatalf("unexpected content type %q", ct)
	}

	frames := make(chan proto.Frame, 16)
	go func() {
		defer close(frames)
		defer resp.Body.Close()
		_ = proto.ReadFrames(resp.Body, func(f proto.Frame) error {
			select {
			case frames <- f:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	t.Cleanup(cancel)
	return frames, cancel
}

func nextFrame(t *testing.T, frames <-chan proto.Frame) proto.Frame {
	t.Helper()

	select {
	case f, ok := <-frames:
		if !ok {
			t.Fatal("stream closed")
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return proto.Frame{}
}

func TestStreamHelloThenMessages(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)
	baseline := env.bus.TotalListeners()

	frames, cancel := openStream(t, env, "notes")

	hello := nextFrame(t, frames)
	if hello.Type != proto.FrameHello || hello.Channel != "notes" || hello.TS == 0 {
		t.Fatalf("first frame is not hello: %+v", hello)
	}
	waitFor(t, "stream listener", func() bool { return env.bus.ListenerCount("notes") == 1 })

	got := publish(t, env, "notes", `{"kind":"note_updated","data":{"noteId":"n1","editorId":"u2"}}`, http.StatusAccepted)
	if got.Listeners != 1 {
		t.Fatalf("publish reached %d listeners, want 1", got.Listeners)
	}
	publish(t, env, "other", `{"data":{"x":1}}`, http.StatusAccepted)

	msg := nextFrame(t, frames)
	if msg.Type != proto.FrameMessage || msg.Channel != "notes" || msg.Kind != "note_updated" {
		t.Fatalf("unexpected frame: %+v", msg)
	}
	var note struct {
		NoteID string `json:"noteId"`
	}
	if err := json.Unmarshal(msg.Payload, &note); err != nil || note.NoteID != "n1" {
		t.Fatalf("unexpected payload %s: %v", msg.Payload, err)
	}

	select {
	case f := <-frames:
		t.Fatalf("unexpected extra frame: %+v", f)
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	waitFor(t, "stream cleanup", func() bool {
		return env.bus.TotalListeners() == baseline && env.broker.Open() == 0
	})
}

func TestStreamKeepAlive(t *testing.T) {
	cfg := config.Default()
	cfg.KeepAliveInterval = 20 * time.Millisecond
	env := startTestServer(t, cfg, nil)

	frames, _ := openStream(t, env, "xp")
	if f := nextFrame(t, frames); f.Type != proto.FrameHello {
		t.Fatalf("first frame is not hello: %+v", f)
	}
	if f := nextFrame(t, frames); f.Type != proto.FrameKeepAlive {
		t.Fatalf("expected keep-alive, got %+v", f)
	}
}

func TestPublishRejectsBadRequests(t *testing.T) {
	env := startTestServer(t, config.Default(), nil)

	publish(t, env, "notes", `{"kind":"bogus"}`, http.StatusBadRequest)
	publish(t, env, "notes", `{"kind":"xp_changed","data":"nope"}`, http.StatusBadRequest)
	publish(t, env, "notes", `not json`, http.StatusBadRequest)
}
