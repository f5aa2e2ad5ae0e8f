package core

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/vovakirdan/doubtline/internal/bus"
	"github.com/vovakirdan/doubtline/internal/presence"
)

func TestHubJoinBroadcastAndLeave(t *testing.T) {
	hub := startHub(t, HubOptions{Policy: DefaultRoutePolicy()})

	alice := NewClient("a", "alice", "Alice", 0)
	bob := NewClient("b", "bob", "Bob", 0)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "doubt-42"}
	waitFor(t, "alice joined", func() bool { return hub.Registry().IsMember("a", "doubt-42") })
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "doubt-42"}

	joinEv := mustEvent(t, alice.Events, EventUserJoined)
	if joinEv.UserID != "bob" || joinEv.Room != "doubt-42" {
		t.Fatalf("unexpected join event: %+v", joinEv)
	}

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "doubt-42",
		Message: Message{Content: json.RawMessage(`"why is the sky blue?"`), Seq: 1},
	}

	msgEv := mustEvent(t, bob.Events, EventRoomMessage)
	if string(msgEv.Message.Content) != `"why is the sky blue?"` || msgEv.Message.SenderID != "alice" {
		t.Fatalf("unexpected message event: %+v", msgEv)
	}
	if msgEv.Message.ID == "" || msgEv.Message.SentAt.IsZero() || msgEv.Message.Seq != 1 {
		t.Fatalf("server fields not assigned: %+v", msgEv.Message)
	}

	// Messages echo to the sender for UI confirmation.
	echo := mustEvent(t, alice.Events, EventRoomMessage)
	if echo.Message.ID != msgEv.Message.ID {
		t.Fatalf("echo carries a different message id: %s vs %s", echo.Message.ID, msgEv.Message.ID)
	}

	alice.Commands <- &Command{Kind: CommandLeaveRoom, Room: "doubt-42"}
	leftEv := mustEvent(t, bob.Events, EventUserLeft)
	if leftEv.UserID != "alice" || leftEv.Room != "doubt-42" {
		t.Fatalf("unexpected leave event: %+v", leftEv)
	}
}

func TestHubDoubleJoinIsSilent(t *testing.T) {
	hub := startHub(t, HubOptions{Policy: DefaultRoutePolicy()})

	alice := NewClient("a", "alice", "", 0)
	bob := NewClient("b", "bob", "", 0)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	waitFor(t, "bob joined", func() bool { return hub.Registry().IsMember("b", "general") })

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "general"}

	mustEvent(t, bob.Events, EventUserJoined)
	mustNoEvent(t, bob.Events, EventUserJoined, 100*time.Millisecond)
	mustNoEvent(t, alice.Events, EventError, 50*time.Millisecond)

	if got := hub.Registry().Members("general"); len(got) != 2 {
		t.Fatalf("expected 2 members, got %v", got)
	}
}

func TestHubSendWithoutJoinProducesError(t *testing.T) {
	hub := startHub(t, HubOptions{})

	alice := NewClient("a", "alice", "", 0)
	hub.RegisterClient(alice)

	alice.Commands <- &Command{
		Kind:    CommandSendRoomMessage,
		Room:    "general",
		Message: Message{Content: json.RawMessage(`"hi"`)},
	}

	ev := mustEvent(t, alice.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotInRoom {
		t.Fatalf("expected not_in_room error, got %+v", ev)
	}
}

func TestHubTypingBroadcastAndExpiry(t *testing.T) {
	clk := clock.NewMock()
	tracker := presence.NewTracker(3*time.Second, clk)
	hub := startHub(t, HubOptions{Policy: DefaultRoutePolicy(), Typing: tracker})

	alice := NewClient("a", "alice", "", 0)
	bob := NewClient("b", "bob", "", 0)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)

	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
	waitFor(t, "both joined", func() bool { return len(hub.Registry().Members("R")) == 2 })

	alice.Commands <- &Command{Kind: CommandTyping, Room: "R"}
	ev := mustEvent(t, bob.Events, EventUserTyping)
	if ev.UserID != "alice" || ev.Room != "R" {
		t.Fatalf("unexpected typing event: %+v", ev)
	}
	mustNoEvent(t, alice.Events, EventUserTyping, 50*time.Millisecond)

	if !tracker.IsTyping("R", "alice") {
		t.Fatal("tracker should mark alice typing")
	}
	clk.Add(3 * time.Second)
	if tracker.IsTyping("R", "alice") {
		t.Fatal("typing state should expire without a stop signal")
	}
}

func TestHubStopTypingPolicy(t *testing.T) {
	tests := []struct {
		name       string
		stopTyping bool
		wantEvent  bool
	}{
		{name: "explicit stop enabled", stopTyping: true, wantEvent: true},
		{name: "passive expiry only", stopTyping: false, wantEvent: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracker := presence.NewTracker(time.Minute, clock.NewMock())
			hub := startHub(t, HubOptions{Typing: tracker, StopTyping: tt.stopTyping})

			alice := NewClient("a", "alice", "", 0)
			bob := NewClient("b", "bob", "", 0)
			hub.RegisterClient(alice)
			hub.RegisterClient(bob)
			alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
			bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
			waitFor(t, "both joined", func() bool { return len(hub.Registry().Members("R")) == 2 })

			alice.Commands <- &Command{Kind: CommandTyping, Room: "R"}
			mustEvent(t, bob.Events, EventUserTyping)

			alice.Commands <- &Command{Kind: CommandStopTyping, Room: "R"}
			if tt.wantEvent {
				mustEvent(t, bob.Events, EventUserStoppedTyping)
				if tracker.IsTyping("R", "alice") {
					t.Fatal("explicit stop should clear typing state")
				}
				return
			}
			mustNoEvent(t, bob.Events, EventUserStoppedTyping, 100*time.Millisecond)
			if !tracker.IsTyping("R", "alice") {
				t.Fatal("stop signal must be ignored when disabled")
			}
		})
	}
}

func TestHubChannelSubscriptionCleanup(t *testing.T) {
	eventBus := bus.New(nil)
	hub := startHub(t, HubOptions{Bus: eventBus})

	before := eventBus.ListenerCount("dashboard")

	dash := NewClient("d", "student", "", 0)
	hub.RegisterClient(dash)
	dash.Commands <- &Command{Kind: CommandSubscribe, Channel: "dashboard"}
	dash.Commands <- &Command{Kind: CommandSubscribe, Channel: "dashboard"}
	waitFor(t, "subscription", func() bool { return eventBus.ListenerCount("dashboard") == before+1 })

	eventBus.Publish("dashboard", bus.Event{Kind: bus.KindQuizCompleted, Quiz: &bus.QuizCompleted{UserID: "student", QuizID: "q1", Score: 9}})
	ev := mustEvent(t, dash.Events, EventChannel)
	if ev.Channel != "dashboard" || ev.App == nil || ev.App.Quiz == nil || ev.App.Quiz.QuizID != "q1" {
		t.Fatalf("unexpected channel event: %+v", ev)
	}

	hub.UnregisterClient(dash)
	if n := eventBus.ListenerCount("dashboard"); n != before {
		t.Fatalf("listener leaked: count=%d want %d", n, before)
	}
}

func TestHubUnsubscribeCommand(t *testing.T) {
	eventBus := bus.New(nil)
	hub := startHub(t, HubOptions{Bus: eventBus})

	c := NewClient("c", "", "", 0)
	hub.RegisterClient(c)
	c.Commands <- &Command{Kind: CommandSubscribe, Channel: "xp"}
	waitFor(t, "subscribe", func() bool { return eventBus.ListenerCount("xp") == 1 })

	c.Commands <- &Command{Kind: CommandUnsubscribe, Channel: "xp"}
	waitFor(t, "unsubscribe", func() bool { return eventBus.ListenerCount("xp") == 0 })
	mustNoEvent(t, c.Events, EventError, 50*time.Millisecond)

	c.Commands <- &Command{Kind: CommandUnsubscribe, Channel: "xp"}
	ev := mustEvent(t, c.Events, EventError)
	if ev.Error == nil || ev.Error.Code != ErrCodeNotSubscribed {
		t.Fatalf("expected not_subscribed error, got %+v", ev.Error)
	}
}

func TestHubTypingOutlivesOneOfTwoTabs(t *testing.T) {
	tracker := presence.NewTracker(time.Minute, clock.NewMock())
	hub := startHub(t, HubOptions{Typing: tracker})

	tab1 := NewClient("a1", "alice", "", 0)
	tab2 := NewClient("a2", "alice", "", 0)
	hub.RegisterClient(tab1)
	hub.RegisterClient(tab2)
	tab1.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
	tab2.Commands <- &Command{Kind: CommandJoinRoom, Room: "R"}
	waitFor(t, "both tabs joined", func() bool { return len(hub.Registry().Members("R")) == 2 })

	tab2.Commands <- &Command{Kind: CommandTyping, Room: "R"}
	waitFor(t, "typing", func() bool { return tracker.IsTyping("R", "alice") })

	hub.UnregisterClient(tab1)
	if !tracker.IsTyping("R", "alice") {
		t.Fatal("closing one tab cleared typing for the tab still in the room")
	}

	tab2.Commands <- &Command{Kind: CommandLeaveRoom, Room: "R"}
	waitFor(t, "typing cleared", func() bool { return !tracker.IsTyping("R", "alice") })
}

func TestHubUnregisterRemovesMembership(t *testing.T) {
	hub := startHub(t, HubOptions{})

	alice := NewClient("a", "alice", "", 0)
	bob := NewClient("b", "bob", "", 0)
	hub.RegisterClient(alice)
	hub.RegisterClient(bob)
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "R1"}
	alice.Commands <- &Command{Kind: CommandJoinRoom, Room: "R2"}
	bob.Commands <- &Command{Kind: CommandJoinRoom, Room: "R2"}
	waitFor(t, "joins", func() bool {
		return len(hub.Registry().Rooms("a")) == 2 && hub.Registry().IsMember("b", "R2")
	})

	hub.UnregisterClient(alice)
	hub.UnregisterClient(alice)

	if rooms := hub.Registry().Rooms("a"); len(rooms) != 0 {
		t.Fatalf("alice still in %v", rooms)
	}
	ev := mustEvent(t, bob.Events, EventUserLeft)
	if ev.UserID != "alice" || ev.Room != "R2" {
		t.Fatalf("unexpected left event: %+v", ev)
	}
	if hub.Registry().RoomCount() != 1 {
		t.Fatalf("R1 should be gone, rooms=%d", hub.Registry().RoomCount())
	}
}
