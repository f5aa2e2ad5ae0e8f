package core

import "github.com/vovakirdan/doubtline/internal/bus"

// EventKind is a notification the core emits to clients.
type EventKind int

const (
	// EventRoomMessage notifies clients about a chat message in a room.
	EventRoomMessage EventKind = iota
	// EventUserTyping notifies clients that a member is typing.
	EventUserTyping
	// EventUserStoppedTyping notifies clients that a member stopped typing.
	EventUserStoppedTyping
	// EventUserJoined notifies clients about a user joining a room.
	EventUserJoined
	// EventUserLeft notifies clients about a user leaving a room.
	EventUserLeft
	// EventChannel forwards an application event from the bus.
	EventChannel
	// EventError notifies clients about a domain error.
	EventError
)

var eventKindNames = [...]string{
	EventRoomMessage:       "room_message",
	EventUserTyping:        "user_typing",
	EventUserStoppedTyping: "user_stopped_typing",
	EventUserJoined:        "user_joined",
	EventUserLeft:          "user_left",
	EventChannel:           "channel",
	EventError:             "error",
}

func (k EventKind) String() string {
	if int(k) >= 0 && int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event is sent to clients to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	UserID  string
	User    string
	Message Message
	Channel string
	App     *bus.Event // non-nil for EventChannel
	Error   *CoreError
}
