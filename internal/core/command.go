package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandJoinRoom subscribes the client to a room.
	CommandJoinRoom CommandKind = iota
	// CommandLeaveRoom unsubscribes the client from a room.
	CommandLeaveRoom
	// CommandSendRoomMessage delivers a chat message to room members.
	CommandSendRoomMessage
	// CommandTyping marks the client as typing in a room.
	CommandTyping
	// CommandStopTyping clears the client's typing state in a room.
	CommandStopTyping
	// CommandSubscribe attaches the client to an application event channel.
	CommandSubscribe
	// CommandUnsubscribe detaches the client from an application event channel.
	CommandUnsubscribe
)

// Command represents an action requested by a client.
type Command struct {
	Kind    CommandKind
	Room    string
	Channel string
	Message Message
}
