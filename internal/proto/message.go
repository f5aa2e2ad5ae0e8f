package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

const (
	InboundTypeJoinRoom    = "join_room"
	InboundTypeLeaveRoom   = "leave_room"
	InboundTypeSendMessage = "send_message"
	InboundTypeTyping      = "typing"
	InboundTypeStopTyping  = "stop_typing"
	InboundTypeSubscribe   = "subscribe"
	InboundTypeUnsubscribe = "unsubscribe"

	OutboundTypeNewMessage  = "new_message"
	OutboundTypeUserTyping  = "user_typing"
	OutboundTypeUserStopped = "user_stopped_typing"
	OutboundTypeUserJoined  = "user_joined"
	OutboundTypeUserLeft    = "user_left"
	OutboundTypeEvent       = "event"
	OutboundTypeError       = "error"
)

// RoomData names the room for join_room, leave_room, typing and stop_typing.
type RoomData struct {
	RoomKey string `json:"roomKey"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	RoomKey string          `json:"roomKey"`
	Content json.RawMessage `json:"content"`
	Seq     uint64          `json:"seq,omitempty"`
}

// ChannelData names an event channel for subscribe and unsubscribe.
type ChannelData struct {
	Channel string `json:"channel"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *Error          `json:"error,omitempty"`
}

// NewMessage is the fan-out form of send_message.
type NewMessage struct {
	ID       string          `json:"id"`
	RoomKey  string          `json:"roomKey"`
	SenderID string          `json:"senderId"`
	Sender   string          `json:"sender,omitempty"`
	Content  json.RawMessage `json:"content"`
	Seq      uint64          `json:"seq,omitempty"`
	SentAt   int64           `json:"sentAt"`
}

// UserTyping is the fan-out form of typing and stop_typing.
type UserTyping struct {
	RoomKey        string `json:"roomKey"`
	SenderIdentity string `json:"senderIdentity"`
	DisplayName    string `json:"displayName,omitempty"`
}

// UserPresence notifies that a user joined or left a room.
type UserPresence struct {
	RoomKey     string `json:"roomKey"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
}

// ChannelEvent carries an application event to a duplex subscriber.
type ChannelEvent struct {
	Channel string          `json:"channel"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

// NewInbound marshals data into an Inbound envelope.
func NewInbound(typ string, data any) (Inbound, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Type: typ, Data: raw}, nil
}

// NewOutbound marshals data into an Outbound envelope.
func NewOutbound(typ string, data any) (Outbound, error) {
	raw, err := marshalData(data)
	if err != nil {
		return Outbound{}, err
	}
	return Outbound{Type: typ, Data: raw}, nil
}

func marshalData(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}
