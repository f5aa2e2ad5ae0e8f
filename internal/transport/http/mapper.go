package http

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/doubtline/internal/core"
	"github.com/vovakirdan/doubtline/internal/proto"
)

func badRequest(msg string) *proto.Error {
	return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
}

// inboundToCommand maps a client frame to a hub command. Malformed frames
// produce a protocol error for that frame only.
func inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeJoinRoom, proto.InboundTypeLeaveRoom, proto.InboundTypeTyping, proto.InboundTypeStopTyping:
		var data proto.RoomData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest(fmt.Sprintf("invalid %s payload", inbound.Type))
		}
		if data.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		return &core.Command{Kind: roomCommandKind(inbound.Type), Room: data.RoomKey}, nil
	case proto.InboundTypeSendMessage:
		var msg proto.SendMessageData
		if err := json.Unmarshal(inbound.Data, &msg); err != nil {
			return nil, badRequest("invalid send_message payload")
		}
		if msg.RoomKey == "" {
			return nil, badRequest("roomKey is required")
		}
		if len(msg.Content) == 0 {
			return nil, badRequest("content is required")
		}
		return &core.Command{
			Kind: core.CommandSendRoomMessage,
			Room: msg.RoomKey,
			Message: core.Message{
				// ID, sender and sentAt are assigned by the hub
				Content: msg.Content,
				Seq:     msg.Seq,
			},
		}, nil
	case proto.InboundTypeSubscribe, proto.InboundTypeUnsubscribe:
		var data proto.ChannelData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, badRequest(fmt.Sprintf("invalid %s payload", inbound.Type))
		}
		if data.Channel == "" {
			return nil, badRequest("channel is required")
		}
		kind := core.CommandSubscribe
		if inbound.Type == proto.InboundTypeUnsubscribe {
			kind = core.CommandUnsubscribe
		}
		return &core.Command{Kind: kind, Channel: data.Channel}, nil
	default:
		return nil, &proto.Error{Code: "invalid_message", Msg: "unknown message type"}
	}
}

func roomCommandKind(typ string) core.CommandKind {
	switch typ {
	case proto.InboundTypeLeaveRoom:
		return core.CommandLeaveRoom
	case proto.InboundTypeTyping:
		return core.CommandTyping
	case proto.InboundTypeStopTyping:
		return core.CommandStopTyping
	default:
		return core.CommandJoinRoom
	}
}

func outboundFromEvent(event *core.Event) (proto.Outbound, error) {
	switch event.Kind {
	case core.EventRoomMessage:
		msg := event.Message
		return proto.NewOutbound(proto.OutboundTypeNewMessage, proto.NewMessage{
			ID:       msg.ID,
			RoomKey:  msg.Room,
			SenderID: msg.SenderID,
			Sender:   msg.Sender,
			Content:  msg.Content,
			Seq:      msg.Seq,
			SentAt:   msg.SentAt.UnixMilli(),
		})
	case core.EventUserTyping, core.EventUserStoppedTyping:
		typ := proto.OutboundTypeUserTyping
		if event.Kind == core.EventUserStoppedTyping {
			typ = proto.OutboundTypeUserStopped
		}
		return proto.NewOutbound(typ, proto.UserTyping{
			RoomKey:        event.Room,
			SenderIdentity: event.UserID,
			DisplayName:    event.User,
		})
	case core.EventUserJoined, core.EventUserLeft:
		typ := proto.OutboundTypeUserJoined
		if event.Kind == core.EventUserLeft {
			typ = proto.OutboundTypeUserLeft
		}
		return proto.NewOutbound(typ, proto.UserPresence{
			RoomKey:     event.Room,
			UserID:      event.UserID,
			DisplayName: event.User,
		})
	case core.EventChannel:
		ev := proto.ChannelEvent{Channel: event.Channel}
		if event.App != nil {
			ev.Kind = event.App.Kind.String()
			if payload := event.App.Payload(); payload != nil {
				raw, err := json.Marshal(payload)
				if err != nil {
					return proto.Outbound{}, fmt.Errorf("encode %s payload: %w", ev.Kind, err)
				}
				ev.Payload = raw
			}
		}
		return proto.NewOutbound(proto.OutboundTypeEvent, ev)
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Msg: "unknown error"}}, nil
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeError,
			Error: &proto.Error{Code: event.Error.Code, Msg: event.Error.Message},
		}, nil
	default:
		return proto.Outbound{}, fmt.Errorf("unmapped event kind %s", event.Kind)
	}
}
