package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/doubtline/internal/proto"
)

func main() {
	if err := run(); err != nil {
		log.Printf("ws_smoke: %v", err)
		os.Exit(1)
	}
}

// run opens two connections in one room, sends from the first and waits
// until the second sees the message.
func run() error {
	addr := flag.String("addr", "ws://localhost:8080/ws", "WebSocket address")
	room := flag.String("room", "smoke", "room key")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 5*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	sender, err := dial(ctx, *addr)
	if err != nil {
		return err
	}
	defer sender.Close(websocket.StatusNormalClosure, "bye")

	receiver, err := dial(ctx, *addr)
	if err != nil {
		return err
	}
	defer receiver.Close(websocket.StatusNormalClosure, "bye")

	if err := send(ctx, receiver, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: *room}); err != nil {
		return err
	}
	if err := send(ctx, sender, proto.InboundTypeJoinRoom, proto.RoomData{RoomKey: *room}); err != nil {
		return err
	}

	// The receiver sees the sender join, so the sender's membership is live.
	if _, err := waitFor(ctx, receiver, proto.OutboundTypeUserJoined); err != nil {
		return err
	}

	content, err := json.Marshal(*text)
	if err != nil {
		return fmt.Errorf("marshal text: %w", err)
	}
	if err := send(ctx, sender, proto.InboundTypeSendMessage, proto.SendMessageData{RoomKey: *room, Content: content, Seq: 1}); err != nil {
		return err
	}

	out, err := waitFor(ctx, receiver, proto.OutboundTypeNewMessage)
	if err != nil {
		return err
	}
	var msg proto.NewMessage
	if err := json.Unmarshal(out.Data, &msg); err != nil {
		return fmt.Errorf("unmarshal message: %w", err)
	}
	fmt.Printf("new_message: id=%s room=%s sender=%s content=%s sentAt=%d\n", msg.ID, msg.RoomKey, msg.SenderID, msg.Content, msg.SentAt)
	return nil
}

func dial(ctx context.Context, addr string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, addr, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return conn, nil
}

func send(ctx context.Context, conn *websocket.Conn, typ string, data any) error {
	in, err := proto.NewInbound(typ, data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, conn, in); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

func waitFor(ctx context.Context, conn *websocket.Conn, typ string) (proto.Outbound, error) {
	for {
		var out proto.Outbound
		if err := wsjson.Read(ctx, conn, &out); err != nil {
			return out, fmt.Errorf("read: %w", err)
		}
		fmt.Printf("Received outbound: type=%s\n", out.Type)
		if out.Error != nil {
			fmt.Printf("Error: %s %s\n", out.Error.Code, out.Error.Msg)
		}
		if out.Type == typ {
			return out, nil
		}
	}
}
