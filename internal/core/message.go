package core

import (
	"encoding/json"
	"time"
)

// Message is a delivery-only chat event. It is never persisted here.
type Message struct {
	ID       string
	Room     string
	SenderID string
	Sender   string
	Content  json.RawMessage
	Seq      uint64
	SentAt   time.Time
}
