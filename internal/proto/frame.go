package proto

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Stream frame types sent over the one-way push channel.
const (
	FrameHello     = "hello"
	FrameMessage   = "message"
	FrameKeepAlive = "keep-alive"
)

const keepAliveLine = ": keep-alive"

// Frame is one unit of the push channel. Object payloads are flattened into
// the encoded object next to type and channel. A payload that is not an
// object, or that uses one of the frame's own keys, is nested under "data"
// so it round-trips unchanged.
type Frame struct {
	Type    string
	Channel string
	TS      int64
	Kind    string
	Payload json.RawMessage
}

const nestedKey = "data"

var frameKeys = map[string]bool{"type": true, "channel": true, "ts": true, "kind": true, nestedKey: true}

// MarshalJSON flattens the payload object into the frame object.
func (f Frame) MarshalJSON() ([]byte, error) {
	fields := make(map[string]any)
	if len(f.Payload) > 0 {
		if obj, ok := flattenable(f.Payload); ok {
			for k, v := range obj {
				fields[k] = v
			}
		} else {
			fields[nestedKey] = f.Payload
		}
	}
	fields["type"] = f.Type
	fields["channel"] = f.Channel
	if f.Type == FrameHello && f.TS != 0 {
		fields["ts"] = f.TS
	}
	if f.Kind != "" {
		fields["kind"] = f.Kind
	}
	return json.Marshal(fields)
}

func flattenable(payload json.RawMessage) (map[string]json.RawMessage, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		return nil, false
	}
	for k := range obj {
		if frameKeys[k] {
			return nil, false
		}
	}
	return obj, true
}

// UnmarshalJSON splits the frame's own fields back out of the flattened
// object. Only hello frames carry ts; on message frames it is payload.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	if err := takeField(obj, "type", &f.Type); err != nil {
		return fmt.Errorf("frame type: %w", err)
	}
	if err := takeField(obj, "channel", &f.Channel); err != nil {
		return fmt.Errorf("frame channel: %w", err)
	}
	f.TS = 0
	if f.Type == FrameHello {
		if err := takeField(obj, "ts", &f.TS); err != nil {
			return fmt.Errorf("frame ts: %w", err)
		}
	}
	f.Kind = ""
	if raw, ok := obj["kind"]; ok {
		// A kind that is not a string belongs to a foreign payload.
		if err := json.Unmarshal(raw, &f.Kind); err == nil {
			delete(obj, "kind")
		}
	}

	f.Payload = nil
	if len(obj) == 0 {
		return nil
	}
	if nested, ok := obj[nestedKey]; ok && len(obj) == 1 {
		f.Payload = nested
		return nil
	}
	payload, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	f.Payload = payload
	return nil
}

func takeField(obj map[string]json.RawMessage, key string, dst any) error {
	raw, ok := obj[key]
	if !ok {
		return nil
	}
	delete(obj, key)
	return json.Unmarshal(raw, dst)
}

// WriteFrame encodes f in event-stream form. Keep-alive frames are comments.
func WriteFrame(w io.Writer, f Frame) error {
	if f.Type == FrameKeepAlive {
		_, err := io.WriteString(w, keepAliveLine+"\n\n")
		return err
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(data) + 8)
	buf.WriteString("data: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	_, err = w.Write(buf.Bytes())
	return err
}

// ReadFrames decodes frames from r until EOF or fn returns an error.
func ReadFrames(r io.Reader, fn func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var f Frame
			if err := json.Unmarshal([]byte(data.String()), &f); err != nil {
				return fmt.Errorf("decode frame: %w", err)
			}
			data.Reset()
			if err := fn(f); err != nil {
				return err
			}
		case strings.HasPrefix(line, ":"):
			if err := fn(Frame{Type: FrameKeepAlive}); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
