package bus

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which payload an Event carries.
type Kind int

const (
	// KindGeneric carries a free-form map payload.
	KindGeneric Kind = iota
	// KindQuizCompleted is published after a quiz score is committed.
	KindQuizCompleted
	// KindMasteryUpdated is published when a topic mastery level changes.
	KindMasteryUpdated
	// KindXPChanged is published when a user's experience points change.
	KindXPChanged
	// KindNoteUpdated is published when a shared note is edited.
	KindNoteUpdated
)

var kindNames = map[Kind]string{
	KindGeneric:        "generic",
	KindQuizCompleted:  "quiz_completed",
	KindMasteryUpdated: "mastery_updated",
	KindXPChanged:      "xp_changed",
	KindNoteUpdated:    "note_updated",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind resolves a wire name into a Kind. Empty string maps to KindGeneric.
func ParseKind(name string) (Kind, error) {
	if name == "" {
		return KindGeneric, nil
	}
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return KindGeneric, fmt.Errorf("unknown event kind %q", name)
}

// Event is an application event crossing the bus.
// Exactly one payload pointer matching Kind is set; KindGeneric uses Data.
type Event struct {
	Kind    Kind
	Quiz    *QuizCompleted
	Mastery *MasteryUpdated
	XP      *XPChanged
	Note    *NoteUpdated
	Data    map[string]any
}

// QuizCompleted describes a finished quiz attempt.
type QuizCompleted struct {
	UserID string  `json:"userId"`
	QuizID string  `json:"quizId"`
	Score  float64 `json:"score"`
	Total  int     `json:"total"`
}

// MasteryUpdated describes a new mastery level for a topic.
type MasteryUpdated struct {
	UserID  string  `json:"userId"`
	Topic   string  `json:"topic"`
	Mastery float64 `json:"mastery"`
}

// XPChanged describes an experience points delta.
type XPChanged struct {
	UserID string `json:"userId"`
	Delta  int    `json:"delta"`
	Total  int    `json:"total"`
}

// NoteUpdated describes an edit to a shared note.
type NoteUpdated struct {
	NoteID   string `json:"noteId"`
	EditorID string `json:"editorId"`
	Title    string `json:"title,omitempty"`
}

// Payload returns the kind-specific payload, or nil if it is missing.
func (e Event) Payload() any {
	switch e.Kind {
	case KindQuizCompleted:
		if e.Quiz != nil {
			return e.Quiz
		}
	case KindMasteryUpdated:
		if e.Mastery != nil {
			return e.Mastery
		}
	case KindXPChanged:
		if e.XP != nil {
			return e.XP
		}
	case KindNoteUpdated:
		if e.Note != nil {
			return e.Note
		}
	case KindGeneric:
		if e.Data != nil {
			return e.Data
		}
	}
	return nil
}

// Decode builds an Event of kind from its JSON payload. An empty payload
// yields an Event without a payload.
func Decode(kind Kind, data json.RawMessage) (Event, error) {
	ev := Event{Kind: kind}
	if len(data) == 0 || string(data) == "null" {
		return ev, nil
	}

	var dst any
	switch kind {
	case KindQuizCompleted:
		ev.Quiz = &QuizCompleted{}
		dst = ev.Quiz
	case KindMasteryUpdated:
		ev.Mastery = &MasteryUpdated{}
		dst = ev.Mastery
	case KindXPChanged:
		ev.XP = &XPChanged{}
		dst = ev.XP
	case KindNoteUpdated:
		ev.Note = &NoteUpdated{}
		dst = ev.Note
	case KindGeneric:
		dst = &ev.Data
	default:
		return ev, fmt.Errorf("unknown event kind %d", int(kind))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return Event{Kind: kind}, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return ev, nil
}
