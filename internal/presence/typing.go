// Package presence tracks ephemeral per-room typing state.
package presence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultTypingWindow is how long a typing hint stays live without a refresh.
const DefaultTypingWindow = 3 * time.Second

// Tracker maps room -> identity -> expiry. Entries expire passively; reads
// always compare against the clock, sweeping only bounds memory.
type Tracker struct {
	mu     sync.Mutex
	window time.Duration
	clock  clock.Clock
	rooms  map[string]map[string]time.Time
}

// NewTracker creates a tracker. A zero window uses DefaultTypingWindow and a
// nil clock uses the wall clock.
func NewTracker(window time.Duration, clk clock.Clock) *Tracker {
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Tracker{
		window: window,
		clock:  clk,
		rooms:  make(map[string]map[string]time.Time),
	}
}

// Window returns the configured expiry window.
func (t *Tracker) Window() time.Duration {
	return t.window
}

// MarkTyping inserts or refreshes identity's entry in room.
func (t *Tracker) MarkTyping(room, identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	typists, ok := t.rooms[room]
	if !ok {
		typists = make(map[string]time.Time)
		t.rooms[room] = typists
	}
	typists[identity] = t.clock.Now().Add(t.window)
}

// IsTyping reports whether identity typed in room within the window.
func (t *Tracker) IsTyping(room, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	expiry, ok := t.rooms[room][identity]
	return ok && t.clock.Now().Before(expiry)
}

// Clear drops identity's entry in room. Returns true if a live entry existed.
func (t *Tracker) Clear(room, identity string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	typists, ok := t.rooms[room]
	if !ok {
		return false
	}
	expiry, ok := typists[identity]
	if !ok {
		return false
	}
	delete(typists, identity)
	if len(typists) == 0 {
		delete(t.rooms, room)
	}
	return t.clock.Now().Before(expiry)
}

// ClearIdentity drops identity from every room.
func (t *Tracker) ClearIdentity(identity string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for room, typists := range t.rooms {
		delete(typists, identity)
		if len(typists) == 0 {
			delete(t.rooms, room)
		}
	}
}

// Typists returns the sorted identities currently typing in room.
func (t *Tracker) Typists(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	out := make([]string, 0, len(t.rooms[room]))
	for identity, expiry := range t.rooms[room] {
		if now.Before(expiry) {
			out = append(out, identity)
		}
	}
	sort.Strings(out)
	return out
}

// Sweep removes expired entries and empty rooms, returning how many entries
// were removed.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	removed := 0
	for room, typists := range t.rooms {
		for identity, expiry := range typists {
			if !now.Before(expiry) {
				delete(typists, identity)
				removed++
			}
		}
		if len(typists) == 0 {
			delete(t.rooms, room)
		}
	}
	return removed
}

// Rooms returns how many rooms hold at least one entry, expired or not.
func (t *Tracker) Rooms() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms)
}

// Run sweeps every interval until ctx is done.
func (t *Tracker) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.window
	}
	ticker := t.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep()
		}
	}
}
