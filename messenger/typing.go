package messenger

import (
	"sync"
	"time"
)

type typingKey struct {
	room uint
	user uint
}

type typingEntry struct {
	conn  *Connection
	timer *time.Timer
}

// Typing holds one expiry timer per (conversation, user). Every refresh
// re-arms it; expiry, stop and connection teardown cancel it.
type Typing struct {
	mu       sync.Mutex
	timeout  time.Duration
	entries  map[typingKey]*typingEntry
	onExpire func(room, user uint, c *Connection)
}

func NewTyping(timeout time.Duration, onExpire func(room, user uint, c *Connection)) *Typing {
	return &Typing{
		timeout:  timeout,
		entries:  make(map[typingKey]*typingEntry),
		onExpire: onExpire,
	}
}

// Start arms or re-arms the timer for (room, c.UserID).
func (t *Typing) Start(room uint, c *Connection) {
	key := typingKey{room: room, user: c.UserID}

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.entries[key]; ok {
		old.timer.Stop()
	}
	entry := &typingEntry{conn: c}
	entry.timer = time.AfterFunc(t.timeout, func() { t.expire(key, entry) })
	t.entries[key] = entry
}

func (t *Typing) expire(key typingKey, entry *typingEntry) {
	t.mu.Lock()
	if t.entries[key] != entry {
		// Replaced or cancelled after the timer fired.
		t.mu.Unlock()
		return
	}
	delete(t.entries, key)
	t.mu.Unlock()

	if t.onExpire != nil {
		t.onExpire(key.room, key.user, entry.conn)
	}
}

// Stop cancels the timer and reports whether the user was typing.
func (t *Typing) Stop(room, user uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := typingKey{room: room, user: user}
	entry, ok := t.entries[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(t.entries, key)
	return true
}

// StopConnection cancels every timer armed by c and returns their rooms.
func (t *Typing) StopConnection(c *Connection) []uint {
	t.mu.Lock()
	defer t.mu.Unlock()

	var rooms []uint
	for key, entry := range t.entries {
		if entry.conn != c {
			continue
		}
		entry.timer.Stop()
		delete(t.entries, key)
		rooms = append(rooms, key.room)
	}
	return rooms
}

func (t *Typing) Active(room, user uint) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[typingKey{room: room, user: user}]
	return ok
}
