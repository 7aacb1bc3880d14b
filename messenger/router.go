package messenger

import (
	"sync"

	"github.com/samber/lo"
)

// Router maps conversation rooms to live connections and back. Both maps are
// guarded by one lock so they never diverge.
type Router struct {
	mu     sync.RWMutex
	rooms  map[uint]map[*Connection]struct{}
	joined map[*Connection]map[uint]struct{}
}

func NewRouter() *Router {
	return &Router{
		rooms:  make(map[uint]map[*Connection]struct{}),
		joined: make(map[*Connection]map[uint]struct{}),
	}
}

// Join reports whether the connection was newly added. A closed connection is
// never added; Disconnect closes before LeaveAll, so checking under the lock
// keeps a late join from outliving the cleanup.
func (r *Router) Join(room uint, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Closed() {
		return false
	}
	if _, ok := r.rooms[room][c]; ok {
		return false
	}
	if r.rooms[room] == nil {
		r.rooms[room] = make(map[*Connection]struct{})
	}
	if r.joined[c] == nil {
		r.joined[c] = make(map[uint]struct{})
	}
	r.rooms[room][c] = struct{}{}
	r.joined[c][room] = struct{}{}
	return true
}

// Leave reports whether the connection was a member.
func (r *Router) Leave(room uint, c *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(room, c)
}

func (r *Router) leave(room uint, c *Connection) bool {
	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, ok := members[c]; !ok {
		return false
	}
	delete(members, c)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
	delete(r.joined[c], room)
	if len(r.joined[c]) == 0 {
		delete(r.joined, c)
	}
	return true
}

// LeaveAll removes the connection from every room and returns them.
func (r *Router) LeaveAll(c *Connection) []uint {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.joined[c])
	for _, room := range rooms {
		r.leave(room, c)
	}
	return rooms
}

// Broadcast queues the event on every member except the given connection and
// returns the user ids it was queued for. Members are snapshotted under the
// same lock Join and Leave take.
func (r *Router) Broadcast(room uint, event string, payload any, except *Connection) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := make([]uint, 0, len(r.rooms[room]))
	for c := range r.rooms[room] {
		if c == except {
			continue
		}
		if c.enqueue(outbound{room: room, event: event, payload: payload}) {
			delivered = append(delivered, c.UserID)
		}
	}
	return lo.Uniq(delivered)
}

func (r *Router) MembersOf(room uint) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.rooms[room])
}

func (r *Router) IsMember(room uint, c *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][c]
	return ok
}

func (r *Router) Rooms(c *Connection) []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Keys(r.joined[c])
}
