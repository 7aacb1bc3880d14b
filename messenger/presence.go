package messenger

import (
	"sync"

	"github.com/samber/lo"
)

// PresenceFunc observes online/offline transitions of one user.
type PresenceFunc func(userID uint, online bool)

// Presence tracks the one authoritative live connection per user. A newer
// connection replaces an older one; a stale SetOffline for a replaced
// connection is ignored.
type Presence struct {
	mu      sync.Mutex
	online  map[uint]*Connection
	subs    map[uint]map[uint64]PresenceFunc
	nextSub uint64
}

func NewPresence() *Presence {
	return &Presence{
		online: make(map[uint]*Connection),
		subs:   make(map[uint]map[uint64]PresenceFunc),
	}
}

// SetOnline registers c as the user's connection and reports whether the
// user went from offline to online.
func (p *Presence) SetOnline(userID uint, c *Connection) bool {
	p.mu.Lock()
	_, was := p.online[userID]
	p.online[userID] = c
	subs := p.subscribers(userID)
	p.mu.Unlock()

	if was {
		return false
	}
	for _, fn := range subs {
		fn(userID, true)
	}
	return true
}

// SetOffline clears the user's presence only when c is the registered
// connection and reports whether a transition happened.
func (p *Presence) SetOffline(userID uint, c *Connection) bool {
	p.mu.Lock()
	current, ok := p.online[userID]
	if !ok || current != c {
		p.mu.Unlock()
		return false
	}
	delete(p.online, userID)
	subs := p.subscribers(userID)
	p.mu.Unlock()

	for _, fn := range subs {
		fn(userID, false)
	}
	return true
}

func (p *Presence) IsOnline(userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.online[userID]
	return ok
}

// Connection returns the user's live connection or nil.
func (p *Presence) Connection(userID uint) *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *Presence) OnlineAmong(userIDs []uint) []uint {
	p.mu.Lock()
	defer p.mu.Unlock()
	return lo.Filter(userIDs, func(id uint, _ int) bool {
		_, ok := p.online[id]
		return ok
	})
}

// Subscribe registers fn for transitions of userID. The returned function
// removes the subscription.
func (p *Presence) Subscribe(userID uint, fn PresenceFunc) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSub++
	id := p.nextSub
	if p.subs[userID] == nil {
		p.subs[userID] = make(map[uint64]PresenceFunc)
	}
	p.subs[userID][id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs[userID], id)
		if len(p.subs[userID]) == 0 {
			delete(p.subs, userID)
		}
	}
}

func (p *Presence) subscribers(userID uint) []PresenceFunc {
	return lo.Values(p.subs[userID])
}
