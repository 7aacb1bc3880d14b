// Package client is the client-side session controller for the messaging
// gateway. A Session owns all conversation state on a single event-loop
// goroutine; public methods post commands to that loop.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"collab-messenger/messenger"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

type SendStatus int

const (
	SendPending SendStatus = iota
	SendFailed
)

// Pending is a sent message that has not been acknowledged yet.
type Pending struct {
	Ref            string
	ConversationID uint
	Content        string
	Status         SendStatus
	Err            string
}

type ReactionGroup struct {
	Emoji string
	Count int
	Mine  bool
}

type UpdateKind string

const (
	UpdateState         UpdateKind = "state"
	UpdateConversations UpdateKind = "conversations"
	UpdateMessages      UpdateKind = "messages"
	UpdateTyping        UpdateKind = "typing"
	UpdatePending       UpdateKind = "pending"
	UpdatePresence      UpdateKind = "presence"
	UpdateNotification  UpdateKind = "notification"
	UpdateError         UpdateKind = "error"
)

// Update tells the UI which part of the state changed.
type Update struct {
	Kind           UpdateKind
	ConversationID uint
	State          State
	Err            error
	Notification   *messenger.NotificationPayload
}

var (
	ErrNotConnected   = errors.New("not connected")
	ErrNoConversation = errors.New("no conversation open")
	ErrUnknownRef     = errors.New("unknown or not failed ref")
	ErrStopped        = errors.New("session stopped")
)

type Config struct {
	UserID    uint
	Transport Transport
	API       API
	Backoff   Backoff

	// IdleTimeout ends a typing burst after the last keystroke.
	IdleTimeout time.Duration
	// TypingRefresh re-announces a long burst before the server expires it.
	TypingRefresh time.Duration
	// TypingExpiry drops a remote typer that never sent typing=false. It
	// defaults to the server typing timeout.
	TypingExpiry time.Duration

	UpdateBuffer int
	Log          zerolog.Logger
}

type Session struct {
	cfg     Config
	cmds    chan func()
	updates chan Update
	done    chan struct{}
	log     zerolog.Logger

	// Everything below is owned by the loop goroutine.
	ctx           context.Context
	state         State
	conn          Conn
	connGen       int
	conversations map[uint]*Conversation
	messages      map[uint][]messenger.MessagePayload
	active        uint
	typers        map[uint]map[uint]*time.Timer
	online        map[uint]bool
	pending       map[string]*Pending
	pendingOrder  []string
	reads         map[string]uint

	typingOn     bool
	typingGen    int
	typingSentAt time.Time
	typingTimer  *time.Timer

	unreadNotifications int64
}

func NewSession(cfg Config) *Session {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Second
	}
	if cfg.TypingRefresh <= 0 {
		cfg.TypingRefresh = 2 * time.Second
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = messenger.DefaultTypingTimeout
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = 64
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	return &Session{
		cfg:           cfg,
		cmds:          make(chan func(), 64),
		updates:       make(chan Update, cfg.UpdateBuffer),
		done:          make(chan struct{}),
		log:           cfg.Log.With().Str("component", "session").Uint("user", cfg.UserID).Logger(),
		conversations: make(map[uint]*Conversation),
		messages:      make(map[uint][]messenger.MessagePayload),
		typers:        make(map[uint]map[uint]*time.Timer),
		online:        make(map[uint]bool),
		pending:       make(map[string]*Pending),
		reads:         make(map[string]uint),
	}
}

// Run connects and processes commands until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	s.ctx = ctx
	defer close(s.done)

	s.connect(0)

	for {
		select {
		case <-ctx.Done():
			s.teardown()
			return ctx.Err()
		case fn := <-s.cmds:
			fn()
		}
	}
}

// Updates streams change notifications. Updates are dropped when the
// consumer falls behind; state queries always return the current state.
func (s *Session) Updates() <-chan Update {
	return s.updates
}

func (s *Session) post(fn func()) bool {
	select {
	case s.cmds <- fn:
		return true
	case <-s.done:
		return false
	}
}

func query[T any](s *Session, fn func() T) T {
	v, _ := queryOK(s, fn)
	return v
}

// Public commands

// Open makes conversationID the active conversation: it joins its room,
// fetches messages newer than the cache and marks it read.
func (s *Session) Open(conversationID uint) {
	s.post(func() {
		if s.active == conversationID {
			return
		}
		s.leaveActive()
		s.active = conversationID
		if s.conn != nil {
			s.sendEvent(messenger.EventJoin, "", messenger.RoomRequest{ConversationID: conversationID})
			s.markRead(conversationID)
		}
		s.fetchGap(conversationID)
	})
}

// CloseConversation leaves the active conversation's room.
func (s *Session) CloseConversation() {
	s.post(s.leaveActive)
}

// Send posts content to the active conversation and returns its ref. A send
// that cannot be delivered is kept as failed and can be retried.
func (s *Session) Send(content string) (string, error) {
	type result struct {
		ref string
		err error
	}
	r, ok := queryOK(s, func() result {
		if s.active == 0 {
			return result{err: ErrNoConversation}
		}
		content = strings.TrimSpace(content)
		if content == "" {
			return result{err: errors.New("empty message")}
		}
		s.endTypingBurst()

		p := &Pending{Ref: uuid.NewString(), ConversationID: s.active, Content: content}
		s.pending[p.Ref] = p
		s.pendingOrder = append(s.pendingOrder, p.Ref)
		s.transmit(p)
		return result{ref: p.Ref}
	})
	if !ok {
		return "", ErrStopped
	}
	return r.ref, r.err
}

// Retry re-sends a failed message under the same ref.
func (s *Session) Retry(ref string) error {
	err, ok := queryOK(s, func() error {
		p, ok := s.pending[ref]
		if !ok || p.Status != SendFailed {
			return ErrUnknownRef
		}
		p.Status, p.Err = SendPending, ""
		s.transmit(p)
		return nil
	})
	if !ok {
		return ErrStopped
	}
	return err
}

// Keystroke feeds the typing debounce: the first keystroke of a burst sends
// typing=true and IdleTimeout of silence sends typing=false.
func (s *Session) Keystroke() {
	s.post(func() {
		if s.active == 0 || s.conn == nil {
			return
		}
		if !s.typingOn || time.Since(s.typingSentAt) >= s.cfg.TypingRefresh {
			s.sendEvent(messenger.EventTyping, "", messenger.TypingRequest{ConversationID: s.active, IsTyping: true})
			s.typingOn = true
			s.typingSentAt = time.Now()
		}

		s.typingGen++
		gen := s.typingGen
		if s.typingTimer != nil {
			s.typingTimer.Stop()
		}
		s.typingTimer = time.AfterFunc(s.cfg.IdleTimeout, func() {
			s.post(func() {
				if gen == s.typingGen && s.typingOn {
					s.stopTyping()
				}
			})
		})
	})
}

func (s *Session) React(messageID uint, emoji string) {
	s.post(func() {
		s.sendEvent(messenger.EventReactAdd, "", messenger.ReactionRequest{MessageID: messageID, Emoji: emoji})
	})
}

func (s *Session) Unreact(messageID uint, emoji string) {
	s.post(func() {
		s.sendEvent(messenger.EventReactRemove, "", messenger.ReactionRequest{MessageID: messageID, Emoji: emoji})
	})
}

// Reconnect starts a fresh dial cycle after the session gave up.
func (s *Session) Reconnect() {
	s.post(func() {
		if s.state == Disconnected {
			s.connect(0)
		}
	})
}

// Queries

func (s *Session) State() State {
	return query(s, func() State { return s.state })
}

func (s *Session) Active() uint {
	return query(s, func() uint { return s.active })
}

// Conversations returns the cached list, most recently active first.
func (s *Session) Conversations() []Conversation {
	return query(s, func() []Conversation {
		list := lo.Map(lo.Values(s.conversations), func(c *Conversation, _ int) Conversation { return *c })
		sort.Slice(list, func(i, j int) bool {
			if list[i].LastActivityAt != list[j].LastActivityAt {
				return list[i].LastActivityAt > list[j].LastActivityAt
			}
			return list[i].ID > list[j].ID
		})
		return list
	})
}

// Messages returns the cached messages of a conversation in id order.
func (s *Session) Messages(conversationID uint) []messenger.MessagePayload {
	return query(s, func() []messenger.MessagePayload {
		return append([]messenger.MessagePayload(nil), s.messages[conversationID]...)
	})
}

// Typing returns the users currently typing in a conversation.
func (s *Session) Typing(conversationID uint) []uint {
	return query(s, func() []uint {
		users := lo.Keys(s.typers[conversationID])
		sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
		return users
	})
}

func (s *Session) Pending() []Pending {
	return query(s, func() []Pending {
		return lo.FilterMap(s.pendingOrder, func(ref string, _ int) (Pending, bool) {
			p, ok := s.pending[ref]
			if !ok {
				return Pending{}, false
			}
			return *p, true
		})
	})
}

// Reactions groups a cached message's reactions by emoji in order of first
// use.
func (s *Session) Reactions(messageID uint) []ReactionGroup {
	return query(s, func() []ReactionGroup {
		m := s.findMessage(messageID)
		if m == nil {
			return nil
		}
		var groups []ReactionGroup
		index := make(map[string]int)
		for _, r := range m.Reactions {
			i, ok := index[r.Emoji]
			if !ok {
				i = len(groups)
				index[r.Emoji] = i
				groups = append(groups, ReactionGroup{Emoji: r.Emoji})
			}
			groups[i].Count++
			if r.UserID == s.cfg.UserID {
				groups[i].Mine = true
			}
		}
		return groups
	})
}

func (s *Session) Online(userID uint) bool {
	return query(s, func() bool { return s.online[userID] })
}

func (s *Session) UnreadNotifications() int64 {
	return query(s, func() int64 { return s.unreadNotifications })
}

// queryOK runs fn on the loop; ok is false once the session has stopped.

func queryOK[T any](s *Session, fn func() T) (T, bool) {
	ch := make(chan T, 1)
	var zero T
	if !s.post(func() { ch <- fn() }) {
		return zero, false
	}
	select {
	case v := <-ch:
		return v, true
	case <-s.done:
		return zero, false
	}
}

// Connection lifecycle

func (s *Session) connect(attempt int) {
	s.setState(Connecting)
	ctx := s.ctx

	go func() {
		if attempt > 0 {
			t := time.NewTimer(s.cfg.Backoff.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		conn, err := s.cfg.Transport.Dial(ctx)
		if !s.post(func() { s.dialed(conn, err, attempt) }) && conn != nil {
			conn.Close()
		}
	}()
}

func (s *Session) dialed(conn Conn, err error, attempt int) {
	if s.ctx.Err() != nil {
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Int("attempt", attempt+1).Msg("dial failed")
		if attempt+1 >= s.cfg.Backoff.MaxAttempts {
			s.setState(Disconnected)
			s.emit(Update{Kind: UpdateError, Err: fmt.Errorf("connect failed after %d attempts: %w", attempt+1, err)})
			return
		}
		s.connect(attempt + 1)
		return
	}

	s.conn = conn
	s.connGen++
	go s.readLoop(conn, s.connGen)
	s.setState(Connected)
	s.log.Info().Int("attempt", attempt+1).Msg("connected")

	s.resync()
}

func (s *Session) readLoop(conn Conn, gen int) {
	for {
		f, err := conn.Receive()
		if err != nil {
			s.post(func() { s.lost(gen, err) })
			return
		}
		if !s.post(func() {
			if gen == s.connGen {
				s.handle(f)
			}
		}) {
			return
		}
	}
}

// lost fails in-flight work and starts reconnecting.
func (s *Session) lost(gen int, err error) {
	if gen != s.connGen || s.conn == nil {
		return
	}
	s.log.Warn().Err(err).Msg("connection lost")
	s.conn.Close()
	s.conn = nil

	for _, p := range s.pending {
		if p.Status == SendPending {
			p.Status, p.Err = SendFailed, "not sent, connection lost"
		}
	}
	s.reads = make(map[string]uint)
	s.clearTypers()
	s.endTypingBurst()
	s.emit(Update{Kind: UpdatePending})

	s.connect(0)
}

// resync restores room membership and fills the gap left by a disconnect.
func (s *Session) resync() {
	if s.active != 0 {
		s.sendEvent(messenger.EventJoin, "", messenger.RoomRequest{ConversationID: s.active})
		s.markRead(s.active)
		s.fetchGap(s.active)
	}
	s.refreshConversations()
}

func (s *Session) teardown() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	if s.typingTimer != nil {
		s.typingTimer.Stop()
	}
	s.clearTypers()
	s.state = Disconnected
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.state = st
	s.emit(Update{Kind: UpdateState, State: st})
}

func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

// Outbound helpers

func (s *Session) sendEvent(event, ref string, data any) error {
	if s.conn == nil {
		return ErrNotConnected
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if err := s.conn.Send(messenger.Envelope{Event: event, Ref: ref, Data: raw}); err != nil {
		s.log.Debug().Err(err).Str("event", event).Msg("send failed")
		return err
	}
	return nil
}

func (s *Session) transmit(p *Pending) {
	err := s.sendEvent(messenger.EventSend, p.Ref, messenger.SendRequest{ConversationID: p.ConversationID, Content: p.Content})
	if err != nil {
		p.Status, p.Err = SendFailed, "not sent, "+err.Error()
	}
	s.emit(Update{Kind: UpdatePending, ConversationID: p.ConversationID})
}

// markRead asks the server to reset the counter; the local count changes
// only when the reply confirms it.
func (s *Session) markRead(conversationID uint) {
	ref := uuid.NewString()
	if err := s.sendEvent(messenger.EventRead, ref, messenger.RoomRequest{ConversationID: conversationID}); err != nil {
		return
	}
	s.reads[ref] = conversationID
}

func (s *Session) leaveActive() {
	if s.active == 0 {
		return
	}
	if s.typingOn {
		s.stopTyping()
	}
	s.sendEvent(messenger.EventLeave, "", messenger.RoomRequest{ConversationID: s.active})
	s.dropTypers(s.active)
	s.active = 0
}

func (s *Session) stopTyping() {
	s.sendEvent(messenger.EventTyping, "", messenger.TypingRequest{ConversationID: s.active, IsTyping: false})
	s.endTypingBurst()
}

// endTypingBurst resets local typing state without notifying the server.
func (s *Session) endTypingBurst() {
	s.typingOn = false
	s.typingGen++
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// Fetches run off the loop and post their results back.

// fetchGap pages through everything after the last cached message. Each page
// is merged before the next is requested, so a later push cannot move the
// cursor past an unfilled hole.
func (s *Session) fetchGap(conversationID uint) {
	var after uint
	if cached := s.messages[conversationID]; len(cached) > 0 {
		after = cached[len(cached)-1].ID
	}
	ctx := s.ctx
	go func() {
		for {
			page, err := s.cfg.API.Messages(ctx, conversationID, after)
			if err != nil {
				s.post(func() {
					s.log.Warn().Err(err).Uint("conversation", conversationID).Msg("fetch messages")
					s.emit(Update{Kind: UpdateError, ConversationID: conversationID, Err: err})
				})
				return
			}
			if len(page) > 0 {
				if !s.post(func() { s.merge(conversationID, page...) }) {
					return
				}
				after = page[len(page)-1].ID
			}
			if len(page) < PageSize || ctx.Err() != nil {
				return
			}
		}
	}()
}

func (s *Session) refreshConversations() {
	ctx := s.ctx
	go func() {
		list, err := s.cfg.API.Conversations(ctx)
		s.post(func() {
			if err != nil {
				s.log.Warn().Err(err).Msg("fetch conversations")
				s.emit(Update{Kind: UpdateError, Err: err})
				return
			}
			s.applyConversations(list)
		})
	}()
}

func (s *Session) applyConversations(list []Conversation) {
	fresh := make(map[uint]*Conversation, len(list))
	for _, c := range list {
		c := c
		if old, ok := s.conversations[c.ID]; ok {
			c.Preview = old.Preview
		}
		fresh[c.ID] = &c
	}
	s.conversations = fresh

	if c, ok := s.conversations[s.active]; ok && c.UnreadCount > 0 && s.conn != nil {
		s.markRead(s.active)
	}
	s.emit(Update{Kind: UpdateConversations})
}

// merge inserts messages into the cache, de-duplicated by id and kept in id
// order.
func (s *Session) merge(conversationID uint, msgs ...messenger.MessagePayload) {
	if len(msgs) == 0 {
		return
	}
	byID := lo.SliceToMap(s.messages[conversationID], func(m messenger.MessagePayload) (uint, messenger.MessagePayload) {
		return m.ID, m
	})
	for _, m := range msgs {
		byID[m.ID] = m
	}
	merged := lo.Values(byID)
	sort.Slice(merged, func(i, j int) bool { return merged[i].ID < merged[j].ID })
	s.messages[conversationID] = merged

	last := merged[len(merged)-1]
	if c, ok := s.conversations[conversationID]; ok && last.CreatedAt.UnixMilli() > c.LastActivityAt {
		c.LastActivityAt = last.CreatedAt.UnixMilli()
		c.Preview = last.Content
	}
	s.emit(Update{Kind: UpdateMessages, ConversationID: conversationID})
}

func (s *Session) findMessage(id uint) *messenger.MessagePayload {
	for conv, msgs := range s.messages {
		for i := range msgs {
			if msgs[i].ID == id {
				return &s.messages[conv][i]
			}
		}
	}
	return nil
}

func (s *Session) clearTypers() {
	for conv := range s.typers {
		s.dropTypers(conv)
	}
}

func (s *Session) dropTypers(conversationID uint) {
	for _, t := range s.typers[conversationID] {
		t.Stop()
	}
	delete(s.typers, conversationID)
}
