package messenger

import (
	"context"
	"fmt"
	"time"

	"collab-messenger/model"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Store is the slice of the conversation store the gateway depends on.
type Store interface {
	Membership(ctx context.Context, conversationID, userID uint) error
	ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error)
	ContactIDs(ctx context.Context, userID uint) ([]uint, error)
	CreateMessage(ctx context.Context, conversationID, senderID uint, content string) (*model.Message, error)
	Message(ctx context.Context, id uint) (*model.Message, error)
	AddReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error)
	RemoveReaction(ctx context.Context, messageID, userID uint, emoji string) (bool, error)
	MarkRead(ctx context.Context, conversationID, userID uint) error
}

// Authenticator verifies an opaque bearer credential and returns its user.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (uint, error)
}

// Publisher forwards committed domain events to other services.
type Publisher interface {
	Publish(ctx context.Context, action string, payload any) error
}

type Options struct {
	MaxMessageLength int
	TypingTimeout    time.Duration
	OutboundBuffer   int
	InboundRate      float64
	InboundBurst     int
}

// DefaultTypingTimeout is how long a typing=true signal lives without a
// refresh. Clients expire remote typers after the same interval.
const DefaultTypingTimeout = 3 * time.Second

func DefaultOptions() Options {
	return Options{
		MaxMessageLength: 4000,
		TypingTimeout:    DefaultTypingTimeout,
		OutboundBuffer:   64,
		InboundRate:      20,
		InboundBurst:     40,
	}
}

const opTimeout = 10 * time.Second

type Gateway struct {
	store     Store
	auth      Authenticator
	presence  *Presence
	router    *Router
	typing    *Typing
	fanout    *Fanout
	publisher Publisher
	opts      Options
	log       zerolog.Logger
}

func NewGateway(store Store, auth Authenticator, presence *Presence, router *Router, fanout *Fanout, opts Options, log zerolog.Logger) *Gateway {
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = DefaultOptions().OutboundBuffer
	}
	if opts.InboundBurst <= 0 {
		opts.InboundBurst = DefaultOptions().InboundBurst
	}
	if opts.TypingTimeout <= 0 {
		opts.TypingTimeout = DefaultOptions().TypingTimeout
	}
	g := &Gateway{
		store:    store,
		auth:     auth,
		presence: presence,
		router:   router,
		fanout:   fanout,
		opts:     opts,
		log:      log.With().Str("component", "gateway").Logger(),
	}
	g.typing = NewTyping(opts.TypingTimeout, g.typingExpired)
	return g
}

// WithPublisher enables forwarding of committed events.
func (g *Gateway) WithPublisher(p Publisher) *Gateway {
	g.publisher = p
	return g
}

func (g *Gateway) Presence() *Presence { return g.presence }
func (g *Gateway) Router() *Router     { return g.router }
func (g *Gateway) Fanout() *Fanout     { return g.fanout }

// Connect authenticates the credential and registers a live connection. The
// caller must run Serve for it and call Disconnect when the transport drops.
func (g *Gateway) Connect(ctx context.Context, credential string, t Transport) (*Connection, error) {
	userID, err := g.auth.Authenticate(ctx, credential)
	if err != nil {
		g.log.Warn().Err(err).Msg("connection rejected")
		return nil, fmt.Errorf("connect: %w", model.ErrAuthentication)
	}

	c := newConnection(userID, t, g.opts, g.log)
	go c.writeLoop(g.router.IsMember)

	if g.presence.SetOnline(userID, c) {
		g.broadcastPresence(ctx, userID, true)
	}
	g.sendPresenceSnapshot(ctx, c)

	c.log.Info().Msg("connected")
	return c, nil
}

// Disconnect tears the connection down. Calling it more than once is safe.
func (g *Gateway) Disconnect(c *Connection) {
	if !c.close() {
		return
	}

	for _, room := range g.typing.StopConnection(c) {
		g.router.Broadcast(room, EventTyping, TypingPayload{ConversationID: room, UserID: c.UserID, IsTyping: false}, c)
	}
	g.router.LeaveAll(c)

	if g.presence.SetOffline(c.UserID, c) {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		g.broadcastPresence(ctx, c.UserID, false)
		cancel()
	}

	if err := c.transport.Close(); err != nil {
		c.log.Debug().Err(err).Msg("transport close")
	}
	c.log.Info().Msg("disconnected")
}

// JoinRoom subscribes the connection to a conversation it participates in.
// Joining twice is a no-op.
func (g *Gateway) JoinRoom(ctx context.Context, c *Connection, conversationID uint) error {
	if err := g.store.Membership(ctx, conversationID, c.UserID); err != nil {
		return err
	}
	if g.router.Join(conversationID, c) {
		c.log.Debug().Uint("room", conversationID).Msg("joined")
	}
	return nil
}

// LeaveRoom unsubscribes the connection; events queued for the room and not
// yet written are discarded.
func (g *Gateway) LeaveRoom(c *Connection, conversationID uint) {
	if g.typing.Stop(conversationID, c.UserID) {
		g.router.Broadcast(conversationID, EventTyping, TypingPayload{ConversationID: conversationID, UserID: c.UserID, IsTyping: false}, c)
	}
	if g.router.Leave(conversationID, c) {
		c.log.Debug().Uint("room", conversationID).Msg("left")
	}
}

// SendMessage persists the message and then pushes it to the room. Members of
// the conversation not in the room get a messageNotice instead.
func (g *Gateway) SendMessage(ctx context.Context, c *Connection, conversationID uint, content string) (*MessagePayload, error) {
	content, err := validateContent(content, g.opts.MaxMessageLength)
	if err != nil {
		return nil, err
	}
	if err := g.store.Membership(ctx, conversationID, c.UserID); err != nil {
		return nil, err
	}

	msg, err := g.store.CreateMessage(ctx, conversationID, c.UserID, content)
	if err != nil {
		return nil, err
	}

	if g.typing.Stop(conversationID, c.UserID) {
		g.router.Broadcast(conversationID, EventTyping, TypingPayload{ConversationID: conversationID, UserID: c.UserID, IsTyping: false}, c)
	}

	payload := NewMessagePayload(msg)
	inRoom := g.router.Broadcast(conversationID, EventMessage, payload, nil)

	participants, err := g.store.ParticipantIDs(ctx, conversationID)
	if err != nil {
		g.log.Error().Err(err).Uint("message", msg.ID).Msg("participants for fan-out")
	} else {
		absent := lo.Filter(participants, func(id uint, _ int) bool {
			return id != c.UserID && !lo.Contains(inRoom, id)
		})
		if err := g.fanout.MessageNotice(ctx, msg, absent); err != nil {
			g.log.Error().Err(err).Uint("message", msg.ID).Msg("message fan-out")
		}
	}

	g.publish(ctx, "message.created", payload)
	return &payload, nil
}

// SetTyping relays a typing signal to the other room members. A typing=true
// signal that is not refreshed within the timeout is turned into typing=false.
func (g *Gateway) SetTyping(c *Connection, conversationID uint, isTyping bool) error {
	if !g.router.IsMember(conversationID, c) {
		return fmt.Errorf("typing in room %d not joined: %w", conversationID, model.ErrMembership)
	}

	if isTyping {
		g.typing.Start(conversationID, c)
	} else if !g.typing.Stop(conversationID, c.UserID) {
		return nil
	}

	g.router.Broadcast(conversationID, EventTyping, TypingPayload{
		ConversationID: conversationID,
		UserID:         c.UserID,
		IsTyping:       isTyping,
	}, c)
	return nil
}

func (g *Gateway) typingExpired(room, user uint, c *Connection) {
	g.router.Broadcast(room, EventTyping, TypingPayload{ConversationID: room, UserID: user, IsTyping: false}, c)
}

// AddReaction records the reaction once and broadcasts the delta. Repeating it
// succeeds without a second broadcast.
func (g *Gateway) AddReaction(ctx context.Context, userID, messageID uint, emoji string) error {
	return g.react(ctx, userID, messageID, emoji, true)
}

// RemoveReaction deletes the reaction. Removing one that does not exist succeeds.
func (g *Gateway) RemoveReaction(ctx context.Context, userID, messageID uint, emoji string) error {
	return g.react(ctx, userID, messageID, emoji, false)
}

func (g *Gateway) react(ctx context.Context, userID, messageID uint, emoji string, add bool) error {
	if err := validateEmoji(emoji); err != nil {
		return err
	}
	msg, err := g.store.Message(ctx, messageID)
	if err != nil {
		return err
	}
	if err := g.store.Membership(ctx, msg.ConversationID, userID); err != nil {
		return err
	}

	var changed bool
	action, delta := ReactionAdd, 1
	if add {
		changed, err = g.store.AddReaction(ctx, messageID, userID, emoji)
	} else {
		action, delta = ReactionRemove, -1
		changed, err = g.store.RemoveReaction(ctx, messageID, userID, emoji)
	}
	if err != nil || !changed {
		return err
	}

	payload := ReactionPayload{
		MessageID:      messageID,
		ConversationID: msg.ConversationID,
		UserID:         userID,
		Emoji:          emoji,
		Action:         action,
		Delta:          delta,
	}
	g.router.Broadcast(msg.ConversationID, EventReaction, payload, nil)
	if add {
		g.publish(ctx, "reaction.added", payload)
	} else {
		g.publish(ctx, "reaction.removed", payload)
	}
	return nil
}

// MarkRead resets the user's unread counter for the conversation.
func (g *Gateway) MarkRead(ctx context.Context, userID, conversationID uint) error {
	if err := g.store.Membership(ctx, conversationID, userID); err != nil {
		return err
	}
	return g.store.MarkRead(ctx, conversationID, userID)
}

func (g *Gateway) broadcastPresence(ctx context.Context, userID uint, online bool) {
	contacts, err := g.store.ContactIDs(ctx, userID)
	if err != nil {
		g.log.Error().Err(err).Uint("user", userID).Msg("contacts for presence")
		return
	}
	payload := PresencePayload{UserID: userID, Online: online}
	for _, id := range contacts {
		if c := g.presence.Connection(id); c != nil {
			c.Push(EventPresence, payload)
		}
	}
}

func (g *Gateway) sendPresenceSnapshot(ctx context.Context, c *Connection) {
	contacts, err := g.store.ContactIDs(ctx, c.UserID)
	if err != nil {
		c.log.Error().Err(err).Msg("contacts for presence snapshot")
		return
	}
	for _, id := range g.presence.OnlineAmong(contacts) {
		c.Push(EventPresence, PresencePayload{UserID: id, Online: true})
	}
}

func (g *Gateway) publish(ctx context.Context, action string, payload any) {
	if g.publisher == nil {
		return
	}
	if err := g.publisher.Publish(ctx, action, payload); err != nil {
		g.log.Error().Err(err).Str("action", action).Msg("publish event")
	}
}
