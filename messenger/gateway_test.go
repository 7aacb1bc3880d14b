package messenger

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"collab-messenger/model"
	"collab-messenger/store"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConnect_RejectsBadCredential(t *testing.T) {
	f := newFixture(t, DefaultOptions())

	_, err := f.gateway.Connect(context.Background(), "forged", &recordingTransport{})
	require.ErrorIs(t, err, model.ErrAuthentication)
	require.False(t, f.gateway.Presence().IsOnline(f.users[0]))
}

func TestJoinRoom_Membership(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	carol, _ := f.connect(t, "token-carol")
	alice, _ := f.connect(t, "token-alice")

	require.ErrorIs(t, f.gateway.JoinRoom(ctx, carol, conv), model.ErrMembership)
	require.ErrorIs(t, f.gateway.JoinRoom(ctx, alice, conv+99), model.ErrNotFound)

	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.Len(t, f.gateway.Router().MembersOf(conv), 1)

	f.gateway.LeaveRoom(alice, conv)
	f.gateway.LeaveRoom(alice, conv)
	require.Empty(t, f.gateway.Router().MembersOf(conv))
}

func TestSendMessage_RoomMembersGetExactlyOneMessage(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, aliceTr := f.connect(t, "token-alice")
	bob, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, bob, conv))

	msg, err := f.gateway.SendMessage(ctx, alice, conv, "  hello  ")
	require.NoError(t, err)
	require.Equal(t, "hello", msg.Content)

	eventually(t, func() bool { return bobTr.count(EventMessage) == 1 && aliceTr.count(EventMessage) == 1 })
	settle()
	require.Equal(t, 1, bobTr.count(EventMessage))
	require.Zero(t, bobTr.count(EventMessageNotice))

	got := bobTr.named(EventMessage)[0].(MessagePayload)
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, f.users[0], got.SenderID)
}

func TestSendMessage_AbsentParticipantGetsNotice(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")
	_, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))

	_, err := f.gateway.SendMessage(ctx, alice, conv, "hello")
	require.NoError(t, err)

	eventually(t, func() bool { return bobTr.count(EventMessageNotice) == 1 })
	settle()
	require.Zero(t, bobTr.count(EventMessage))

	notice := bobTr.named(EventMessageNotice)[0].(MessageNotice)
	require.Equal(t, conv, notice.ConversationID)
	require.Equal(t, "hello", notice.Preview)

	unread, err := f.store.UnreadCount(ctx, conv, f.users[1])
	require.NoError(t, err)
	require.Equal(t, 1, unread)

	list, err := f.store.Notifications(ctx, f.users[1], 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, model.NotificationMessage, list[0].Kind)
}

func TestSendMessage_OfflineParticipantNotificationIsPersisted(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")

	_, err := f.gateway.SendMessage(ctx, alice, conv, "are you there?")
	require.NoError(t, err)

	list, err := f.store.Notifications(ctx, f.users[1], 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestSendMessage_Validation(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxMessageLength = 5
	f := newFixture(t, opts)
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")
	carol, _ := f.connect(t, "token-carol")

	_, err := f.gateway.SendMessage(ctx, alice, conv, "   ")
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.gateway.SendMessage(ctx, alice, conv, strings.Repeat("é", 6))
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = f.gateway.SendMessage(ctx, carol, conv, "hi")
	require.ErrorIs(t, err, model.ErrMembership)

	_, err = f.gateway.SendMessage(ctx, alice, conv, strings.Repeat("é", 5))
	require.NoError(t, err)
}

func TestLeaveRoom_SuppressesRoomEvents(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")
	bob, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, bob, conv))

	f.gateway.LeaveRoom(bob, conv)
	_, err := f.gateway.SendMessage(ctx, alice, conv, "after leave")
	require.NoError(t, err)

	eventually(t, func() bool { return bobTr.count(EventMessageNotice) == 1 })
	settle()
	require.Zero(t, bobTr.count(EventMessage))
}

func TestSetTyping_ExpiresAfterTimeout(t *testing.T) {
	opts := DefaultOptions()
	opts.TypingTimeout = 60 * time.Millisecond
	f := newFixture(t, opts)
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, aliceTr := f.connect(t, "token-alice")
	bob, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, bob, conv))

	start := time.Now()
	require.NoError(t, f.gateway.SetTyping(alice, conv, true))

	eventually(t, func() bool { return bobTr.count(EventTyping) == 2 })
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, opts.TypingTimeout)

	typing := bobTr.named(EventTyping)
	require.True(t, typing[0].(TypingPayload).IsTyping)
	require.False(t, typing[1].(TypingPayload).IsTyping)
	require.Zero(t, aliceTr.count(EventTyping))
}

func TestSetTyping_ExplicitStopCancelsExpiry(t *testing.T) {
	opts := DefaultOptions()
	opts.TypingTimeout = 40 * time.Millisecond
	f := newFixture(t, opts)
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")
	bob, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, bob, conv))

	require.NoError(t, f.gateway.SetTyping(alice, conv, true))
	require.NoError(t, f.gateway.SetTyping(alice, conv, false))
	require.NoError(t, f.gateway.SetTyping(alice, conv, false))

	time.Sleep(3 * opts.TypingTimeout)
	require.Equal(t, 2, bobTr.count(EventTyping))

	carol, _ := f.connect(t, "token-carol")
	require.ErrorIs(t, f.gateway.SetTyping(carol, conv, true), model.ErrMembership)
}

func TestReactions_IdempotentBroadcast(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, aliceTr := f.connect(t, "token-alice")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	msg, err := f.gateway.SendMessage(ctx, alice, conv, "vote")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.gateway.AddReaction(ctx, f.users[1], msg.ID, "👍"))
	}
	require.NoError(t, f.gateway.RemoveReaction(ctx, f.users[1], msg.ID, "🎉"))

	eventually(t, func() bool { return aliceTr.count(EventReaction) == 1 })
	settle()
	require.Equal(t, 1, aliceTr.count(EventReaction))

	r := aliceTr.named(EventReaction)[0].(ReactionPayload)
	require.Equal(t, ReactionAdd, r.Action)
	require.Equal(t, 1, r.Delta)

	count, err := f.store.ReactionCount(ctx, msg.ID, "👍")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	require.ErrorIs(t, f.gateway.AddReaction(ctx, f.users[1], msg.ID+50, "👍"), model.ErrNotFound)
	require.ErrorIs(t, f.gateway.AddReaction(ctx, f.users[2], msg.ID, "👍"), model.ErrMembership)
	require.ErrorIs(t, f.gateway.AddReaction(ctx, f.users[1], msg.ID, "two words"), model.ErrValidation)
}

func TestPresence_DuplicateDisconnectBroadcastsOnce(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	f.direct(t, f.users[0], f.users[1])
	_, bobTr := f.connect(t, "token-bob")
	alice, _ := f.connect(t, "token-alice")

	eventually(t, func() bool { return bobTr.count(EventPresence) == 1 })

	f.gateway.Disconnect(alice)
	f.gateway.Disconnect(alice)

	eventually(t, func() bool { return bobTr.count(EventPresence) == 2 })
	settle()
	events := bobTr.named(EventPresence)
	require.Len(t, events, 2)
	require.Equal(t, PresencePayload{UserID: f.users[0], Online: true}, events[0])
	require.Equal(t, PresencePayload{UserID: f.users[0], Online: false}, events[1])
}

func TestPresence_StaleDisconnectKeepsNewerConnection(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	first, _ := f.connect(t, "token-alice")
	second, _ := f.connect(t, "token-alice")

	f.gateway.Disconnect(first)
	require.True(t, f.gateway.Presence().IsOnline(f.users[0]))
	require.Same(t, second, f.gateway.Presence().Connection(f.users[0]))

	f.gateway.Disconnect(second)
	require.False(t, f.gateway.Presence().IsOnline(f.users[0]))
}

func TestDisconnect_ReleasesRoomsAndTyping(t *testing.T) {
	opts := DefaultOptions()
	opts.TypingTimeout = time.Hour
	f := newFixture(t, opts)
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, aliceTr := f.connect(t, "token-alice")
	bob, bobTr := f.connect(t, "token-bob")
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))
	require.NoError(t, f.gateway.JoinRoom(ctx, bob, conv))
	require.NoError(t, f.gateway.SetTyping(alice, conv, true))

	f.gateway.Disconnect(alice)

	require.Empty(t, f.gateway.Router().Rooms(alice))
	require.False(t, f.gateway.typing.Active(conv, f.users[0]))
	eventually(t, func() bool { return bobTr.count(EventTyping) == 2 })
	require.True(t, aliceTr.isClosed())
}

func TestSendMessage_PublishesCommittedEvent(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	pub := &recordingPublisher{}
	f.gateway.WithPublisher(pub)
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")

	msg, err := f.gateway.SendMessage(ctx, alice, conv, "ship it")
	require.NoError(t, err)
	require.NoError(t, f.gateway.AddReaction(ctx, f.users[1], msg.ID, "🚀"))
	require.NoError(t, f.gateway.RemoveReaction(ctx, f.users[1], msg.ID, "🚀"))

	require.Equal(t, []string{"message.created", "reaction.added", "reaction.removed"}, pub.actions)
}

func TestJoinRoom_AfterDisconnectLeavesNoMembership(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	alice, _ := f.connect(t, "token-alice")

	f.gateway.Disconnect(alice)
	require.NoError(t, f.gateway.JoinRoom(ctx, alice, conv))

	require.Empty(t, f.gateway.Router().Rooms(alice))
	require.Empty(t, f.gateway.Router().MembersOf(conv))
}

// brokenStore fails every message insert as a storage outage would.
type brokenStore struct {
	*store.Store
}

func (brokenStore) CreateMessage(context.Context, uint, uint, string) (*model.Message, error) {
	return nil, fmt.Errorf("insert message: connection reset: %w", model.ErrStorage)
}

func TestSendMessage_StorageFailureAppliesNothing(t *testing.T) {
	f := newFixture(t, DefaultOptions())
	ctx := context.Background()
	conv := f.direct(t, f.users[0], f.users[1])
	before, err := f.store.Conversation(ctx, conv)
	require.NoError(t, err)

	log := zerolog.Nop()
	presence := NewPresence()
	gw := NewGateway(brokenStore{f.store}, f.auth, presence, NewRouter(), NewFanout(f.store, presence, log), DefaultOptions(), log)

	connect := func(token string) (*Connection, *recordingTransport) {
		tr := &recordingTransport{}
		c, err := gw.Connect(ctx, token, tr)
		require.NoError(t, err)
		t.Cleanup(func() { gw.Disconnect(c) })
		return c, tr
	}
	alice, aliceTr := connect("token-alice")
	_, carolTr := connect("token-carol")
	bob, bobTr := connect("token-bob")
	require.NoError(t, gw.JoinRoom(ctx, alice, conv))
	require.NoError(t, gw.JoinRoom(ctx, bob, conv))

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go gw.Serve(sctx, alice)
	require.True(t, alice.Deliver(Envelope{Event: EventSend, Ref: "s1", Data: rawData(t, SendRequest{ConversationID: conv, Content: "lost"})}))

	eventually(t, func() bool { return len(replies(aliceTr)) == 1 })
	got := replies(aliceTr)[0]
	require.Equal(t, "s1", got.Ref)
	require.False(t, got.OK)
	require.Equal(t, "storage", got.Code)

	settle()
	for _, tr := range []*recordingTransport{aliceTr, bobTr, carolTr} {
		require.Zero(t, tr.count(EventMessage))
		require.Zero(t, tr.count(EventMessageNotice))
		require.Zero(t, tr.count(EventNotification))
	}
	require.Empty(t, replies(bobTr))

	msgs, err := f.store.Messages(ctx, conv, store.MessageQuery{})
	require.NoError(t, err)
	require.Empty(t, msgs)
	unread, err := f.store.UnreadCount(ctx, conv, f.users[1])
	require.NoError(t, err)
	require.Zero(t, unread)
	after, err := f.store.Conversation(ctx, conv)
	require.NoError(t, err)
	require.True(t, before.LastActivityAt.Equal(after.LastActivityAt))
}
