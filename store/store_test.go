package store

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"collab-messenger/database"
	"collab-messenger/model"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return New(db)
}

func seedUsers(t *testing.T, s *Store, n int) []uint {
	t.Helper()
	ids := make([]uint, 0, n)
	for i := 0; i < n; i++ {
		u := model.User{
			Username: fmt.Sprintf("user%d", i),
			Email:    fmt.Sprintf("user%d@example.com", i),
			Password: "x",
		}
		require.NoError(t, s.DB().Create(&u).Error)
		ids = append(ids, u.ID)
	}
	return ids
}

func TestDirectConversation_SamePairReturnsSameConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 3)

	first, err := s.DirectConversation(ctx, users[0], users[1])
	require.NoError(t, err)
	second, err := s.DirectConversation(ctx, users[1], users[0])
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Len(t, second.Participants, 2)

	other, err := s.DirectConversation(ctx, users[0], users[2])
	require.NoError(t, err)
	require.NotEqual(t, first.ID, other.ID)

	var count int64
	require.NoError(t, s.DB().Model(&model.Conversation{}).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestDirectConversation_Rejects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 1)

	_, err := s.DirectConversation(ctx, users[0], users[0])
	require.ErrorIs(t, err, model.ErrValidation)

	_, err = s.DirectConversation(ctx, users[0], 999)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCreateMessage_BumpsUnreadForOthersOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 2)
	conv, err := s.DirectConversation(ctx, users[0], users[1])
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, conv.ID, users[0], fmt.Sprintf("hello %d", i))
		require.NoError(t, err)
	}

	unread, err := s.UnreadCount(ctx, conv.ID, users[1])
	require.NoError(t, err)
	require.Equal(t, 3, unread)

	unread, err = s.UnreadCount(ctx, conv.ID, users[0])
	require.NoError(t, err)
	require.Equal(t, 0, unread)

	require.NoError(t, s.MarkRead(ctx, conv.ID, users[1]))
	unread, err = s.UnreadCount(ctx, conv.ID, users[1])
	require.NoError(t, err)
	require.Equal(t, 0, unread)

	require.NoError(t, s.MarkRead(ctx, conv.ID, users[1]))
	unread, err = s.UnreadCount(ctx, conv.ID, users[1])
	require.NoError(t, err)
	require.Equal(t, 0, unread)
}

func TestMarkRead_CounterMatchesMarkerUnderConcurrentSends(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 2)
	conv, err := s.DirectConversation(ctx, users[0], users[1])
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			_, err := s.CreateMessage(ctx, conv.ID, users[0], fmt.Sprintf("m%d", i))
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, s.MarkRead(ctx, conv.ID, users[1]))
		}
	}()
	wg.Wait()

	var p model.Participant
	require.NoError(t, s.DB().Where("conversation_id = ? AND user_id = ?", conv.ID, users[1]).First(&p).Error)
	var after int64
	require.NoError(t, s.DB().Model(&model.Message{}).
		Where("conversation_id = ? AND id > ?", conv.ID, p.LastReadMessageID).
		Count(&after).Error)
	require.EqualValues(t, after, p.UnreadCount)

	require.NoError(t, s.MarkRead(ctx, conv.ID, users[1]))
	require.NoError(t, s.DB().Where("conversation_id = ? AND user_id = ?", conv.ID, users[1]).First(&p).Error)
	require.Zero(t, p.UnreadCount)

	var last model.Message
	require.NoError(t, s.DB().Where("conversation_id = ?", conv.ID).Order("id desc").First(&last).Error)
	require.Equal(t, last.ID, p.LastReadMessageID)
}

func TestCreateMessage_UnknownConversationRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 1)

	_, err := s.CreateMessage(ctx, 42, users[0], "lost")
	require.ErrorIs(t, err, model.ErrNotFound)

	var count int64
	require.NoError(t, s.DB().Model(&model.Message{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestMessages_AfterAndBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 2)
	conv, err := s.DirectConversation(ctx, users[0], users[1])
	require.NoError(t, err)

	var ids []uint
	for i := 0; i < 5; i++ {
		m, err := s.CreateMessage(ctx, conv.ID, users[i%2], fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	after, err := s.Messages(ctx, conv.ID, MessageQuery{AfterID: ids[2]})
	require.NoError(t, err)
	require.Len(t, after, 2)
	require.Equal(t, ids[3], after[0].ID)
	require.Equal(t, ids[4], after[1].ID)

	latest, err := s.Messages(ctx, conv.ID, MessageQuery{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, []uint{ids[3], ids[4]}, []uint{latest[0].ID, latest[1].ID})

	before, err := s.Messages(ctx, conv.ID, MessageQuery{BeforeID: ids[1]})
	require.NoError(t, err)
	require.Len(t, before, 1)
	require.Equal(t, ids[0], before[0].ID)
}

func TestReactions_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 2)
	conv, err := s.DirectConversation(ctx, users[0], users[1])
	require.NoError(t, err)
	msg, err := s.CreateMessage(ctx, conv.ID, users[0], "react to me")
	require.NoError(t, err)

	added, err := s.AddReaction(ctx, msg.ID, users[1], "👍")
	require.NoError(t, err)
	require.True(t, added)

	for i := 0; i < 3; i++ {
		added, err = s.AddReaction(ctx, msg.ID, users[1], "👍")
		require.NoError(t, err)
		require.False(t, added)
	}

	count, err := s.ReactionCount(ctx, msg.ID, "👍")
	require.NoError(t, err)
	require.EqualValues(t, 1, count)

	removed, err := s.RemoveReaction(ctx, msg.ID, users[0], "🎉")
	require.NoError(t, err)
	require.False(t, removed)

	removed, err = s.RemoveReaction(ctx, msg.ID, users[1], "👍")
	require.NoError(t, err)
	require.True(t, removed)

	got, err := s.Message(ctx, msg.ID)
	require.NoError(t, err)
	require.Empty(t, got.Reactions)
}

func TestGroupConversation_GrowsWithProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 4)

	require.NoError(t, s.DB().Create(&[]model.ProjectMember{
		{ProjectID: 7, UserID: users[0]},
		{ProjectID: 7, UserID: users[1]},
	}).Error)

	conv, err := s.GroupConversation(ctx, 7, "Launch")
	require.NoError(t, err)
	require.Equal(t, model.ConversationGroup, conv.Kind)
	require.Len(t, conv.Participants, 2)

	require.NoError(t, s.DB().Create(&model.ProjectMember{ProjectID: 7, UserID: users[2]}).Error)
	again, err := s.GroupConversation(ctx, 7, "Launch")
	require.NoError(t, err)
	require.Equal(t, conv.ID, again.ID)
	require.Len(t, again.Participants, 3)

	_, err = s.AddParticipant(ctx, conv.ID, users[3], users[3])
	require.ErrorIs(t, err, model.ErrMembership)

	invited, err := s.AddParticipant(ctx, conv.ID, users[0], users[3])
	require.NoError(t, err)
	require.Len(t, invited.Participants, 4)

	require.ErrorIs(t, s.Membership(ctx, conv.ID+100, users[0]), model.ErrNotFound)
	require.NoError(t, s.Membership(ctx, conv.ID, users[3]))

	contacts, err := s.ContactIDs(ctx, users[0])
	require.NoError(t, err)
	require.ElementsMatch(t, users[1:], contacts)
}

func TestNotifications_ReadFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	users := seedUsers(t, s, 1)

	for _, title := range []string{"assigned", "due soon"} {
		require.NoError(t, s.CreateNotification(ctx, &model.Notification{
			UserID: users[0],
			Kind:   model.NotificationAssignment,
			Title:  title,
		}))
	}

	list, err := s.Notifications(ctx, users[0], 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "due soon", list[0].Title)

	n, err := s.MarkNotificationRead(ctx, users[0], list[0].ID)
	require.NoError(t, err)
	require.True(t, n.Read)

	_, err = s.MarkNotificationRead(ctx, users[0]+1, list[1].ID)
	require.ErrorIs(t, err, model.ErrNotFound)

	left, err := s.MarkAllNotificationsRead(ctx, users[0])
	require.NoError(t, err)
	require.Zero(t, left)
}

func TestUsers_CreateAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &model.User{Username: "dana", Email: "dana@example.com", Password: "hash"}
	require.NoError(t, s.CreateUser(ctx, u))

	dup := &model.User{Username: "dana2", Email: "dana@example.com", Password: "hash"}
	require.ErrorIs(t, s.CreateUser(ctx, dup), model.ErrValidation)
	dup = &model.User{Username: "dana", Email: "other@example.com", Password: "hash"}
	require.ErrorIs(t, s.CreateUser(ctx, dup), model.ErrValidation)

	byEmail, err := s.UserByLogin(ctx, "dana@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	byName, err := s.UserByLogin(ctx, "dana")
	require.NoError(t, err)
	require.Equal(t, u.ID, byName.ID)

	_, err = s.UserByLogin(ctx, "nobody")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.SetOtpEnabled(ctx, u.ID, true))
	got, err := s.User(ctx, u.ID)
	require.NoError(t, err)
	require.True(t, got.OtpEnabled)
	require.ErrorIs(t, s.SetOtpEnabled(ctx, 9999, true), model.ErrNotFound)
}
