package store

import (
	"context"
	"fmt"
	"time"

	"collab-messenger/model"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func directKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}

func (s *Store) Conversation(ctx context.Context, id uint) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.WithContext(ctx).Preload("Participants").First(&conv, id).Error
	if err != nil {
		return nil, wrap(fmt.Sprintf("conversation %d", id), err)
	}
	return &conv, nil
}

func (s *Store) IsParticipant(ctx context.Context, conversationID, userID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&count).Error
	if err != nil {
		return false, wrap("is participant", err)
	}
	return count > 0, nil
}

// Membership returns ErrNotFound when the conversation does not exist and
// ErrMembership when the user is not one of its participants.
func (s *Store) Membership(ctx context.Context, conversationID, userID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
		return wrap("membership", err)
	}
	if count == 0 {
		return fmt.Errorf("conversation %d: %w", conversationID, model.ErrNotFound)
	}
	ok, err := s.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("conversation %d: %w", conversationID, model.ErrMembership)
	}
	return nil
}

func (s *Store) ParticipantIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	var ids []uint
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("conversation_id = ?", conversationID).
		Order("user_id").
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, wrap("participant ids", err)
	}
	return ids, nil
}

// ContactIDs returns every other user sharing at least one conversation with userID.
func (s *Store) ContactIDs(ctx context.Context, userID uint) ([]uint, error) {
	var ids []uint
	sub := s.db.Model(&model.Participant{}).Select("conversation_id").Where("user_id = ?", userID)
	err := s.db.WithContext(ctx).Model(&model.Participant{}).
		Distinct("user_id").
		Where("conversation_id IN (?) AND user_id <> ?", sub, userID).
		Pluck("user_id", &ids).Error
	if err != nil {
		return nil, wrap("contact ids", err)
	}
	return ids, nil
}

// ListConversations returns the user's conversations, most recent activity first.
func (s *Store) ListConversations(ctx context.Context, userID uint) ([]model.ConversationSummary, error) {
	var parts []model.Participant
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&parts).Error; err != nil {
		return nil, wrap("list participants", err)
	}
	if len(parts) == 0 {
		return []model.ConversationSummary{}, nil
	}

	unread := lo.SliceToMap(parts, func(p model.Participant) (uint, int) {
		return p.ConversationID, p.UnreadCount
	})

	var convs []model.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Where("id IN ?", lo.Keys(unread)).
		Order("last_activity_at desc, id desc").
		Find(&convs).Error
	if err != nil {
		return nil, wrap("list conversations", err)
	}

	return lo.Map(convs, func(c model.Conversation, _ int) model.ConversationSummary {
		return model.ConversationSummary{Conversation: c, UnreadCount: unread[c.ID]}
	}), nil
}

// DirectConversation creates or fetches the single direct conversation of an
// unordered user pair.
func (s *Store) DirectConversation(ctx context.Context, a, b uint) (*model.Conversation, error) {
	if a == b {
		return nil, fmt.Errorf("direct conversation with self: %w", model.ErrValidation)
	}
	if err := s.userExists(ctx, b); err != nil {
		return nil, err
	}

	key := directKey(a, b)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv := model.Conversation{
			Kind:           model.ConversationDirect,
			DirectKey:      &key,
			LastActivityAt: time.Now(),
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&conv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create([]model.Participant{
			{ConversationID: conv.ID, UserID: a},
			{ConversationID: conv.ID, UserID: b},
		}).Error
	})
	if err != nil {
		return nil, wrap("create direct conversation", err)
	}

	var conv model.Conversation
	err = s.db.WithContext(ctx).Preload("Participants").Where("direct_key = ?", key).First(&conv).Error
	if err != nil {
		return nil, wrap("fetch direct conversation", err)
	}
	return &conv, nil
}

// GroupConversation fetches or creates the project's group conversation and
// adds project members that are not participants yet. Membership only grows.
func (s *Store) GroupConversation(ctx context.Context, projectID uint, name string) (*model.Conversation, error) {
	var members []uint
	err := s.db.WithContext(ctx).Model(&model.ProjectMember{}).
		Where("project_id = ?", projectID).
		Pluck("user_id", &members).Error
	if err != nil {
		return nil, wrap("project members", err)
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("project %d: %w", projectID, model.ErrNotFound)
	}

	var conv model.Conversation
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created := model.Conversation{
			Kind:           model.ConversationGroup,
			Name:           name,
			ProjectID:      &projectID,
			LastActivityAt: time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).First(&conv).Error; err != nil {
			return err
		}
		parts := lo.Map(members, func(id uint, _ int) model.Participant {
			return model.Participant{ConversationID: conv.ID, UserID: id}
		})
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&parts).Error
	})
	if err != nil {
		return nil, wrap("group conversation", err)
	}
	return s.Conversation(ctx, conv.ID)
}

// AddParticipant invites a user into a group conversation. The inviter must
// already be a participant.
func (s *Store) AddParticipant(ctx context.Context, conversationID, inviterID, userID uint) (*model.Conversation, error) {
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.Kind != model.ConversationGroup {
		return nil, fmt.Errorf("invite into direct conversation: %w", model.ErrValidation)
	}
	if !lo.ContainsBy(conv.Participants, func(p model.Participant) bool { return p.UserID == inviterID }) {
		return nil, fmt.Errorf("conversation %d: %w", conversationID, model.ErrMembership)
	}
	if err := s.userExists(ctx, userID); err != nil {
		return nil, err
	}

	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.Participant{ConversationID: conversationID, UserID: userID}).Error
	if err != nil {
		return nil, wrap("add participant", err)
	}
	return s.Conversation(ctx, conversationID)
}

func (s *Store) userExists(ctx context.Context, id uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return wrap("user exists", err)
	}
	if count == 0 {
		return fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// Users lists users available to start a conversation with.
func (s *Store) Users(ctx context.Context, exclude uint) ([]model.User, error) {
	var users []model.User
	err := s.db.WithContext(ctx).Where("id <> ?", exclude).Order("username").Find(&users).Error
	if err != nil {
		return nil, wrap("list users", err)
	}
	return users, nil
}
