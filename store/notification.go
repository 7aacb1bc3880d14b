package store

import (
	"context"
	"fmt"

	"collab-messenger/model"
)

func (s *Store) CreateNotification(ctx context.Context, n *model.Notification) error {
	if err := s.db.WithContext(ctx).Create(n).Error; err != nil {
		return wrap("create notification", err)
	}
	return nil
}

func (s *Store) Notifications(ctx context.Context, userID uint, limit int) ([]model.Notification, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = DefaultPageSize
	}
	var list []model.Notification
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id desc").
		Limit(limit).
		Find(&list).Error
	if err != nil {
		return nil, wrap("list notifications", err)
	}
	return list, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id uint) (*model.Notification, error) {
	res := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("read", true)
	if res.Error != nil {
		return nil, wrap("mark notification read", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("notification %d: %w", id, model.ErrNotFound)
	}

	var n model.Notification
	if err := s.db.WithContext(ctx).First(&n, id).Error; err != nil {
		return nil, wrap("fetch notification", err)
	}
	return &n, nil
}

// MarkAllNotificationsRead returns the unread count left afterwards, which is
// zero unless a notification arrived concurrently.
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID uint) (int64, error) {
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
	if err != nil {
		return 0, wrap("mark all notifications read", err)
	}
	return s.UnreadNotifications(ctx, userID)
}

func (s *Store) UnreadNotifications(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&count).Error
	if err != nil {
		return 0, wrap("unread notifications", err)
	}
	return count, nil
}
