package store

import (
	"context"
	"fmt"
	"net/mail"

	"collab-messenger/model"
)

// CreateUser inserts u after checking that its email and username are free.
func (s *Store) CreateUser(ctx context.Context, u *model.User) error {
	taken := func(field, value string) (bool, error) {
		var count int64
		err := s.db.WithContext(ctx).Model(&model.User{}).Where(field+" = ?", value).Count(&count).Error
		return count > 0, err
	}

	if ok, err := taken("email", u.Email); err != nil {
		return wrap("create user", err)
	} else if ok {
		return fmt.Errorf("email is already registered: %w", model.ErrValidation)
	}
	if ok, err := taken("username", u.Username); err != nil {
		return wrap("create user", err)
	} else if ok {
		return fmt.Errorf("username is already registered: %w", model.ErrValidation)
	}

	return wrap("create user", s.db.WithContext(ctx).Create(u).Error)
}

func (s *Store) User(ctx context.Context, id uint) (*model.User, error) {
	var u model.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, wrap("user", err)
	}
	return &u, nil
}

// UserByLogin finds a user by email when login parses as an address and by
// username otherwise.
func (s *Store) UserByLogin(ctx context.Context, login string) (*model.User, error) {
	q := s.db.WithContext(ctx)
	if _, err := mail.ParseAddress(login); err == nil {
		q = q.Where(&model.User{Email: login})
	} else {
		q = q.Where(&model.User{Username: login})
	}

	var u model.User
	if err := q.First(&u).Error; err != nil {
		return nil, wrap("user by login", err)
	}
	return &u, nil
}

func (s *Store) SetOtpEnabled(ctx context.Context, id uint, enabled bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("otp_enabled", enabled)
	if res.Error != nil {
		return wrap("set otp", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return nil
}
