// Package store is the gorm-backed data-access boundary for conversations,
// messages, reactions and notifications.
package store

import (
	"errors"
	"fmt"

	"collab-messenger/model"

	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

// wrap classifies driver errors into the model taxonomy.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	if errors.Is(err, model.ErrNotFound) || errors.Is(err, model.ErrMembership) || errors.Is(err, model.ErrValidation) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, model.ErrStorage, err)
}
