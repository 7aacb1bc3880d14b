package database

import (
	"fmt"

	"collab-messenger/model"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func PostgresConnect(dsn string, log zerolog.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	log.Info().Msg("connection opened to Postgres")

	if err := Migrate(db); err != nil {
		return nil, err
	}
	log.Info().Msg("Postgres database migrated")
	return db, nil
}

// Migrate creates the tables the messenger owns. project_members is created
// here too so development databases work without the project module.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&model.User{},
		&model.Conversation{},
		&model.Participant{},
		&model.Message{},
		&model.Reaction{},
		&model.Notification{},
		&model.ProjectMember{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
