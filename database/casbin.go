package database

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const (
	RoleAdmin   = "admin"
	RoleService = "service"
	RoleUser    = "user"
)

// Casbin builds the enforcer guarding /v1/admin. Integration services
// (kanban, calendar) hold the service role and may raise notifications.
func Casbin(db *gorm.DB, modelPath string) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("casbin adapter: %w", err)
	}

	e, err := casbin.NewEnforcer(modelPath, adapter)
	if err != nil {
		return nil, fmt.Errorf("casbin enforcer: %w", err)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("casbin load policy: %w", err)
	}

	defaults := [][]string{
		{RoleAdmin, "/v1/admin/*", "(GET)|(POST)|(PUT)|(DELETE)"},
		{RoleService, "/v1/admin/notifications", "POST"},
	}
	for _, p := range defaults {
		if ok, _ := e.HasPolicy(p[0], p[1], p[2]); !ok {
			if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
				return nil, fmt.Errorf("casbin add policy: %w", err)
			}
		}
	}
	return e, nil
}
