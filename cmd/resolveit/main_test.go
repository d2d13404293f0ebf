package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/resolveit/platform/internal/case/domain"
	caseinfra "github.com/resolveit/platform/internal/case/infrastructure"
	"github.com/resolveit/platform/internal/shared/config"
	"github.com/resolveit/platform/internal/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenRepository(t *testing.T) {
	connected := func(context.Context, config.DatabaseConfig) (*database.DB, error) {
		return &database.DB{}, nil
	}
	unreachable := func(context.Context, config.DatabaseConfig) (*database.DB, error) {
		return nil, fmt.Errorf("connection refused")
	}
	migrated := func(string, *zap.Logger) error { return nil }
	brokenSchema := func(string, *zap.Logger) error { return fmt.Errorf("dirty database version 2") }

	tests := []struct {
		name    string
		connect connectFunc
		migrate migrateFunc
		limited bool
	}{
		{"postgres", connected, migrated, false},
		{"no database", unreachable, migrated, true},
		{"migration failed", connected, brokenSchema, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, db := openRepository(context.Background(), config.DatabaseConfig{}, tt.connect, tt.migrate, zap.NewNop())
			require.NotNil(t, repo)

			if !tt.limited {
				assert.NotNil(t, db)
				assert.IsType(t, &caseinfra.PostgresRepository{}, repo)
				return
			}

			assert.Nil(t, db)
			require.IsType(t, &caseinfra.MemoryRepository{}, repo)

			// limited mode serves the seeded accounts
			cases, err := repo.FindMany(context.Background(), domain.ListFilter{})
			require.NoError(t, err)
			assert.Empty(t, cases)
			admin, err := repo.FindUser(context.Background(), 3)
			require.NoError(t, err)
			assert.Equal(t, domain.RoleAdmin, admin.Role)
		})
	}
}
