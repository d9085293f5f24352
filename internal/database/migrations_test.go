package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/tabletop/internal/models"
)

func TestAutoMigrateCreatesTabletopTables(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))

	migrator := db.Migrator()
	tables := []interface{}{
		&models.Campaign{},
		&models.Character{},
		&models.GameMap{},
		&models.Encounter{},
		&models.SessionEvent{},
	}
	for _, table := range tables {
		require.True(t, migrator.HasTable(table), "expected table for %T", table)
	}
	require.True(t, migrator.HasIndex(&models.SessionEvent{}, "SessionID"))
	require.True(t, migrator.HasColumn(&models.GameMap{}, "zoom"))
}

func TestAutoMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, AutoMigrate(db))
	require.NoError(t, AutoMigrate(db))
	require.Error(t, AutoMigrate(nil))
}
