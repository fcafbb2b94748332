package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.up.sql":   {Data: []byte("SELECT 10;")},
		"m/002_second.up.sql":  {Data: []byte("SELECT 2;")},
		"m/001_initial.up.sql": {Data: []byte("SELECT 1;")},
		"m/README.md":          {Data: []byte("ignored")},
	}

	got, err := loadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int{1, 2, 10}, []int{got[0].Version, got[1].Version, got[2].Version})
	assert.Equal(t, "SELECT 2;", got[1].SQL)
}

func TestLoadMigrationsRejectsBadNames(t *testing.T) {
	_, err := loadMigrations(fstest.MapFS{"m/initial.up.sql": {Data: []byte("x")}}, "m")
	assert.Error(t, err)

	_, err = loadMigrations(fstest.MapFS{
		"m/001_a.up.sql": {Data: []byte("x")},
		"m/001_b.up.sql": {Data: []byte("y")},
	}, "m")
	assert.ErrorContains(t, err, "version 1")
}

func TestEmbeddedMigrationsCreateAuthTables(t *testing.T) {
	got, err := loadMigrations(migrationFiles, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, got)

	assert.Equal(t, 1, got[0].Version)
	assert.Contains(t, got[0].SQL, "CREATE TABLE IF NOT EXISTS users")
	assert.Contains(t, got[0].SQL, "CREATE TABLE IF NOT EXISTS refresh_tokens")
}
