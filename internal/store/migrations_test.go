package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	all, err := PendingMigrations(nil)
	require.NoError(t, err)
	require.NotEmpty(t, all)
	assert.Equal(t, "001_init.sql", all[0])
	assert.IsNonDecreasing(t, all)

	rest, err := PendingMigrations(map[string]bool{"001_init.sql": true})
	require.NoError(t, err)
	assert.NotContains(t, rest, "001_init.sql")
	assert.Len(t, rest, len(all)-1)
}

func TestInitMigrationDeclaresAttendanceUniqueness(t *testing.T) {
	content, err := migrationsFS.ReadFile("migrations/001_init.sql")
	require.NoError(t, err)
	sql := string(content)
	assert.Contains(t, sql, "CREATE EXTENSION IF NOT EXISTS vector")
	assert.Contains(t, sql, "UNIQUE (session_id, student_id)")
}
