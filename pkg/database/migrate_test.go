package database

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationNames_Ordered(t *testing.T) {
	names, err := MigrationNames()
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.True(t, strings.HasPrefix(names[0], "001_"))
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}

func TestMigrations_DeclareCoreInvariants(t *testing.T) {
	raw, err := migrationsFS.ReadFile("migrations/001_schema.sql")
	require.NoError(t, err)
	schema := string(raw)

	// One role per (organization, user).
	assert.Contains(t, schema, "UNIQUE (organization_id, user_id)")
	// Exactly one conversation shape.
	assert.Contains(t, schema, "chat_conversations_shape")
	// At most one pending resolution request per conversation.
	assert.Regexp(t, `(?s)CREATE UNIQUE INDEX IF NOT EXISTS chat_resolution_requests_one_pending\s+`+
		`ON chat_resolution_requests \(conversation_id\)\s+WHERE status = 'pending'`, schema)
	// is_used mirrors status.
	assert.Contains(t, schema, "qr_codes_used_consistent")
}
