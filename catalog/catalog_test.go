package catalog

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/stake?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "stake"}))
	assert.Equal(t, "postgres://u:p@db:6000/stake?sslmode=require",
		DSN(ClientConfig{Host: "db", Port: 6000, User: "u", Password: "p", Database: "stake", SSLMode: "require"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestEnabled(t *testing.T) {
	assert.False(t, ClientConfig{}.Enabled())
	assert.True(t, ClientConfig{Host: "db"}.Enabled())
	assert.True(t, ClientConfig{DSN: "postgres://x"}.Enabled())
}

func TestValidate(t *testing.T) {
	ok := PoolMeta{PoolID: "p", Admin: "a", Name: "n", Image: "i", Description: "d"}
	require.NoError(t, ok.Validate())

	missing := ok
	missing.Image = " "
	assert.ErrorIs(t, missing.Validate(), ErrInvalidMetadata)

	noAdmin := ok
	noAdmin.Admin = ""
	assert.ErrorIs(t, noAdmin.Validate(), ErrInvalidMetadata)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	data, err := migrationsFS.ReadFile("migrations/" + entries[0].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), "CREATE TABLE IF NOT EXISTS pools")
}
