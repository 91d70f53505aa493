package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/pollwave/internal/logger"
	"github.com/sujalbistaa/pollwave/internal/models"
)

func TestDialectorFor(t *testing.T) {
	tests := []struct {
		url     string
		dialect string
		wantErr bool
	}{
		{url: "postgres://user:pw@localhost:5432/polls", dialect: "postgres"},
		{url: "postgresql://user:pw@localhost:5432/polls", dialect: "postgres"},
		{url: "mysql://user:pw@tcp(localhost:3306)/polls", dialect: "mysql"},
		{url: "sqlite://polls.db", dialect: "sqlite"},
		{url: "mongodb://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			d, err := dialectorFor(tt.url)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, d.Name())
		})
	}
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "polls.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", SQLiteDSN("polls.db"))
	assert.Equal(t, "file:x?mode=rwc&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", SQLiteDSN("file:x?mode=rwc"))
	assert.Equal(t, "x?_pragma=foreign_keys(0)", SQLiteDSN("x?_pragma=foreign_keys(0)"))
}

func TestOpenAndMigrate(t *testing.T) {
	url := "sqlite://" + filepath.Join(t.TempDir(), "test.db")
	gdb, err := Open(url, logger.Discard())
	require.NoError(t, err)
	require.NoError(t, Migrate(gdb))

	for _, m := range models.All() {
		assert.True(t, gdb.Migrator().HasTable(m))
	}
	assert.True(t, gdb.Migrator().HasIndex(&models.Vote{}, "idx_votes_poll_dedupe"))
	assert.True(t, gdb.Migrator().HasIndex(&models.PollOption{}, "idx_poll_options_order"))

	// Migrating twice is harmless.
	require.NoError(t, Migrate(gdb))
}
