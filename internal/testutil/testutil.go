// Package testutil holds helpers shared by package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/auth"
	"github.com/sujalbistaa/pollwave/internal/db"
	"github.com/sujalbistaa/pollwave/internal/logger"
	"github.com/sujalbistaa/pollwave/internal/models"
)

// TestJWTSecret signs session tokens in tests.
const TestJWTSecret = "test-jwt-secret"

// SetupTestDB opens a migrated SQLite database in a temp dir that is
// removed when the test ends.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pollwave_test.db")
	database, err := db.Open("sqlite://"+path, logger.Discard())
	require.NoError(t, err, "failed to open test database")
	require.NoError(t, db.Migrate(database), "failed to migrate test database")

	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

// CreateTestProfile inserts a profile with the given username.
func CreateTestProfile(t *testing.T, database *gorm.DB, username string) *models.Profile {
	t.Helper()

	p := &models.Profile{ID: uuid.NewString(), Username: &username}
	require.NoError(t, database.Create(p).Error, "failed to create test profile")
	return p
}

// PollOpts tweaks CreateTestPoll.
type PollOpts struct {
	Private            bool
	Inactive           bool
	AllowMultipleVotes bool
	ExpiresAt          *time.Time
}

// CreateTestPoll inserts a poll with the given options in order and a
// zeroed analytics row, bypassing validation.
func CreateTestPoll(t *testing.T, database *gorm.DB, authorID, title string, options []string, o PollOpts) *models.Poll {
	t.Helper()

	p := &models.Poll{
		Title:              title,
		AuthorID:           authorID,
		IsActive:           !o.Inactive,
		IsPublic:           !o.Private,
		AllowMultipleVotes: o.AllowMultipleVotes,
		ExpiresAt:          o.ExpiresAt,
	}
	require.NoError(t, database.Omit("Options", "Analytics", "Votes", "Author").Create(p).Error)
	for i, text := range options {
		opt := models.PollOption{PollID: p.ID, Text: text, OrderIndex: i}
		require.NoError(t, database.Create(&opt).Error)
		p.Options = append(p.Options, opt)
	}
	stats := &models.PollAnalytics{PollID: p.ID, LastUpdated: time.Now()}
	require.NoError(t, database.Create(stats).Error)
	p.Analytics = stats
	return p
}

// SessionToken returns a valid session token for profileID.
func SessionToken(t *testing.T, profileID, username string) string {
	t.Helper()

	token, err := auth.SignSession(profileID, username, TestJWTSecret, time.Hour)
	require.NoError(t, err)
	return token
}

// CountVotes returns the number of ledger rows for pollID.
func CountVotes(t *testing.T, database *gorm.DB, pollID string) int64 {
	t.Helper()

	var n int64
	require.NoError(t, database.Model(&models.Vote{}).Where("poll_id = ?", pollID).Count(&n).Error)
	return n
}
