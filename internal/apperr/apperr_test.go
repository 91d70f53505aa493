package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestError_IsAndKindOf(t *testing.T) {
	err := fmt.Errorf("casting vote: %w", New(KindDuplicateVote, "You have already voted on this poll"))

	assert.ErrorIs(t, err, ErrDuplicateVote)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, KindDuplicateVote, KindOf(err))
	assert.Equal(t, KindStore, KindOf(errors.New("boom")))
}

func TestStore_WrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Store("Failed to create poll", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStore)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsUniqueViolation(errors.New("UNIQUE constraint failed: votes.poll_id, votes.dedupe_key")))
	assert.True(t, IsUniqueViolation(errors.New(`ERROR: duplicate key value violates unique constraint "idx_votes_poll_dedupe"`)))
	assert.True(t, IsUniqueViolation(errors.New("Error 1062 (23000): Duplicate entry 'x' for key 'idx_votes_poll_dedupe'")))
	assert.False(t, IsUniqueViolation(errors.New("FOREIGN KEY constraint failed")))
	assert.False(t, IsUniqueViolation(nil))
}

type sample struct {
	Title   string   `json:"title" validate:"notblank,max=5"`
	Options []string `json:"options" validate:"min=2,dive,notblank"`
	ID      string   `json:"id" validate:"omitempty,uuid"`
}

func TestFromValidator(t *testing.T) {
	v := NewValidator()

	err := FromValidator(v.Struct(sample{Title: "  ", Options: []string{"a"}, ID: "nope"}))
	require.ErrorIs(t, err, ErrValidation)

	var appErr *Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "must not be blank", appErr.Fields["title"])
	assert.Equal(t, "must have at least 2 items", appErr.Fields["options"])
	assert.Equal(t, "must be a UUID", appErr.Fields["id"])

	err = FromValidator(v.Struct(sample{Title: "toolong", Options: []string{"a", " "}}))
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "must have at most 5 characters", appErr.Fields["title"])
	assert.Equal(t, "must not be blank", appErr.Fields["options[1]"])

	assert.NoError(t, v.Struct(sample{Title: "ok", Options: []string{"a", "b"}}))
	other := errors.New("other")
	assert.Equal(t, other, FromValidator(other))
}
