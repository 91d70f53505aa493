package poll

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/auth"
	"github.com/sujalbistaa/pollwave/internal/models"
	"github.com/sujalbistaa/pollwave/internal/notify"
	"github.com/sujalbistaa/pollwave/internal/testutil"
)

func TestCast_LanguagesScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")

	p, err := f.manager.CreatePoll(ctx, author.ID, CreatePollInput{Title: "Languages", Options: []string{"Go", "Rust"}})
	require.NoError(t, err)
	require.Len(t, p.Options, 2)
	assert.Equal(t, 0, p.Options[0].OrderIndex)
	assert.Equal(t, 1, p.Options[1].OrderIndex)

	votes := []struct{ addr, option string }{
		{"198.51.100.1", p.Options[0].ID},
		{"198.51.100.2", p.Options[1].ID},
		{"198.51.100.3", p.Options[1].ID},
	}
	for _, v := range votes {
		_, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: v.option, Caller: anon(v.addr)})
		require.NoError(t, err)
	}

	res, err := f.manager.GetResults(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.TotalVotes)
	assert.Equal(t, 33.3, res.Options[0].Percentage)
	assert.Equal(t, 66.7, res.Options[1].Percentage)
	assert.True(t, res.AcceptingVotes)

	var stats models.PollAnalytics
	require.NoError(t, f.db.First(&stats, "poll_id = ?", p.ID).Error)
	assert.Equal(t, int64(3), stats.TotalVotes)
	assert.Zero(t, stats.UniqueVoters)

	assert.Equal(t, 3, f.rec.accepted[IdentityAnonymousAddress])
}

func TestCast_ExpiredPoll(t *testing.T) {
	f := newFixture(t)
	author := testutil.CreateTestProfile(t, f.db, "author")
	voter := testutil.CreateTestProfile(t, f.db, "voter")
	expiry := f.now.Add(-time.Second)
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Late", []string{"a", "b"}, testutil.PollOpts{ExpiresAt: &expiry})

	_, err := f.ledger.Cast(context.Background(), VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: authed(voter.ID)})
	require.ErrorIs(t, err, apperr.ErrExpired)
	assert.Zero(t, testutil.CountVotes(t, f.db, p.ID))
	assert.Equal(t, 1, f.rec.rejected[apperr.KindExpired])
}

func TestCast_ExpiresBetweenVotes(t *testing.T) {
	f := newFixture(t)
	author := testutil.CreateTestProfile(t, f.db, "author")
	expiry := f.now.Add(time.Minute)
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Soon", []string{"a", "b"}, testutil.PollOpts{ExpiresAt: &expiry})

	_, err := f.ledger.Cast(context.Background(), VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")})
	require.NoError(t, err)

	f.now = expiry
	_, err = f.ledger.Cast(context.Background(), VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.2")})
	require.ErrorIs(t, err, apperr.ErrExpired)
	assert.Equal(t, int64(1), testutil.CountVotes(t, f.db, p.ID))
}

func TestCast_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "P", []string{"a", "b"}, testutil.PollOpts{})
	other := testutil.CreateTestPoll(t, f.db, author.ID, "Other", []string{"c", "d"}, testutil.PollOpts{})
	closed := testutil.CreateTestPoll(t, f.db, author.ID, "Closed", []string{"e", "f"}, testutil.PollOpts{Inactive: true})

	tests := []struct {
		name string
		in   VoteInput
		want error
	}{
		{"malformed option", VoteInput{PollID: p.ID, OptionID: "x", Caller: anon("198.51.100.1")}, apperr.ErrValidation},
		{"missing poll", VoteInput{PollID: "00000000-0000-0000-0000-000000000000", OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")}, apperr.ErrNotFound},
		{"malformed poll", VoteInput{PollID: "nope", OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")}, apperr.ErrNotFound},
		{"closed poll", VoteInput{PollID: closed.ID, OptionID: closed.Options[0].ID, Caller: anon("198.51.100.1")}, apperr.ErrExpired},
		{"foreign option", VoteInput{PollID: p.ID, OptionID: other.Options[0].ID, Caller: anon("198.51.100.1")}, apperr.ErrInvalidOption},
		{"no identity", VoteInput{PollID: p.ID, OptionID: p.Options[0].ID}, apperr.ErrUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Cast(ctx, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	var n int64
	require.NoError(t, f.db.Model(&models.Vote{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestCast_AuthenticatedDoubleVote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")
	voter := testutil.CreateTestProfile(t, f.db, "voter")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Once", []string{"a", "b"}, testutil.PollOpts{})

	v, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: authed(voter.ID)})
	require.NoError(t, err)
	require.NotNil(t, v.VoterID)
	assert.Equal(t, voter.ID, *v.VoterID)
	assert.Nil(t, v.AnonymousID)

	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[1].ID, Caller: authed(voter.ID)})
	require.ErrorIs(t, err, apperr.ErrDuplicateVote)

	var n int64
	require.NoError(t, f.db.Model(&models.Vote{}).Where("poll_id = ? AND voter_id = ?", p.ID, voter.ID).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	var stats models.PollAnalytics
	require.NoError(t, f.db.First(&stats, "poll_id = ?", p.ID).Error)
	assert.Equal(t, int64(1), stats.TotalVotes)
	assert.Equal(t, int64(1), stats.UniqueVoters)
	assert.Equal(t, []string{notify.VoteCreated}, f.events.types())

	// Subscribers learn which option was chosen, never by whom.
	f.events.mu.Lock()
	data := f.events.events[0].Data
	f.events.mu.Unlock()
	require.IsType(t, VoteEvent{}, data)
	assert.Equal(t, VoteEvent{ID: v.ID, PollID: p.ID, OptionID: p.Options[0].ID, CreatedAt: v.CreatedAt}, data)
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), voter.ID)
}

func TestCast_ConcurrentSameVoter(t *testing.T) {
	f := newFixture(t)
	author := testutil.CreateTestProfile(t, f.db, "author")
	voter := testutil.CreateTestProfile(t, f.db, "voter")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Race", []string{"a", "b"}, testutil.PollOpts{})

	const attempts = 20
	var accepted, duplicates atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.Cast(context.Background(), VoteInput{
				PollID:   p.ID,
				OptionID: p.Options[i%2].ID,
				Caller:   authed(voter.ID),
			})
			switch {
			case err == nil:
				accepted.Add(1)
			case apperr.KindOf(err) == apperr.KindDuplicateVote:
				duplicates.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(attempts-1), duplicates.Load())
	assert.Equal(t, int64(1), testutil.CountVotes(t, f.db, p.ID))

	stats, repaired, err := f.analytics.Recompute(context.Background(), p.ID)
	require.NoError(t, err)
	assert.False(t, repaired)
	assert.Equal(t, int64(1), stats.TotalVotes)
}

func TestCast_MultipleVotesAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")
	voter := testutil.CreateTestProfile(t, f.db, "voter")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Many", []string{"a", "b"}, testutil.PollOpts{AllowMultipleVotes: true})

	for i := 0; i < 3; i++ {
		v, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[i%2].ID, Caller: authed(voter.ID)})
		require.NoError(t, err)
		assert.Nil(t, v.DedupeKey)
	}
	_, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")})
	require.NoError(t, err)

	var stats models.PollAnalytics
	require.NoError(t, f.db.First(&stats, "poll_id = ?", p.ID).Error)
	assert.Equal(t, int64(4), stats.TotalVotes)
	assert.Equal(t, int64(1), stats.UniqueVoters)
}

func TestCast_AnonymousAddressMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Anon", []string{"a", "b"}, testutil.PollOpts{})

	v, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")})
	require.NoError(t, err)
	require.NotNil(t, v.AnonymousID)
	assert.NotContains(t, *v.AnonymousID, "198.51.100.1")
	assert.Nil(t, v.VoterID)

	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[1].ID, Caller: anon("198.51.100.1")})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVote)

	f.ledger.DedupeAnonymous = false
	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[1].ID, Caller: anon("198.51.100.1")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), testutil.CountVotes(t, f.db, p.ID))
}

func TestCast_AnonymousTokenMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.ledger.resolver = TokenResolver{Secret: "voter-secret"}
	author := testutil.CreateTestProfile(t, f.db, "author")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "Tokens", []string{"a", "b"}, testutil.PollOpts{})

	_, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	token, _, err := auth.IssueVoterToken("voter-secret")
	require.NoError(t, err)
	caller := Caller{VoterToken: token, OriginAddr: "198.51.100.1"}

	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: caller})
	require.NoError(t, err)
	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[1].ID, Caller: caller})
	assert.ErrorIs(t, err, apperr.ErrDuplicateVote)

	// Same address, different token: a distinct voter.
	second, _, err := auth.IssueVoterToken("voter-secret")
	require.NoError(t, err)
	_, err = f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[1].ID, Caller: Caller{VoterToken: second, OriginAddr: "198.51.100.1"}})
	require.NoError(t, err)
	assert.Equal(t, 2, f.rec.accepted[IdentityAnonymousToken])
}

func TestCast_MissingAnalyticsRowIsRecreated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateTestProfile(t, f.db, "author")
	p := testutil.CreateTestPoll(t, f.db, author.ID, "NoStats", []string{"a", "b"}, testutil.PollOpts{})
	require.NoError(t, f.db.Where("poll_id = ?", p.ID).Delete(&models.PollAnalytics{}).Error)

	_, err := f.ledger.Cast(ctx, VoteInput{PollID: p.ID, OptionID: p.Options[0].ID, Caller: anon("198.51.100.1")})
	require.NoError(t, err)

	var stats models.PollAnalytics
	require.NoError(t, f.db.First(&stats, "poll_id = ?", p.ID).Error)
	assert.Equal(t, int64(1), stats.TotalVotes)
}
