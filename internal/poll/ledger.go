package poll

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/models"
	"github.com/sujalbistaa/pollwave/internal/notify"
)

// VoteInput is a request to cast one vote.
type VoteInput struct {
	PollID   string `json:"-"`
	OptionID string `json:"optionId"`
	Caller   Caller `json:"-"`
}

// VoteEvent is the view of a vote broadcast to subscribers. It never
// carries the voter.
type VoteEvent struct {
	ID        string    `json:"id"`
	PollID    string    `json:"pollId"`
	OptionID  string    `json:"optionId"`
	CreatedAt time.Time `json:"createdAt"`
}

func newVoteEvent(v *models.Vote) VoteEvent {
	return VoteEvent{ID: v.ID, PollID: v.PollID, OptionID: v.OptionID, CreatedAt: v.CreatedAt}
}

// Ledger is the only write path for votes.
type Ledger struct {
	db        *gorm.DB
	resolver  IdentityResolver
	analytics *Aggregator
	events    notify.Publisher
	rec       Recorder
	log       *logrus.Entry

	// DedupeAnonymous applies the one-vote rule to anonymous identities too.
	DedupeAnonymous bool
	Now             func() time.Time
}

func NewLedger(db *gorm.DB, resolver IdentityResolver, analytics *Aggregator, events notify.Publisher, rec Recorder, log *logrus.Entry) *Ledger {
	return &Ledger{
		db:              db,
		resolver:        resolver,
		analytics:       analytics,
		events:          events,
		rec:             rec,
		log:             log,
		DedupeAnonymous: true,
		Now:             time.Now,
	}
}

// Cast validates and appends a vote. Checks run in order and stop at the
// first failure: option id format, poll existence, eligibility, option
// membership, voter identity, duplicate vote.
func (l *Ledger) Cast(ctx context.Context, in VoteInput) (vote *models.Vote, err error) {
	defer func() {
		if err != nil {
			l.rec.VoteRejected(apperr.KindOf(err))
		}
	}()

	if _, perr := uuid.Parse(in.OptionID); perr != nil {
		return nil, apperr.Validation(map[string]string{"optionId": "must be a UUID"})
	}
	if _, perr := uuid.Parse(in.PollID); perr != nil {
		return nil, apperr.New(apperr.KindNotFound, "Poll not found")
	}

	db := l.db.WithContext(ctx)
	now := l.Now()

	var p models.Poll
	if err := db.First(&p, "id = ?", in.PollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.New(apperr.KindNotFound, "Poll not found")
		}
		return nil, apperr.Store("Failed to load poll", err)
	}
	if !IsEligibleForVoting(&p, now) {
		return nil, apperr.New(apperr.KindExpired, "This poll is no longer accepting votes")
	}

	var opt models.PollOption
	err = db.Where("id = ? AND poll_id = ?", in.OptionID, p.ID).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindInvalidOption, "Option does not belong to this poll")
	}
	if err != nil {
		return nil, apperr.Store("Failed to load option", err)
	}

	id, err := l.resolver.Resolve(in.Caller)
	if err != nil {
		return nil, err
	}
	key := id.Key()

	v := &models.Vote{
		PollID:    p.ID,
		OptionID:  opt.ID,
		VoterKey:  key,
		CreatedAt: now,
	}
	if id.Authenticated() {
		v.VoterID = &id.ProfileID
	} else {
		v.AnonymousID = &id.AnonymousID
	}
	if in.Caller.UserAgent != "" {
		ua := truncate(in.Caller.UserAgent, 500)
		v.UserAgent = &ua
	}

	firstForVoter := true
	switch {
	case !p.AllowMultipleVotes && (id.Authenticated() || l.DedupeAnonymous):
		v.DedupeKey = &key
		var n int64
		if err := db.Model(&models.Vote{}).Where("poll_id = ? AND dedupe_key = ?", p.ID, key).Count(&n).Error; err != nil {
			return nil, apperr.Store("Failed to check existing votes", err)
		}
		if n > 0 {
			return nil, apperr.New(apperr.KindDuplicateVote, "You have already voted on this poll")
		}
	case id.Authenticated():
		var n int64
		if err := db.Model(&models.Vote{}).Where("poll_id = ? AND voter_id = ?", p.ID, id.ProfileID).Count(&n).Error; err != nil {
			return nil, apperr.Store("Failed to check existing votes", err)
		}
		firstForVoter = n == 0
	}

	if err := db.Create(v).Error; err != nil {
		if apperr.IsUniqueViolation(err) {
			return nil, apperr.New(apperr.KindDuplicateVote, "You have already voted on this poll")
		}
		return nil, apperr.Store("Failed to record vote", err)
	}

	fields := logrus.Fields{"poll_id": p.ID, "option_id": opt.ID, "vote_id": v.ID, "identity": id.Kind}
	if err := l.analytics.RecordVote(ctx, v, firstForVoter); err != nil {
		l.log.WithFields(fields).WithError(err).Warn("failed to update analytics after vote")
	}
	if err := l.events.Publish(ctx, notify.Event{Type: notify.VoteCreated, PollID: p.ID, Data: newVoteEvent(v), At: now}); err != nil {
		l.log.WithFields(fields).WithError(err).Warn("failed to publish vote event")
	}
	l.rec.VoteAccepted(id.Kind)
	l.log.WithFields(fields).Info("vote recorded")
	return v, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
