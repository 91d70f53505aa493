// Package poll implements poll lifecycle, the vote ledger and the
// analytics aggregator on top of gorm.
package poll

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/models"
	"github.com/sujalbistaa/pollwave/internal/notify"
)

// CreatePollInput is the author-supplied part of a new poll.
type CreatePollInput struct {
	Title              string     `json:"title" validate:"notblank,max=200"`
	Description        *string    `json:"description" validate:"omitempty,max=1000"`
	Options            []string   `json:"options" validate:"min=2,max=10,dive,notblank,max=100"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	IsPublic           *bool      `json:"isPublic"`
	AllowMultipleVotes bool       `json:"allowMultipleVotes"`
}

// IsEligibleForVoting reports whether p accepts votes at now.
func IsEligibleForVoting(p *models.Poll, now time.Time) bool {
	return p.IsActive && (p.ExpiresAt == nil || now.Before(*p.ExpiresAt))
}

// IsVisible reports whether p may be shown to anyone.
func IsVisible(p *models.Poll) bool {
	return p.IsPublic && p.IsActive
}

// Manager owns poll creation, reads and author-side mutations.
type Manager struct {
	db        *gorm.DB
	validate  *validator.Validate
	analytics *Aggregator
	events    notify.Publisher
	log       *logrus.Entry

	Now func() time.Time
}

func NewManager(db *gorm.DB, analytics *Aggregator, events notify.Publisher, log *logrus.Entry) *Manager {
	return &Manager{
		db:        db,
		validate:  apperr.NewValidator(),
		analytics: analytics,
		events:    events,
		log:       log,
		Now:       time.Now,
	}
}

func (in *CreatePollInput) normalize() {
	in.Title = strings.TrimSpace(in.Title)
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if d == "" {
			in.Description = nil
		} else {
			in.Description = &d
		}
	}
	for i, o := range in.Options {
		in.Options[i] = strings.TrimSpace(o)
	}
}

func (m *Manager) validateInput(in *CreatePollInput, now time.Time) error {
	if err := m.validate.Struct(in); err != nil {
		return apperr.FromValidator(err)
	}
	fields := map[string]string{}
	seen := make(map[string]bool, len(in.Options))
	for _, o := range in.Options {
		k := strings.ToLower(o)
		if seen[k] {
			fields["options"] = "must be unique"
			break
		}
		seen[k] = true
	}
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		fields["expiresAt"] = "must be in the future"
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// CreatePoll stores a poll, its options and a zeroed analytics row in one
// transaction.
func (m *Manager) CreatePoll(ctx context.Context, authorID string, in CreatePollInput) (*models.Poll, error) {
	now := m.Now()
	in.normalize()
	if err := m.validateInput(&in, now); err != nil {
		return nil, err
	}

	p := &models.Poll{
		Title:              in.Title,
		Description:        in.Description,
		AuthorID:           authorID,
		IsActive:           true,
		IsPublic:           in.IsPublic == nil || *in.IsPublic,
		AllowMultipleVotes: in.AllowMultipleVotes,
		ExpiresAt:          in.ExpiresAt,
	}

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Options", "Analytics", "Votes", "Author").Create(p).Error; err != nil {
			return err
		}
		opts := make([]models.PollOption, len(in.Options))
		for i, text := range in.Options {
			opts[i] = models.PollOption{PollID: p.ID, Text: text, OrderIndex: i}
		}
		if err := tx.Create(&opts).Error; err != nil {
			return err
		}
		stats := &models.PollAnalytics{PollID: p.ID, LastUpdated: now}
		if err := tx.Create(stats).Error; err != nil {
			return err
		}
		p.Options = opts
		p.Analytics = stats
		return nil
	})
	if err != nil {
		m.log.WithError(err).WithField("author_id", authorID).Error("failed to create poll")
		return nil, apperr.Store("Failed to create poll", err)
	}
	p.AcceptingVotes = IsEligibleForVoting(p, now)

	m.log.WithFields(logrus.Fields{"poll_id": p.ID, "author_id": authorID, "options": len(p.Options)}).Info("poll created")
	if p.IsPublic {
		m.publish(ctx, notify.PollCreated, p.ID, p, now)
	}
	return p, nil
}

func orderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("order_index ASC")
}

func authorSummary(db *gorm.DB) *gorm.DB {
	return db.Select("id", "username", "full_name")
}

// ListVisible returns every visible poll, newest first.
func (m *Manager) ListVisible(ctx context.Context) ([]models.Poll, error) {
	var polls []models.Poll
	err := m.db.WithContext(ctx).
		Preload("Options", orderedOptions).
		Preload("Author", authorSummary).
		Preload("Analytics").
		Where("is_public = ? AND is_active = ?", true, true).
		Order("created_at DESC").
		Find(&polls).Error
	if err != nil {
		return nil, apperr.Store("Failed to fetch polls", err)
	}
	now := m.Now()
	for i := range polls {
		polls[i].AcceptingVotes = IsEligibleForVoting(&polls[i], now)
	}
	return polls, nil
}

// GetVisible returns a visible poll with its full vote list and counts a
// view. Hidden and missing polls are indistinguishable.
func (m *Manager) GetVisible(ctx context.Context, id string) (*models.Poll, error) {
	p, err := m.loadVisible(ctx, id, func(db *gorm.DB) *gorm.DB {
		return db.Preload("Author", authorSummary).
			Preload("Analytics").
			Preload("Votes", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") })
	})
	if err != nil {
		return nil, err
	}

	if err := m.analytics.RecordView(ctx, p.ID); err != nil {
		m.log.WithError(err).WithField("poll_id", p.ID).Warn("failed to record poll view")
	} else if p.Analytics != nil {
		p.Analytics.TotalViews++
	}
	if p.Analytics == nil {
		if row, _, err := m.analytics.Recompute(ctx, p.ID); err == nil {
			p.Analytics = row
		}
	}
	return p, nil
}

// GetResults returns the live tally of a visible poll.
func (m *Manager) GetResults(ctx context.Context, id string) (*Results, error) {
	p, err := m.loadVisible(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	return m.analytics.Results(ctx, p)
}

func (m *Manager) loadVisible(ctx context.Context, id string, preload func(*gorm.DB) *gorm.DB) (*models.Poll, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.New(apperr.KindNotFound, "Poll not found")
	}
	q := m.db.WithContext(ctx).Preload("Options", orderedOptions)
	if preload != nil {
		q = preload(q)
	}
	var p models.Poll
	err := q.Where("is_public = ? AND is_active = ?", true, true).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Poll not found")
	}
	if err != nil {
		return nil, apperr.Store("Failed to fetch poll", err)
	}
	p.AcceptingVotes = IsEligibleForVoting(&p, m.Now())
	return &p, nil
}

// owned loads a poll for a mutation by its author.
func (m *Manager) owned(ctx context.Context, authorID, pollID string) (*models.Poll, error) {
	if _, err := uuid.Parse(pollID); err != nil {
		return nil, apperr.New(apperr.KindNotFound, "Poll not found")
	}
	var p models.Poll
	err := m.db.WithContext(ctx).First(&p, "id = ?", pollID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Poll not found")
	}
	if err != nil {
		return nil, apperr.Store("Failed to fetch poll", err)
	}
	if p.AuthorID != authorID {
		return nil, apperr.New(apperr.KindForbidden, "Only the author can modify this poll")
	}
	return &p, nil
}

// Close stops a poll from accepting votes. Closing an already closed poll
// is a no-op.
func (m *Manager) Close(ctx context.Context, authorID, pollID string) (*models.Poll, error) {
	p, err := m.owned(ctx, authorID, pollID)
	if err != nil {
		return nil, err
	}
	if !p.IsActive {
		return p, nil
	}
	if err := m.db.WithContext(ctx).Model(p).Update("is_active", false).Error; err != nil {
		return nil, apperr.Store("Failed to close poll", err)
	}
	now := m.Now()
	p.IsActive = false
	p.AcceptingVotes = false
	m.log.WithField("poll_id", p.ID).Info("poll closed")
	m.publish(ctx, notify.PollClosed, p.ID, p, now)
	return p, nil
}

// Delete removes a poll together with its options, votes and analytics.
func (m *Manager) Delete(ctx context.Context, authorID, pollID string) error {
	p, err := m.owned(ctx, authorID, pollID)
	if err != nil {
		return err
	}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, child := range []any{&models.Vote{}, &models.PollAnalytics{}, &models.PollOption{}} {
			if err := tx.Where("poll_id = ?", p.ID).Delete(child).Error; err != nil {
				return err
			}
		}
		return tx.Delete(p).Error
	})
	if err != nil {
		return apperr.Store("Failed to delete poll", err)
	}
	m.log.WithField("poll_id", p.ID).Info("poll deleted")
	m.publish(ctx, notify.PollDeleted, p.ID, nil, m.Now())
	return nil
}

// UpdateOption renames an option. Options are frozen once the poll has any
// vote; the check and the write are one statement.
func (m *Manager) UpdateOption(ctx context.Context, authorID, pollID, optionID, text string) (*models.PollOption, error) {
	text = strings.TrimSpace(text)
	if err := m.validate.Var(text, "notblank,max=100"); err != nil {
		return nil, apperr.Validation(map[string]string{"text": "must be 1 to 100 characters"})
	}
	p, err := m.owned(ctx, authorID, pollID)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(optionID); err != nil {
		return nil, apperr.New(apperr.KindNotFound, "Option not found")
	}

	db := m.db.WithContext(ctx)
	var siblings []models.PollOption
	if err := db.Where("poll_id = ? AND id <> ?", p.ID, optionID).Find(&siblings).Error; err != nil {
		return nil, apperr.Store("Failed to fetch options", err)
	}
	for _, o := range siblings {
		if strings.EqualFold(o.Text, text) {
			return nil, apperr.Validation(map[string]string{"text": "must be unique"})
		}
	}

	res := db.Model(&models.PollOption{}).
		Where("id = ? AND poll_id = ?", optionID, p.ID).
		Where("NOT EXISTS (?)", db.Model(&models.Vote{}).Select("1").Where("poll_id = ?", p.ID)).
		Update("text", text)
	if res.Error != nil {
		return nil, apperr.Store("Failed to update option", res.Error)
	}

	var opt models.PollOption
	err = db.Where("id = ? AND poll_id = ?", optionID, p.ID).First(&opt).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Option not found")
	}
	if err != nil {
		return nil, apperr.Store("Failed to fetch option", err)
	}
	if res.RowsAffected == 0 && opt.Text != text {
		return nil, apperr.New(apperr.KindConflict, "Options cannot change once the poll has votes")
	}
	return &opt, nil
}

func (m *Manager) publish(ctx context.Context, typ, pollID string, data any, at time.Time) {
	if err := m.events.Publish(ctx, notify.Event{Type: typ, PollID: pollID, Data: data, At: at}); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"poll_id": pollID, "event": typ}).Warn("failed to publish event")
	}
}
