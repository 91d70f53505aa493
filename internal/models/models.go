package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrVoterIdentity is returned when a vote carries both or neither voter references.
var ErrVoterIdentity = errors.New("vote must reference exactly one of voter_id or anonymous_id")

// Profile is the public face of an authenticated user. Its ID is the
// subject issued by the auth provider.
type Profile struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Username  *string   `gorm:"uniqueIndex;size:50" json:"username"`
	FullName  *string   `gorm:"size:100" json:"fullName"`
	AvatarURL *string   `gorm:"size:500" json:"avatarUrl"`
	Bio       *string   `gorm:"size:500" json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Poll is a question with a fixed, ordered set of options.
type Poll struct {
	ID                 string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Title              string         `gorm:"size:200;not null" json:"title"`
	Description        *string        `gorm:"size:1000" json:"description"`
	AuthorID           string         `gorm:"type:varchar(36);not null;index" json:"authorId"`
	IsActive           bool           `gorm:"not null;index" json:"isActive"`
	IsPublic           bool           `gorm:"not null;index" json:"isPublic"`
	AllowMultipleVotes bool           `gorm:"not null;default:false" json:"allowMultipleVotes"`
	ExpiresAt          *time.Time     `json:"expiresAt"`
	CreatedAt          time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
	Author             *Profile       `gorm:"foreignKey:AuthorID;constraint:OnDelete:CASCADE" json:"author,omitempty"`
	Options            []PollOption   `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`
	Analytics          *PollAnalytics `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"analytics,omitempty"`
	Votes              []Vote         `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"votes,omitempty"`

	// AcceptingVotes is computed on read from IsActive and ExpiresAt.
	AcceptingVotes bool `gorm:"-" json:"acceptingVotes"`
}

// PollOption is one choice of a poll. OrderIndex is unique per poll.
type PollOption struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PollID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_poll_options_order,priority:1" json:"pollId"`
	Text       string    `gorm:"size:100;not null" json:"text"`
	OrderIndex int       `gorm:"not null;uniqueIndex:idx_poll_options_order,priority:2" json:"orderIndex"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Vote is one entry of the append-only vote ledger.
//
// DedupeKey is set only when the poll allows a single vote per voter; the
// unique index over (poll_id, dedupe_key) then rejects a second vote while
// NULL keys never collide.
type Vote struct {
	ID          string      `gorm:"primaryKey;type:varchar(36)" json:"id"`
	PollID      string      `gorm:"type:varchar(36);not null;index;uniqueIndex:idx_votes_poll_dedupe,priority:1" json:"pollId"`
	OptionID    string      `gorm:"type:varchar(36);not null;index" json:"optionId"`
	VoterID     *string     `gorm:"type:varchar(36);index;check:chk_votes_voter,(voter_id IS NULL) <> (anonymous_id IS NULL)" json:"voterId"`
	AnonymousID *string     `gorm:"size:128" json:"-"`
	VoterKey    string      `gorm:"size:160;not null;index" json:"-"`
	DedupeKey   *string     `gorm:"size:160;uniqueIndex:idx_votes_poll_dedupe,priority:2" json:"-"`
	UserAgent   *string     `gorm:"size:500" json:"-"`
	CreatedAt   time.Time   `json:"createdAt"`
	Option      *PollOption `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
}

// PollAnalytics caches aggregate counters for a poll. The vote ledger is
// authoritative; these values can always be recomputed from it.
type PollAnalytics struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"-"`
	PollID       string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"pollId"`
	TotalViews   int64     `gorm:"not null;default:0" json:"totalViews"`
	TotalVotes   int64     `gorm:"not null;default:0" json:"totalVotes"`
	UniqueVoters int64     `gorm:"not null;default:0" json:"uniqueVoters"`
	LastUpdated  time.Time `json:"lastUpdated"`
}

// TableName keeps the analytics table name stable across naming strategies.
func (PollAnalytics) TableName() string { return "poll_analytics" }

// All lists every model in migration order.
func All() []any {
	return []any{&Profile{}, &Poll{}, &PollOption{}, &PollAnalytics{}, &Vote{}}
}

func (p *Poll) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

func (o *PollOption) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	return nil
}

func (a *PollAnalytics) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

func (v *Vote) BeforeCreate(tx *gorm.DB) error {
	if (v.VoterID == nil) == (v.AnonymousID == nil) {
		return ErrVoterIdentity
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}
