// Package profile stores the public profile of authenticated users.
package profile

import (
	"context"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/sujalbistaa/pollwave/internal/apperr"
	"github.com/sujalbistaa/pollwave/internal/models"
)

// UpdateInput carries the editable profile fields. Nil leaves a field
// unchanged; an empty string clears it.
type UpdateInput struct {
	Username  *string `json:"username" validate:"omitempty,min=3,max=50,alphanumunicode"`
	FullName  *string `json:"fullName" validate:"omitempty,max=100"`
	AvatarURL *string `json:"avatarUrl" validate:"omitempty,url,max=500"`
	Bio       *string `json:"bio" validate:"omitempty,max=500"`
}

type Store struct {
	db       *gorm.DB
	validate *validator.Validate
	log      *logrus.Entry
}

func NewStore(db *gorm.DB, log *logrus.Entry) *Store {
	return &Store{db: db, validate: apperr.NewValidator(), log: log}
}

// Ensure creates the profile for id on first sight, seeding the username
// from the session when it is free. Existing profiles are left untouched.
func (s *Store) Ensure(ctx context.Context, id, username, fullName string) (*models.Profile, error) {
	db := s.db.WithContext(ctx)

	var p models.Profile
	err := db.First(&p, "id = ?", id).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Store("Failed to load profile", err)
	}

	p = models.Profile{ID: id, Username: nonEmpty(username), FullName: nonEmpty(fullName)}
	err = db.Create(&p).Error
	if err != nil && apperr.IsUniqueViolation(err) {
		// Either a concurrent request created this profile, or the
		// username belongs to someone else.
		if existing, gerr := s.Get(ctx, id); gerr == nil {
			return existing, nil
		}
		p.Username = nil
		err = db.Create(&p).Error
	}
	if err != nil {
		return nil, apperr.Store("Failed to create profile", err)
	}
	s.log.WithField("profile_id", id).Info("profile created")
	return s.Get(ctx, id)
}

func (s *Store) Get(ctx context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.New(apperr.KindNotFound, "Profile not found")
	}
	if err != nil {
		return nil, apperr.Store("Failed to load profile", err)
	}
	return &p, nil
}

// Update applies in to the profile id.
func (s *Store) Update(ctx context.Context, id string, in UpdateInput) (*models.Profile, error) {
	for _, f := range []**string{&in.Username, &in.FullName, &in.AvatarURL, &in.Bio} {
		if *f != nil {
			v := strings.TrimSpace(**f)
			*f = &v
		}
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, apperr.FromValidator(err)
	}

	updates := map[string]any{}
	set := func(col string, v *string) {
		if v != nil {
			updates[col] = nonEmpty(*v)
		}
	}
	set("username", in.Username)
	set("full_name", in.FullName)
	set("avatar_url", in.AvatarURL)
	set("bio", in.Bio)

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).Model(&models.Profile{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if apperr.IsUniqueViolation(res.Error) {
				return nil, apperr.Validation(map[string]string{"username": "is already taken"})
			}
			return nil, apperr.Store("Failed to update profile", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, apperr.New(apperr.KindNotFound, "Profile not found")
		}
	}
	return s.Get(ctx, id)
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
