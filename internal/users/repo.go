package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-platform/internal/chat"
	"github.com/suPer8Hu/chat-platform/internal/models"
	"gorm.io/gorm"
)

var ErrTaken = errors.New("username or email already exists")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Create stores a new user. Duplicate username or email yields ErrTaken.
func (r *Repo) Create(ctx context.Context, u *models.User) error {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", u.Username, u.Email).
		Count(&cnt).Error; err != nil {
		return err
	}
	if cnt > 0 {
		return ErrTaken
	}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		// lost a race against the unique index
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return ErrTaken
		}
		return err
	}
	return nil
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	if err := r.db.WithContext(ctx).
		Where("username = ?", username).
		First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByUsername implements chat.Directory.
func (r *Repo) FindByUsername(ctx context.Context, username string) (*chat.Participant, error) {
	if username == "" {
		return nil, chat.ErrNotFound
	}
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, chat.ErrNotFound
		}
		return nil, fmt.Errorf("%w: find user: %v", chat.ErrPersistence, err)
	}
	return &chat.Participant{UserID: u.ID, Username: u.Username, Email: u.Email}, nil
}

// ListUsernames returns every registered username, ascending.
func (r *Repo) ListUsernames(ctx context.Context) ([]string, error) {
	names := []string{}
	if err := r.db.WithContext(ctx).Model(&models.User{}).
		Order("username ASC").
		Pluck("username", &names).Error; err != nil {
		return nil, err
	}
	return names, nil
}

// ProfileUpdate carries the profile fields to change; nil leaves a field as is.
type ProfileUpdate struct {
	Name      *string
	Gender    *string
	Birthday  *time.Time
	Height    *float64
	Weight    *float64
	Interests []string
}

func (p ProfileUpdate) apply(u *models.User) {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Gender != nil {
		u.Gender = *p.Gender
	}
	if p.Birthday != nil {
		b := *p.Birthday
		u.Birthday = &b
	}
	if p.Height != nil {
		u.Height = *p.Height
	}
	if p.Weight != nil {
		u.Weight = *p.Weight
	}
	if p.Interests != nil {
		u.Interests = p.Interests
	}
}

// UpdateProfile applies p to the user's profile and returns the stored row.
// A missing user yields gorm.ErrRecordNotFound.
func (r *Repo) UpdateProfile(ctx context.Context, username string, p ProfileUpdate) (*models.User, error) {
	u, err := r.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	p.apply(u)
	if err := r.db.WithContext(ctx).
		Select("name", "gender", "birthday", "height", "weight", "interests", "updated_at").
		Updates(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}
