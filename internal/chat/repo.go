package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Store is the durable, per-thread ordered message log.
type Store interface {
	Append(ctx context.Context, m *Message) error
	History(ctx context.Context, threadID string) ([]Message, error)
	LatestThreadFor(ctx context.Context, username string) (string, error)
	MarkRead(ctx context.Context, threadID, username string, at time.Time) (int64, error)
}

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Append assigns ID and CreatedAt. Failures are not retried here.
func (r *Repo) Append(ctx context.Context, m *Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("%w: append: %v", ErrPersistence, err)
	}
	return nil
}

// History returns the whole thread in ASC (created_at, id) order.
func (r *Repo) History(ctx context.Context, threadID string) ([]Message, error) {
	msgs := make([]Message, 0)
	if err := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("%w: history: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// HistoryPage returns up to limit messages older than beforeID in DESC id order (newest -> oldest).
func (r *Repo) HistoryPage(ctx context.Context, threadID string, limit int, beforeID uint64) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("id DESC").
		Limit(limit)
	if beforeID > 0 {
		q = q.Where("id < ?", beforeID)
	}

	msgs := make([]Message, 0, limit)
	if err := q.Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("%w: history page: %v", ErrPersistence, err)
	}
	return msgs, nil
}

// LatestThreadFor returns the thread of the newest message the user sent or received.
// With several peers only the most recent thread is returned.
func (r *Repo) LatestThreadFor(ctx context.Context, username string) (string, error) {
	var m Message
	err := r.db.WithContext(ctx).
		Where("sender_username = ? OR receiver_username = ?", username, username).
		Order("created_at DESC").
		Order("id DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%w: latest thread: %v", ErrPersistence, err)
	}
	return m.ThreadID, nil
}

// MarkRead stamps read_at on every unread message of the thread received by username.
func (r *Repo) MarkRead(ctx context.Context, threadID, username string, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&Message{}).
		Where("thread_id = ? AND receiver_username = ? AND read_at IS NULL", threadID, username).
		Update("read_at", at)
	if res.Error != nil {
		return 0, fmt.Errorf("%w: mark read: %v", ErrPersistence, res.Error)
	}
	return res.RowsAffected, nil
}

// IsParticipant reports whether username sent or received any message of the thread.
func (r *Repo) IsParticipant(ctx context.Context, threadID, username string) (bool, error) {
	var cnt int64
	if err := r.db.WithContext(ctx).Model(&Message{}).
		Where("thread_id = ? AND (sender_username = ? OR receiver_username = ?)", threadID, username, username).
		Limit(1).
		Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("%w: participant check: %v", ErrPersistence, err)
	}
	return cnt > 0, nil
}
