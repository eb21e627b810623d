package inbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/suPer8Hu/chat-platform/internal/chat"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrBadEvent = errors.New("malformed inbox event")

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Apply folds one domain event into the previews. Re-delivered events are
// ignored through last_message_id, so an event older than the current preview
// does not count as unread either.
func (r *Repo) Apply(ctx context.Context, evt chat.Event) error {
	switch evt.Type {
	case chat.EventTypeMessageCreated:
		if evt.ThreadID == "" || evt.MessageID == 0 || evt.Sender == nil || evt.Receiver == nil {
			return fmt.Errorf("%w: %s without thread, message or participants", ErrBadEvent, evt.Type)
		}
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := bump(tx, evt, evt.Sender.Username, evt.Receiver.Username, 0); err != nil {
				return err
			}
			if evt.Sender.Username == evt.Receiver.Username {
				return nil
			}
			return bump(tx, evt, evt.Receiver.Username, evt.Sender.Username, 1)
		})

	case chat.EventTypeThreadRead:
		if evt.ThreadID == "" || evt.Username == "" {
			return fmt.Errorf("%w: %s without thread or user", ErrBadEvent, evt.Type)
		}
		return r.MarkRead(ctx, evt.Username, evt.ThreadID)

	default:
		return fmt.Errorf("%w: unknown type %q", ErrBadEvent, evt.Type)
	}
}

func bump(tx *gorm.DB, evt chat.Event, owner, peer string, unread int) error {
	row := &ThreadPreview{Username: owner, ThreadID: evt.ThreadID, Peer: peer}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error; err != nil {
		return err
	}
	return tx.Model(&ThreadPreview{}).
		Where("username = ? AND thread_id = ? AND last_message_id < ?", owner, evt.ThreadID, evt.MessageID).
		Updates(map[string]any{
			"peer":            peer,
			"last_body":       evt.Content,
			"last_at":         evt.At,
			"last_message_id": evt.MessageID,
			"unread":          gorm.Expr("unread + ?", unread),
		}).Error
}

func (r *Repo) MarkRead(ctx context.Context, username, threadID string) error {
	return r.db.WithContext(ctx).Model(&ThreadPreview{}).
		Where("username = ? AND thread_id = ?", username, threadID).
		Update("unread", 0).Error
}

// List returns the user's previews, most recent thread first.
func (r *Repo) List(ctx context.Context, username string, limit int) ([]ThreadPreview, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	out := make([]ThreadPreview, 0)
	if err := r.db.WithContext(ctx).
		Where("username = ?", username).
		Order("last_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
