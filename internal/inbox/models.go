package inbox

import "time"

// ThreadPreview is one row of a user's inbox: the latest message of a thread
// and how many of its messages the user has not read.
type ThreadPreview struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	Username      string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_preview_user_thread,priority:1;index:idx_preview_user_last,priority:1" json:"-"`
	ThreadID      string    `gorm:"type:varchar(64);not null;uniqueIndex:uniq_preview_user_thread,priority:2" json:"thread_id"`
	Peer          string    `gorm:"type:varchar(64);not null" json:"peer"`
	LastBody      string    `gorm:"type:text" json:"last_body"`
	LastAt        time.Time `gorm:"index:idx_preview_user_last,priority:2" json:"last_at"`
	LastMessageID uint64    `gorm:"not null;default:0" json:"last_message_id"`
	Unread        int       `gorm:"not null;default:0" json:"unread"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (ThreadPreview) TableName() string { return "thread_previews" }
