package chat

import "time"

// Participant is the snapshot of a user embedded into a message at send time.
type Participant struct {
	UserID   uint64 `gorm:"not null" json:"user_id"`
	Username string `gorm:"type:varchar(64);not null;index" json:"username"`
	Email    string `gorm:"type:varchar(191);not null" json:"email"`
}

// MaxThreadIDLen bounds client-supplied thread ids; minted ids are 26 chars.
const MaxThreadIDLen = 64

type Message struct {
	ID        uint64      `gorm:"primaryKey;autoIncrement" json:"id"`
	ThreadID  string      `gorm:"type:varchar(64);not null;index:idx_chat_msg_thread_created,priority:1" json:"thread_id"`
	Sender    Participant `gorm:"embedded;embeddedPrefix:sender_" json:"sender"`
	Receiver  Participant `gorm:"embedded;embeddedPrefix:receiver_" json:"receiver"`
	Content   string      `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time   `gorm:"index:idx_chat_msg_thread_created,priority:2" json:"created_at"`
	ReadAt    *time.Time  `json:"read_at,omitempty"`
}

func (Message) TableName() string { return "chat_messages" }
