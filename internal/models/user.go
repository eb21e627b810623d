package models

import "time"

// User is the persisted identity record plus its optional profile. The chat
// core only reads ID, Username and Email from it.
type User struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Username     string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email        string    `gorm:"type:varchar(191);uniqueIndex;not null" json:"email"`
	PasswordHash string    `gorm:"type:varchar(255);not null" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Name      string     `gorm:"type:varchar(128)" json:"name"`
	Gender    string     `gorm:"type:varchar(16)" json:"gender"`
	Birthday  *time.Time `json:"birthday"`
	Height    float64    `json:"height"`
	Weight    float64    `json:"weight"`
	Interests []string   `gorm:"type:text;serializer:json" json:"interests"`
}

func (User) TableName() string { return "users" }

const (
	GenderMale   = "male"
	GenderFemale = "female"
)

// ProfileComplete reports whether every profile field has been filled in.
func (u *User) ProfileComplete() bool {
	return u.Name != "" && u.Birthday != nil && u.Height > 0 && u.Weight > 0 && len(u.Interests) > 0
}
