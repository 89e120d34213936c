package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role values carried in tokens and on User rows.
const (
	RoleCitizen  = "citizen"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// User is a complaint author or a government reviewer.
// Citizens arriving through Telegram are created on first contact.
type User struct {
	ID         string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	TelegramID *int64    `gorm:"uniqueIndex" json:"telegram_id,omitempty"`
	Name       string    `gorm:"type:text" json:"name,omitempty"`
	Role       string    `gorm:"type:varchar(16);not null;default:citizen" json:"role"`
	Language   string    `gorm:"type:varchar(8);not null;default:id" json:"language"`
	CreatedAt  time.Time `json:"created_at"`
}

// BeforeCreate generates the UUID if the caller did not set one.
func (u *User) BeforeCreate(tx *gorm.DB) (err error) {
	if u.ID == "" {
		u.ID = uuid.New().String()
	}
	if u.Role == "" {
		u.Role = RoleCitizen
	}
	if u.Language == "" {
		u.Language = "id"
	}
	return
}
