package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Cluster groups topically similar complaints of one category.
// MemberCount only grows; it is incremented atomically as complaints join.
type Cluster struct {
	ID          string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string     `gorm:"type:text;not null" json:"name"`
	Description string     `gorm:"type:text" json:"description"`
	Category    Category   `gorm:"type:varchar(32);not null;index" json:"category"`
	Region      string     `gorm:"type:varchar(128);index" json:"region"`
	Keywords    StringList `json:"keywords"`
	MemberCount int        `gorm:"not null;default:0" json:"member_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (c *Cluster) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return
}
