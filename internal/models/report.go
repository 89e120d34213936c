package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report is a reviewer-generated snapshot of the complaints of one category
// in one region, created up to CutoffAt. Bulk workflow transitions operate
// on exactly the complaints a report covers.
type Report struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Category       Category  `gorm:"type:varchar(32);not null;index" json:"category"`
	Region         string    `gorm:"type:varchar(128);not null" json:"region"`
	CutoffAt       time.Time `gorm:"not null" json:"cutoff_at"`
	ComplaintCount int       `json:"complaint_count"`
	Summary        string    `gorm:"type:text" json:"summary"`
	GeneratedBy    string    `gorm:"type:varchar(64);not null" json:"generated_by"`
	CreatedAt      time.Time `json:"created_at"`
}

func (r *Report) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	return
}

// MigrateModels lists every table owned by the service, in creation order.
var MigrateModels = []any{
	&User{},
	&Cluster{},
	&Complaint{},
	&StatusHistoryEntry{},
	&VerificationRecord{},
	&Report{},
}
