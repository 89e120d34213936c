package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StatusHistoryEntry is the immutable audit record of one workflow transition.
// Rows are only ever inserted.
type StatusHistoryEntry struct {
	ID          string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ComplaintID string `gorm:"type:varchar(36);not null;index:idx_history_complaint,priority:1" json:"complaint_id"`
	// OldStatus is nil for the first entry of a complaint.
	OldStatus *WorkflowStatus `gorm:"type:varchar(32)" json:"old_status"`
	NewStatus WorkflowStatus  `gorm:"type:varchar(32);not null" json:"new_status"`
	ActorID   string          `gorm:"type:varchar(64);not null" json:"actor_id"`
	Note      string          `gorm:"type:text" json:"note,omitempty"`
	CreatedAt time.Time       `gorm:"index:idx_history_complaint,priority:2" json:"created_at"`
}

func (StatusHistoryEntry) TableName() string { return "status_history" }

func (h *StatusHistoryEntry) BeforeCreate(tx *gorm.DB) (err error) {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	return
}

// BeforeUpdate refuses any mutation of an audit row.
func (h *StatusHistoryEntry) BeforeUpdate(tx *gorm.DB) (err error) {
	return ErrImmutableHistory
}

// BeforeDelete refuses deletion of an audit row.
func (h *StatusHistoryEntry) BeforeDelete(tx *gorm.DB) (err error) {
	return ErrImmutableHistory
}
