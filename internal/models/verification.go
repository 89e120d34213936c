package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrImmutableHistory is returned by hooks guarding append-only rows.
var ErrImmutableHistory = errors.New("status history entries are immutable")

// VerificationRecord tracks one attempt to anchor a fingerprint on the ledger.
// A complaint may accumulate many records but at most one is confirmed.
type VerificationRecord struct {
	ID          string       `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ComplaintID string       `gorm:"type:varchar(36);not null;index" json:"complaint_id"`
	Fingerprint string       `gorm:"type:varchar(80);not null" json:"fingerprint"`
	Method      AnchorMethod `gorm:"type:varchar(16)" json:"method,omitempty"`

	// ExternalRef is the ledger transaction id; empty until submission returns.
	ExternalRef     string     `gorm:"type:varchar(128);index" json:"external_ref,omitempty"`
	BlockNumber     *uint64    `json:"block_number,omitempty"`
	LedgerTimestamp *time.Time `json:"ledger_timestamp,omitempty"`
	// Cost is a decimal string in the ledger's smallest unit.
	Cost string `gorm:"type:varchar(80)" json:"cost,omitempty"`

	Status        RecordStatus `gorm:"type:varchar(16);not null;index" json:"status"`
	FailureReason string       `gorm:"type:text" json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (r *VerificationRecord) BeforeCreate(tx *gorm.DB) (err error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Status == "" {
		r.Status = RecordPending
	}
	return
}
