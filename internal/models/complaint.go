package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Complaint is a single citizen submission. It is classified once, joins at
// most one Cluster, moves through the review workflow and is anchored on the
// ledger by its fingerprint.
type Complaint struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	AuthorID string `gorm:"type:varchar(64);not null;index" json:"author_id"`

	Title          string `gorm:"type:text;not null" json:"title"`
	RawText        string `gorm:"type:text;not null" json:"raw_text"`
	NormalizedText string `gorm:"type:text" json:"normalized_text"`

	Category  Category   `gorm:"type:varchar(32);not null;index:idx_complaint_window,priority:1" json:"category"`
	Urgency   Urgency    `gorm:"type:varchar(16);not null" json:"urgency"`
	Sentiment Sentiment  `gorm:"type:varchar(16);not null" json:"sentiment"`
	Tags      StringList `json:"tags"`

	// Region is the city/regency the complaint is about. Province is the
	// top-level administrative region and may be empty.
	Region           string `gorm:"type:varchar(128);not null;index" json:"region"`
	Province         string `gorm:"type:varchar(128)" json:"province,omitempty"`
	SpecificLocation string `gorm:"type:text" json:"specific_location,omitempty"`

	ClusterID *string `gorm:"type:varchar(36);index" json:"cluster_id,omitempty"`

	Status          WorkflowStatus `gorm:"type:varchar(32);not null;default:unseen;index" json:"status"`
	StatusUpdatedBy string         `gorm:"type:varchar(64)" json:"status_updated_by,omitempty"`
	StatusUpdatedAt *time.Time     `json:"status_updated_at,omitempty"`
	StatusNote      string         `gorm:"type:text" json:"status_note,omitempty"`

	Fingerprint          *string            `gorm:"type:varchar(80)" json:"fingerprint,omitempty"`
	VerificationStatus   VerificationStatus `gorm:"type:varchar(16);not null;default:unverified;index" json:"verification_status"`
	LedgerRef            *string            `gorm:"type:varchar(128)" json:"ledger_ref,omitempty"`
	VerificationAttempts int                `gorm:"not null;default:0" json:"verification_attempts"`

	CreatedAt time.Time `gorm:"index:idx_complaint_window,priority:2,sort:desc" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns the id and pins the creation time to millisecond
// precision. The fingerprint covers CreatedAt, so the value must survive a
// database round trip unchanged.
func (c *Complaint) BeforeCreate(tx *gorm.DB) (err error) {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC().Truncate(time.Millisecond)
	if c.Status == "" {
		c.Status = StatusUnseen
	}
	if c.VerificationStatus == "" {
		c.VerificationStatus = VerificationUnverified
	}
	return
}

// HasConfirmedFingerprint reports whether the complaint is already anchored.
func (c *Complaint) HasConfirmedFingerprint() bool {
	return c.VerificationStatus == VerificationConfirmed && c.Fingerprint != nil
}
