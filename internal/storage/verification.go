package storage

import (
	"context"
	"fmt"
	"time"

	"suarawarga/backend/internal/models"

	"gorm.io/gorm"
)

// CreateVerificationRecord opens a pending submission attempt and marks the
// complaint pending. Refused with ErrAlreadyConfirmed once any record of the
// complaint is confirmed.
func (s *Service) CreateVerificationRecord(ctx context.Context, record *models.VerificationRecord) error {
	record.Status = models.RecordPending
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var confirmed int64
		err := tx.Model(&models.VerificationRecord{}).
			Where("complaint_id = ? AND status = ?", record.ComplaintID, models.RecordConfirmed).
			Count(&confirmed).Error
		if err != nil {
			return err
		}
		if confirmed > 0 {
			return fmt.Errorf("complaint %s: %w", record.ComplaintID, ErrAlreadyConfirmed)
		}

		res := tx.Model(&models.Complaint{}).
			Where("id = ? AND verification_status <> ?", record.ComplaintID, models.VerificationConfirmed).
			Updates(map[string]any{
				"verification_status":   models.VerificationPending,
				"fingerprint":           record.Fingerprint,
				"verification_attempts": gorm.Expr("verification_attempts + 1"),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if _, err := getComplaint(tx, record.ComplaintID); err != nil {
				return err
			}
			return fmt.Errorf("complaint %s: %w", record.ComplaintID, ErrAlreadyConfirmed)
		}
		return tx.Create(record).Error
	})
}

// SetVerificationRef stores the ledger reference returned by a submission.
func (s *Service) SetVerificationRef(ctx context.Context, recordID, ref string, method models.AnchorMethod) error {
	res := s.DB.WithContext(ctx).Model(&models.VerificationRecord{}).
		Where("id = ? AND status = ?", recordID, models.RecordPending).
		Updates(map[string]any{"external_ref": ref, "method": method})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("verification %s not pending: %w", recordID, ErrConflict)
	}
	return nil
}

// ConfirmVerification marks a pending record confirmed and copies the ledger
// reference onto the complaint. The update only applies while no other record
// of the same complaint is confirmed, and a complaint that is already
// confirmed is never rewritten.
func (s *Service) ConfirmVerification(ctx context.Context, recordID string, c Confirmation) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.VerificationRecord
		if err := tx.First(&rec, "id = ?", recordID).Error; err != nil {
			return notFound(err, "verification "+recordID)
		}
		if rec.Status == models.RecordConfirmed {
			return nil
		}

		block := c.BlockNumber
		ts := c.LedgerTimestamp.UTC()
		res := tx.Model(&models.VerificationRecord{}).
			Where("id = ? AND status = ?", recordID, models.RecordPending).
			Where("NOT EXISTS (SELECT 1 FROM verification_records other WHERE other.complaint_id = verification_records.complaint_id AND other.status = ?)", models.RecordConfirmed).
			Updates(map[string]any{
				"status":           models.RecordConfirmed,
				"block_number":     &block,
				"ledger_timestamp": &ts,
				"cost":             c.Cost,
				"failure_reason":   "",
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			if rec.Status != models.RecordPending {
				return fmt.Errorf("verification %s is %s: %w", recordID, rec.Status, ErrConflict)
			}
			return fmt.Errorf("complaint %s: %w", rec.ComplaintID, ErrAlreadyConfirmed)
		}

		return tx.Model(&models.Complaint{}).
			Where("id = ? AND verification_status <> ?", rec.ComplaintID, models.VerificationConfirmed).
			Updates(map[string]any{
				"verification_status": models.VerificationConfirmed,
				"ledger_ref":          rec.ExternalRef,
				"fingerprint":         rec.Fingerprint,
			}).Error
	})
}

// FailVerification closes a pending record with a reason. The complaint is
// marked failed unless it is already confirmed.
func (s *Service) FailVerification(ctx context.Context, recordID, reason string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.VerificationRecord
		if err := tx.First(&rec, "id = ?", recordID).Error; err != nil {
			return notFound(err, "verification "+recordID)
		}
		res := tx.Model(&models.VerificationRecord{}).
			Where("id = ? AND status = ?", recordID, models.RecordPending).
			Updates(map[string]any{"status": models.RecordFailed, "failure_reason": reason})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("verification %s is %s: %w", recordID, rec.Status, ErrConflict)
		}
		return tx.Model(&models.Complaint{}).
			Where("id = ? AND verification_status <> ?", rec.ComplaintID, models.VerificationConfirmed).
			Update("verification_status", models.VerificationFailed).Error
	})
}

func (s *Service) GetVerificationRecord(ctx context.Context, id string) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	if err := s.DB.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "verification "+id)
	}
	return &rec, nil
}

// FindVerificationByRef returns the newest record carrying the ledger reference.
func (s *Service) FindVerificationByRef(ctx context.Context, ref string) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	err := s.DB.WithContext(ctx).
		Where("external_ref = ?", ref).
		Order("created_at desc").
		First(&rec).Error
	if err != nil {
		return nil, notFound(err, "verification ref "+ref)
	}
	return &rec, nil
}

// ListVerificationRecords returns every attempt of a complaint, oldest first.
func (s *Service) ListVerificationRecords(ctx context.Context, complaintID string) ([]models.VerificationRecord, error) {
	var out []models.VerificationRecord
	err := s.DB.WithContext(ctx).
		Where("complaint_id = ?", complaintID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// PendingVerifications returns pending records, oldest first.
func (s *Service) PendingVerifications(ctx context.Context, limit int) ([]models.VerificationRecord, error) {
	var out []models.VerificationRecord
	q := s.DB.WithContext(ctx).Where("status = ?", models.RecordPending).Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// RetryableComplaints returns complaints whose last attempt failed and that
// are still below the attempt limit.
func (s *Service) RetryableComplaints(ctx context.Context, maxAttempts, limit int) ([]models.Complaint, error) {
	var out []models.Complaint
	q := s.DB.WithContext(ctx).
		Where("verification_status = ? AND verification_attempts < ?", models.VerificationFailed, maxAttempts).
		Order("updated_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// UnanchoredComplaints returns complaints created before the cutoff that never
// got a verification record, oldest first.
func (s *Service) UnanchoredComplaints(ctx context.Context, createdBefore time.Time, limit int) ([]models.Complaint, error) {
	var out []models.Complaint
	q := s.DB.WithContext(ctx).
		Where("verification_status = ? AND created_at < ?", models.VerificationUnverified, createdBefore.UTC()).
		Order("created_at asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func getComplaint(tx *gorm.DB, id string) (*models.Complaint, error) {
	var c models.Complaint
	if err := tx.First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "complaint "+id)
	}
	return &c, nil
}
