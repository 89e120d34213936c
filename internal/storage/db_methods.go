package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"

	"gorm.io/gorm"
)

// CreateClusterFor inserts a new cluster with the complaint as its first
// member.
func (s *Service) CreateClusterFor(ctx context.Context, cluster *models.Cluster, complaintID string) error {
	cluster.MemberCount = 1
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(cluster).Error; err != nil {
			return err
		}
		return attach(tx, complaintID, cluster.ID)
	})
}

// JoinCluster attaches the complaint and increments the member counter in
// one transaction. The counter is bumped in SQL so concurrent joins never
// lose an update.
func (s *Service) JoinCluster(ctx context.Context, complaintID, clusterID string, category models.Category) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := attach(tx, complaintID, clusterID); err != nil {
			return err
		}
		res := tx.Model(&models.Cluster{}).
			Where("id = ? AND category = ?", clusterID, category).
			Updates(map[string]any{
				"member_count": gorm.Expr("member_count + 1"),
				"updated_at":   time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("cluster %s for %s: %w", clusterID, category, ErrCategoryMismatch)
		}
		return nil
	})
}

func attach(tx *gorm.DB, complaintID, clusterID string) error {
	res := tx.Model(&models.Complaint{}).
		Where("id = ? AND cluster_id IS NULL", complaintID).
		Update("cluster_id", clusterID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complaint %s: %w", complaintID, ErrAlreadyClustered)
	}
	return nil
}

func (s *Service) GetCluster(ctx context.Context, id string) (*models.Cluster, error) {
	var c models.Cluster
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "cluster "+id)
	}
	return &c, nil
}

// ListClusters returns clusters, largest first.
func (s *Service) ListClusters(ctx context.Context, f ClusterFilter) ([]models.Cluster, error) {
	q := s.DB.WithContext(ctx).Model(&models.Cluster{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Region != "" {
		q = q.Where("region = ?", f.Region)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Cluster
	err := q.Order("member_count desc, created_at desc").Find(&out).Error
	return out, err
}

// ApplyTransition moves a complaint from change.From to change.To and appends
// the matching history entry. Both writes commit together or not at all.
// ErrConflict is returned when the complaint is no longer in change.From.
func (s *Service) ApplyTransition(ctx context.Context, change StatusChange) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return applyTransition(tx, change)
	})
}

// ApplyTransitions applies a batch in one transaction. Complaints that moved
// concurrently are skipped; the number of applied changes is returned.
func (s *Service) ApplyTransitions(ctx context.Context, changes []StatusChange) (int, error) {
	applied := 0
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		applied = 0
		for _, ch := range changes {
			err := applyTransition(tx, ch)
			if err == nil {
				applied++
				continue
			}
			if errors.Is(err, ErrConflict) {
				s.log.Warn("bulk transition skipped",
					logger.String("complaint_id", ch.ComplaintID),
					logger.String("expected", string(ch.From)))
				continue
			}
			return err
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func applyTransition(tx *gorm.DB, ch StatusChange) error {
	at := ch.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	res := tx.Model(&models.Complaint{}).
		Where("id = ? AND status = ?", ch.ComplaintID, ch.From).
		Updates(map[string]any{
			"status":            ch.To,
			"status_updated_by": ch.ActorID,
			"status_updated_at": at,
			"status_note":       ch.Note,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complaint %s not in %s: %w", ch.ComplaintID, ch.From, ErrConflict)
	}

	old := ch.From
	entry := models.StatusHistoryEntry{
		ComplaintID: ch.ComplaintID,
		OldStatus:   &old,
		NewStatus:   ch.To,
		ActorID:     ch.ActorID,
		Note:        ch.Note,
		CreatedAt:   at,
	}
	return tx.Create(&entry).Error
}

// ListHistory returns the audit trail of a complaint in creation order.
func (s *Service) ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistoryEntry, error) {
	var out []models.StatusHistoryEntry
	err := s.DB.WithContext(ctx).
		Where("complaint_id = ?", complaintID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}
