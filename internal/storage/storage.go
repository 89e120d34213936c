package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a conditional update matched no row because the
	// row changed since it was read.
	ErrConflict = errors.New("row changed concurrently")
	// ErrAlreadyConfirmed means the complaint already has a confirmed
	// verification record.
	ErrAlreadyConfirmed = errors.New("complaint already has a confirmed verification")
	// ErrCategoryMismatch means a complaint tried to join a cluster of
	// another category.
	ErrCategoryMismatch = errors.New("cluster category does not match")
	ErrAlreadyClustered = errors.New("complaint already belongs to a cluster")
)

// Storage is the persistence contract used by the services.
type Storage interface {
	SaveUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	SaveTelegramUserIfNotExists(ctx context.Context, telegramID int64, name string) (*models.User, error)
	SetUserLanguage(ctx context.Context, userID, lang string) error

	CreateComplaint(ctx context.Context, complaint *models.Complaint) error
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	ListComplaints(ctx context.Context, filter ComplaintFilter) ([]models.Complaint, error)
	CandidateWindow(ctx context.Context, q WindowQuery) ([]models.Complaint, error)

	CreateClusterFor(ctx context.Context, cluster *models.Cluster, complaintID string) error
	JoinCluster(ctx context.Context, complaintID, clusterID string, category models.Category) error
	GetCluster(ctx context.Context, id string) (*models.Cluster, error)
	ListClusters(ctx context.Context, filter ClusterFilter) ([]models.Cluster, error)

	ApplyTransition(ctx context.Context, change StatusChange) error
	ApplyTransitions(ctx context.Context, changes []StatusChange) (int, error)
	ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistoryEntry, error)

	CreateVerificationRecord(ctx context.Context, record *models.VerificationRecord) error
	SetVerificationRef(ctx context.Context, recordID, ref string, method models.AnchorMethod) error
	ConfirmVerification(ctx context.Context, recordID string, c Confirmation) error
	FailVerification(ctx context.Context, recordID, reason string) error
	GetVerificationRecord(ctx context.Context, id string) (*models.VerificationRecord, error)
	FindVerificationByRef(ctx context.Context, ref string) (*models.VerificationRecord, error)
	ListVerificationRecords(ctx context.Context, complaintID string) ([]models.VerificationRecord, error)
	PendingVerifications(ctx context.Context, limit int) ([]models.VerificationRecord, error)
	RetryableComplaints(ctx context.Context, maxAttempts, limit int) ([]models.Complaint, error)
	UnanchoredComplaints(ctx context.Context, createdBefore time.Time, limit int) ([]models.Complaint, error)

	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ReportComplaints(ctx context.Context, report *models.Report) ([]models.Complaint, error)

	SaveDraft(ctx context.Context, chatID int64, draft Draft) error
	GetDraft(ctx context.Context, chatID int64) (*Draft, error)
	ClearDraft(ctx context.Context, chatID int64) error
}

// ComplaintFilter narrows ListComplaints. Zero fields are ignored.
type ComplaintFilter struct {
	Category           models.Category
	Region             string
	Status             models.WorkflowStatus
	ClusterID          string
	AuthorID           string
	VerificationStatus models.VerificationStatus
	Limit              int
	Offset             int
}

// WindowQuery selects the scoring candidates for a new complaint.
type WindowQuery struct {
	Category  models.Category
	Region    string // only applied when non-empty
	ExcludeID string
	Limit     int
}

type ClusterFilter struct {
	Category models.Category
	Region   string
	Limit    int
}

// StatusChange is one conditional workflow update. It applies only while the
// complaint is still in From.
type StatusChange struct {
	ComplaintID string
	From        models.WorkflowStatus
	To          models.WorkflowStatus
	ActorID     string
	Note        string
	At          time.Time
}

// Confirmation carries the ledger inclusion details of a record.
type Confirmation struct {
	BlockNumber     uint64
	LedgerTimestamp time.Time
	Cost            string
}

// Service implements Storage on gorm and redis. Redis is optional; without it
// drafts live in process memory.
type Service struct {
	DB     *gorm.DB
	Redis  *redis.Client
	log    logger.Logger
	drafts *memoryDrafts
}

// NewStorageService Constructor
func NewStorageService(db *gorm.DB, rdb *redis.Client, log logger.Logger) *Service {
	return &Service{
		DB:     db,
		Redis:  rdb,
		log:    log.With(logger.String("component", "storage")),
		drafts: newMemoryDrafts(),
	}
}

// Migrate creates or updates every table.
func (s *Service) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(models.MigrateModels...)
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}

// SaveUser stores the user, inserting or replacing by primary key.
func (s *Service) SaveUser(ctx context.Context, user *models.User) error {
	return s.DB.WithContext(ctx).Save(user).Error
}

func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user "+id)
	}
	return &user, nil
}

// SaveTelegramUserIfNotExists returns the user bound to a Telegram account,
// creating it on first contact.
func (s *Service) SaveTelegramUserIfNotExists(ctx context.Context, telegramID int64, name string) (*models.User, error) {
	var user models.User
	defaults := models.User{TelegramID: &telegramID, Name: name}

	result := s.DB.WithContext(ctx).Where("telegram_id = ?", telegramID).FirstOrCreate(&user, defaults)
	if result.Error != nil {
		s.log.Error("save telegram user", logger.Int64("telegram_id", telegramID), logger.Error(result.Error))
		return nil, result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Info("new user saved", logger.String("user_id", user.ID), logger.Int64("telegram_id", telegramID))
	}
	return &user, nil
}

func (s *Service) SetUserLanguage(ctx context.Context, userID, lang string) error {
	res := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("language", lang)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// CreateComplaint inserts the complaint row together with the first history
// entry, which has no old status.
func (s *Service) CreateComplaint(ctx context.Context, complaint *models.Complaint) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(complaint).Error; err != nil {
			return err
		}
		entry := models.StatusHistoryEntry{
			ComplaintID: complaint.ID,
			NewStatus:   complaint.Status,
			ActorID:     complaint.AuthorID,
			CreatedAt:   complaint.CreatedAt,
		}
		return tx.Create(&entry).Error
	})
	if err != nil {
		s.log.Error("save complaint", logger.String("author_id", complaint.AuthorID), logger.Error(err))
		return err
	}
	return nil
}

func (s *Service) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	var c models.Complaint
	if err := s.DB.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "complaint "+id)
	}
	return &c, nil
}

// ListComplaints returns matching complaints, newest first.
func (s *Service) ListComplaints(ctx context.Context, f ComplaintFilter) ([]models.Complaint, error) {
	q := s.DB.WithContext(ctx).Model(&models.Complaint{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Region != "" {
		q = q.Where("region = ?", f.Region)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ClusterID != "" {
		q = q.Where("cluster_id = ?", f.ClusterID)
	}
	if f.AuthorID != "" {
		q = q.Where("author_id = ?", f.AuthorID)
	}
	if f.VerificationStatus != "" {
		q = q.Where("verification_status = ?", f.VerificationStatus)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var out []models.Complaint
	if err := q.Order("created_at desc, id desc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CandidateWindow returns the most recent complaints of the category,
// newest first.
func (s *Service) CandidateWindow(ctx context.Context, w WindowQuery) ([]models.Complaint, error) {
	q := s.DB.WithContext(ctx).Where("category = ?", w.Category)
	if w.Region != "" {
		q = q.Where("region = ?", w.Region)
	}
	if w.ExcludeID != "" {
		q = q.Where("id <> ?", w.ExcludeID)
	}
	var out []models.Complaint
	err := q.Order("created_at desc, id desc").Limit(w.Limit).Find(&out).Error
	return out, err
}

func (s *Service) CreateReport(ctx context.Context, report *models.Report) error {
	return s.DB.WithContext(ctx).Create(report).Error
}

func (s *Service) GetReport(ctx context.Context, id string) (*models.Report, error) {
	var r models.Report
	if err := s.DB.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "report "+id)
	}
	return &r, nil
}

// ReportComplaints returns the complaints a report covers: same category and
// region, created no later than the cutoff. Oldest first.
func (s *Service) ReportComplaints(ctx context.Context, r *models.Report) ([]models.Complaint, error) {
	var out []models.Complaint
	err := reportScope(s.DB.WithContext(ctx), r).Order("created_at asc, id asc").Find(&out).Error
	return out, err
}

func reportScope(db *gorm.DB, r *models.Report) *gorm.DB {
	return db.Model(&models.Complaint{}).
		Where("category = ? AND region = ? AND created_at <= ?", r.Category, r.Region, r.CutoffAt)
}
