// Package report snapshots the complaints of one category and region for
// reviewers. Bulk workflow transitions run against these snapshots.
package report

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/llm"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/workflow"
)

var ErrInvalidInput = errors.New("invalid report request")

type Summarizer interface {
	SummarizeReport(ctx context.Context, report llm.ReportInput, samples []llm.Sample) string
}

type Store interface {
	CreateReport(ctx context.Context, r *models.Report) error
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ReportComplaints(ctx context.Context, r *models.Report) ([]models.Complaint, error)
}

type Service struct {
	store      Store
	summarizer Summarizer
	events     notify.Publisher
	log        logger.Logger
	now        func() time.Time
}

func NewService(store Store, summarizer Summarizer, events notify.Publisher, log logger.Logger) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		store:      store,
		summarizer: summarizer,
		events:     events,
		log:        log.With(logger.String("component", "report")),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Generate snapshots the complaints of category and region created up to
// now, summarizes them and stores the report.
func (s *Service) Generate(ctx context.Context, actor auth.Actor, category models.Category, region string) (*models.Report, error) {
	if !actor.HasReviewerAuthority() {
		return nil, workflow.ErrUnauthorized
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
	}
	region = strings.TrimSpace(region)
	if region == "" {
		return nil, fmt.Errorf("%w: region is required", ErrInvalidInput)
	}

	r := &models.Report{
		Category:    category,
		Region:      region,
		CutoffAt:    s.now(),
		GeneratedBy: actor.ID,
	}
	complaints, err := s.store.ReportComplaints(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("load report complaints: %w", err)
	}

	samples := make([]llm.Sample, len(complaints))
	for i := range complaints {
		samples[i] = llm.SampleOf(&complaints[i])
	}
	r.ComplaintCount = len(complaints)
	r.Summary = s.summarizer.SummarizeReport(ctx, llm.ReportInput{Category: category, Region: region, CutoffAt: r.CutoffAt}, samples)

	if err := s.store.CreateReport(ctx, r); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}

	s.events.Publish(ctx, notify.Event{
		Type:     notify.EventReportGenerated,
		ReportID: r.ID,
		Category: string(category),
		Region:   region,
		ActorID:  actor.ID,
		Count:    r.ComplaintCount,
	})
	s.log.Info("report generated",
		logger.String("report_id", r.ID),
		logger.String("category", string(category)),
		logger.String("region", region),
		logger.Int("complaints", r.ComplaintCount))
	return r, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Report, error) {
	return s.store.GetReport(ctx, id)
}

// Complaints returns what the report covers, oldest first.
func (s *Service) Complaints(ctx context.Context, id string) ([]models.Complaint, error) {
	r, err := s.store.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ReportComplaints(ctx, r)
}
