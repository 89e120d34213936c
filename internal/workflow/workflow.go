// Package workflow moves complaints through the review statuses and keeps
// the audit trail.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"
)

var (
	ErrUnauthorized     = errors.New("reviewer authority required")
	ErrInvalidStatus    = errors.New("invalid workflow status")
	ErrConcurrentUpdate = errors.New("complaint status changed concurrently")

	// ErrTransitionNotAllowed means the status exists but the table has no
	// edge from the current status to it.
	ErrTransitionNotAllowed = errors.New("transition not allowed")
)

// ReportSeenNote is recorded on complaints marked seen through a report.
const ReportSeenNote = "Viewed in report"

// Store is the persistence the workflow needs.
type Store interface {
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	ApplyTransition(ctx context.Context, change storage.StatusChange) error
	ApplyTransitions(ctx context.Context, changes []storage.StatusChange) (int, error)
	ListHistory(ctx context.Context, complaintID string) ([]models.StatusHistoryEntry, error)
	GetReport(ctx context.Context, id string) (*models.Report, error)
	ReportComplaints(ctx context.Context, report *models.Report) ([]models.Complaint, error)
}

type Service struct {
	store   Store
	table   TransitionTable
	events  notify.Publisher
	log     logger.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewService builds the workflow. A nil table means Permissive.
func NewService(store Store, table TransitionTable, events notify.Publisher, log logger.Logger, m *telemetry.Metrics) *Service {
	if table == nil {
		table = Permissive()
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		store:   store,
		table:   table,
		events:  events,
		log:     log.With(logger.String("component", "workflow")),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func checkTarget(target models.WorkflowStatus) error {
	if !target.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	return nil
}

// Transition sets the complaint to target on behalf of a reviewer. Setting
// the current status again is a no-op and writes no history. The returned
// complaint reflects the stored state.
func (s *Service) Transition(ctx context.Context, actor auth.Actor, complaintID string, target models.WorkflowStatus, note string) (*models.Complaint, error) {
	if !actor.HasReviewerAuthority() {
		return nil, ErrUnauthorized
	}
	if err := checkTarget(target); err != nil {
		return nil, err
	}

	c, err := s.store.GetComplaint(ctx, complaintID)
	if err != nil {
		return nil, err
	}
	if c.Status == target {
		return c, nil
	}
	if !s.table.Allows(c.Status, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrTransitionNotAllowed, c.Status, target)
	}

	old := c.Status
	if err := s.apply(ctx, c, target, actor.ID, note); err != nil {
		return nil, err
	}
	s.published(ctx, c, old, actor.ID)
	return c, nil
}

// MarkSeen moves an unseen complaint to seen the first time a reviewer opens
// it. It reports whether a transition happened.
func (s *Service) MarkSeen(ctx context.Context, actor auth.Actor, c *models.Complaint) (bool, error) {
	if !actor.HasReviewerAuthority() {
		return false, ErrUnauthorized
	}
	if c.Status != models.StatusUnseen {
		return false, nil
	}
	err := s.apply(ctx, c, models.StatusSeen, config.SystemActorID, config.AutoSeenNote)
	if errors.Is(err, ErrConcurrentUpdate) {
		// another reviewer got there first
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.Debug("complaint marked seen", logger.String("complaint_id", c.ID), logger.String("reviewer_id", actor.ID))
	s.published(ctx, c, models.StatusUnseen, actor.ID)
	return true, nil
}

func (s *Service) apply(ctx context.Context, c *models.Complaint, target models.WorkflowStatus, actorID, note string) error {
	at := s.now()
	err := s.store.ApplyTransition(ctx, storage.StatusChange{
		ComplaintID: c.ID,
		From:        c.Status,
		To:          target,
		ActorID:     actorID,
		Note:        note,
		At:          at,
	})
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("complaint %s: %w", c.ID, ErrConcurrentUpdate)
	}
	if err != nil {
		return fmt.Errorf("transition complaint %s: %w", c.ID, err)
	}

	c.Status = target
	c.StatusUpdatedBy = actorID
	c.StatusUpdatedAt = &at
	c.StatusNote = note
	s.metrics.Transition(string(target), 1)
	return nil
}

func (s *Service) published(ctx context.Context, c *models.Complaint, old models.WorkflowStatus, actorID string) {
	s.events.Publish(ctx, notify.Event{
		Type:        notify.EventStatusChanged,
		ComplaintID: c.ID,
		Category:    string(c.Category),
		Region:      c.Region,
		OldStatus:   string(old),
		NewStatus:   string(c.Status),
		ActorID:     actorID,
	})
}

// ApplyToReport moves every complaint the report covers to target, in one
// transaction with one history entry per changed complaint. A target no
// status may move to is rejected like a single transition. Complaints
// already in target, or with no table edge to it, are left alone. It returns
// the number of complaints changed.
func (s *Service) ApplyToReport(ctx context.Context, actor auth.Actor, reportID string, target models.WorkflowStatus, note string) (int, error) {
	if !actor.HasReviewerAuthority() {
		return 0, ErrUnauthorized
	}
	if err := checkTarget(target); err != nil {
		return 0, err
	}
	if !s.table.Reachable(target) {
		return 0, fmt.Errorf("%w: nothing moves to %s", ErrTransitionNotAllowed, target)
	}
	return s.applyToReport(ctx, actor, reportID, target, note, func(c models.Complaint) bool {
		return c.Status != target && s.table.Allows(c.Status, target)
	})
}

// MarkReportSeen moves the unseen complaints of a report to seen.
func (s *Service) MarkReportSeen(ctx context.Context, actor auth.Actor, reportID string) (int, error) {
	if !actor.HasReviewerAuthority() {
		return 0, ErrUnauthorized
	}
	return s.applyToReport(ctx, actor, reportID, models.StatusSeen, ReportSeenNote, func(c models.Complaint) bool {
		return c.Status == models.StatusUnseen
	})
}

func (s *Service) applyToReport(ctx context.Context, actor auth.Actor, reportID string, target models.WorkflowStatus, note string, eligible func(models.Complaint) bool) (int, error) {
	report, err := s.store.GetReport(ctx, reportID)
	if err != nil {
		return 0, err
	}
	complaints, err := s.store.ReportComplaints(ctx, report)
	if err != nil {
		return 0, fmt.Errorf("load report %s complaints: %w", reportID, err)
	}

	at := s.now()
	var changes []storage.StatusChange
	for _, c := range complaints {
		if !eligible(c) {
			continue
		}
		changes = append(changes, storage.StatusChange{
			ComplaintID: c.ID,
			From:        c.Status,
			To:          target,
			ActorID:     actor.ID,
			Note:        note,
			At:          at,
		})
	}
	if len(changes) == 0 {
		return 0, nil
	}

	n, err := s.store.ApplyTransitions(ctx, changes)
	if err != nil {
		return 0, fmt.Errorf("bulk transition report %s: %w", reportID, err)
	}
	s.metrics.Transition(string(target), n)
	s.log.Info("report transition applied",
		logger.String("report_id", reportID),
		logger.String("status", string(target)),
		logger.Int("changed", n),
		logger.Int("eligible", len(changes)))

	s.events.Publish(ctx, notify.Event{
		Type:      notify.EventStatusChanged,
		ReportID:  reportID,
		Category:  string(report.Category),
		Region:    report.Region,
		NewStatus: string(target),
		ActorID:   actor.ID,
		Count:     n,
	})
	return n, nil
}

// History returns the audit trail of a complaint, oldest first.
func (s *Service) History(ctx context.Context, complaintID string) ([]models.StatusHistoryEntry, error) {
	if _, err := s.store.GetComplaint(ctx, complaintID); err != nil {
		return nil, err
	}
	return s.store.ListHistory(ctx, complaintID)
}
