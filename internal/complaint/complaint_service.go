// Package complaint provides the intake pipeline for citizen complaints:
// classification, persistence, clustering and background anchoring.
package complaint

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/clustering"
	"suarawarga/backend/internal/llm"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"
)

const MaxTextLength = 5000

var (
	ErrInvalidInput = errors.New("invalid complaint")
	ErrForbidden    = errors.New("complaint belongs to another author")
)

type Classifier interface {
	Classify(ctx context.Context, text, region string) llm.Classification
}

type Assigner interface {
	Assign(ctx context.Context, c *models.Complaint) (clustering.Assignment, error)
}

type Anchorer interface {
	AnchorAsync(complaintID string)
}

type Viewer interface {
	MarkSeen(ctx context.Context, actor auth.Actor, c *models.Complaint) (bool, error)
}

// Store is the persistence the intake needs.
type Store interface {
	CreateComplaint(ctx context.Context, c *models.Complaint) error
	GetComplaint(ctx context.Context, id string) (*models.Complaint, error)
	ListComplaints(ctx context.Context, f storage.ComplaintFilter) ([]models.Complaint, error)
	ListVerificationRecords(ctx context.Context, complaintID string) ([]models.VerificationRecord, error)
}

// SubmitInput is one complaint as received from a channel.
type SubmitInput struct {
	AuthorID         string `json:"-"`
	Text             string `json:"text"`
	Region           string `json:"region"`
	Province         string `json:"province"`
	SpecificLocation string `json:"specific_location"`
	// Channel names the intake surface, e.g. "api" or "telegram".
	Channel string `json:"-"`
}

type Submission struct {
	Complaint  *models.Complaint     `json:"complaint"`
	Assignment clustering.Assignment `json:"assignment"`
	// Degraded is set when classification used the default.
	Degraded bool `json:"degraded"`
}

// Service handles the business logic for complaints.
type Service struct {
	store      Store
	classifier Classifier
	assigner   Assigner
	anchorer   Anchorer
	viewer     Viewer
	events     notify.Publisher
	log        logger.Logger
	metrics    *telemetry.Metrics
}

// NewService creates a new complaint service. anchorer may be nil when no
// ledger is configured.
func NewService(store Store, classifier Classifier, assigner Assigner, anchorer Anchorer, viewer Viewer, events notify.Publisher, log logger.Logger, m *telemetry.Metrics) *Service {
	if events == nil {
		events = notify.Nop{}
	}
	return &Service{
		store:      store,
		classifier: classifier,
		assigner:   assigner,
		anchorer:   anchorer,
		viewer:     viewer,
		events:     events,
		log:        log.With(logger.String("component", "complaint")),
		metrics:    m,
	}
}

func (in *SubmitInput) validate() error {
	in.Text = strings.TrimSpace(in.Text)
	in.Region = strings.TrimSpace(in.Region)
	in.Province = strings.TrimSpace(in.Province)
	in.SpecificLocation = strings.TrimSpace(in.SpecificLocation)

	switch {
	case in.AuthorID == "":
		return fmt.Errorf("%w: author is required", ErrInvalidInput)
	case in.Text == "":
		return fmt.Errorf("%w: text is required", ErrInvalidInput)
	case utf8.RuneCountInString(in.Text) > MaxTextLength:
		return fmt.Errorf("%w: text longer than %d characters", ErrInvalidInput, MaxTextLength)
	case in.Region == "":
		return fmt.Errorf("%w: region is required", ErrInvalidInput)
	}
	return nil
}

// Submit classifies and stores a complaint, then clusters it and starts
// anchoring. Only validation and the complaint write can fail the call;
// classification, clustering and the ledger degrade instead.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*Submission, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	cls := s.classifier.Classify(ctx, in.Text, in.Region)
	title := cls.Title
	if title == "" {
		title = llm.DefaultClassification(in.Text).Title
	}
	c := &models.Complaint{
		AuthorID:         in.AuthorID,
		Title:            title,
		RawText:          in.Text,
		NormalizedText:   cls.NormalizedText,
		Category:         cls.Category,
		Urgency:          cls.Urgency,
		Sentiment:        cls.Sentiment,
		Tags:             models.StringList(cls.Tags),
		Region:           in.Region,
		Province:         in.Province,
		SpecificLocation: in.SpecificLocation,
	}
	if err := s.store.CreateComplaint(ctx, c); err != nil {
		return nil, fmt.Errorf("store complaint: %w", err)
	}
	s.metrics.ComplaintSubmitted(string(c.Category), in.Channel)

	assignment, err := s.assigner.Assign(ctx, c)
	if err != nil {
		s.log.Warn("complaint left unclustered", logger.String("complaint_id", c.ID), logger.Error(err))
	}

	if s.anchorer != nil {
		s.anchorer.AnchorAsync(c.ID)
	}

	s.events.Publish(ctx, notify.Event{
		Type:        notify.EventComplaintCreated,
		ComplaintID: c.ID,
		ClusterID:   assignment.ClusterID,
		Category:    string(c.Category),
		Region:      c.Region,
		NewStatus:   string(c.Status),
		ActorID:     c.AuthorID,
	})
	s.log.Info("complaint submitted",
		logger.String("complaint_id", c.ID),
		logger.String("category", string(c.Category)),
		logger.String("cluster_id", assignment.ClusterID),
		logger.String("channel", in.Channel),
		logger.Bool("degraded", cls.Degraded))

	return &Submission{Complaint: c, Assignment: assignment, Degraded: cls.Degraded}, nil
}

// Get returns a complaint without side effects.
func (s *Service) Get(ctx context.Context, id string) (*models.Complaint, error) {
	return s.store.GetComplaint(ctx, id)
}

// View returns a complaint for the actor. Citizens only see their own; a
// reviewer's first view of an unseen complaint marks it seen.
func (s *Service) View(ctx context.Context, actor auth.Actor, id string) (*models.Complaint, error) {
	c, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.HasReviewerAuthority() {
		if c.AuthorID != actor.ID {
			return nil, ErrForbidden
		}
		return c, nil
	}
	if _, err := s.viewer.MarkSeen(ctx, actor, c); err != nil {
		s.log.Warn("mark seen failed", logger.String("complaint_id", id), logger.Error(err))
	}
	return c, nil
}

// List returns complaints matching the filter. Citizens are restricted to
// their own.
func (s *Service) List(ctx context.Context, actor auth.Actor, f storage.ComplaintFilter) ([]models.Complaint, error) {
	if !actor.HasReviewerAuthority() {
		f.AuthorID = actor.ID
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	return s.store.ListComplaints(ctx, f)
}

// Verifications returns every anchoring attempt of a complaint.
func (s *Service) Verifications(ctx context.Context, actor auth.Actor, id string) ([]models.VerificationRecord, error) {
	c, err := s.store.GetComplaint(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.HasReviewerAuthority() && c.AuthorID != actor.ID {
		return nil, ErrForbidden
	}
	return s.store.ListVerificationRecords(ctx, id)
}
