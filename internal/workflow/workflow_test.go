package workflow_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/workflow"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var (
	reviewer = auth.Actor{ID: "officer-1", Role: models.RoleReviewer}
	citizen  = auth.Actor{ID: "citizen-1", Role: models.RoleCitizen}
)

func newStore(t *testing.T) *storage.Service {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	s := storage.NewStorageService(db, nil, logger.NewNop())
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, e notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

func newComplaint(t *testing.T, s *storage.Service, region string, createdAt time.Time) *models.Complaint {
	t.Helper()
	c := &models.Complaint{
		AuthorID:  "author",
		Title:     "Jalan berlubang",
		RawText:   "Jalan berlubang di depan sekolah",
		Category:  models.CategoryInfrastructure,
		Urgency:   models.UrgencyHigh,
		Sentiment: models.SentimentNegative,
		Region:    region,
		CreatedAt: createdAt,
	}
	require.NoError(t, s.CreateComplaint(context.Background(), c))
	return c
}

func TestTransition_AppendsOneHistoryEntry(t *testing.T) {
	s := newStore(t)
	events := &recorder{}
	svc := workflow.NewService(s, nil, events, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Jakarta", time.Now())

	updated, err := svc.Transition(ctx, reviewer, c.ID, models.StatusQueuedForDiscussion, "to agenda")
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueuedForDiscussion, updated.Status)
	assert.Equal(t, reviewer.ID, updated.StatusUpdatedBy)

	history, err := svc.History(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	last := history[1]
	require.NotNil(t, last.OldStatus)
	assert.Equal(t, models.StatusUnseen, *last.OldStatus)
	assert.Equal(t, models.StatusQueuedForDiscussion, last.NewStatus)
	assert.Equal(t, reviewer.ID, last.ActorID)
	assert.Equal(t, "to agenda", last.Note)

	stored, err := s.GetComplaint(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusQueuedForDiscussion, stored.Status)

	got := events.all()
	require.Len(t, got, 1)
	assert.Equal(t, notify.EventStatusChanged, got[0].Type)
	assert.Equal(t, "unseen", got[0].OldStatus)
	assert.Equal(t, "queued_for_discussion", got[0].NewStatus)
}

func TestTransition_Rejections(t *testing.T) {
	s := newStore(t)
	svc := workflow.NewService(s, nil, nil, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Jakarta", time.Now())

	cases := []struct {
		name   string
		actor  auth.Actor
		target models.WorkflowStatus
		want   error
	}{
		{"unauthorized", citizen, models.StatusSeen, workflow.ErrUnauthorized},
		{"anonymous", auth.Actor{}, models.StatusCompleted, workflow.ErrUnauthorized},
		{"unknown status", reviewer, "archived", workflow.ErrInvalidStatus},
		{"empty status", reviewer, "", workflow.ErrInvalidStatus},
		{"back to initial", reviewer, models.StatusUnseen, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Transition(ctx, tc.actor, c.ID, tc.target, "")
			if tc.want == nil {
				// unseen is the current status, so this is a no-op
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.want)
			}

			stored, err := s.GetComplaint(ctx, c.ID)
			require.NoError(t, err)
			assert.Equal(t, models.StatusUnseen, stored.Status)
			history, err := s.ListHistory(ctx, c.ID)
			require.NoError(t, err)
			assert.Len(t, history, 1)
		})
	}

	_, err := svc.Transition(ctx, reviewer, "missing", models.StatusSeen, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTransition_PermissiveAllowsAnyNonInitialTarget(t *testing.T) {
	s := newStore(t)
	svc := workflow.NewService(s, workflow.Permissive(), nil, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Bandung", time.Now())

	for _, target := range []models.WorkflowStatus{models.StatusCompleted, models.StatusSeen, models.StatusActioned} {
		_, err := svc.Transition(ctx, reviewer, c.ID, target, "")
		require.NoError(t, err)
	}

	_, err := svc.Transition(ctx, reviewer, c.ID, models.StatusUnseen, "")
	assert.ErrorIs(t, err, workflow.ErrTransitionNotAllowed)

	history, err := s.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, models.StatusCompleted, *history[2].OldStatus)
	assert.Equal(t, models.StatusSeen, history[2].NewStatus)
}

func TestTransition_SameStatusIsNoop(t *testing.T) {
	s := newStore(t)
	svc := workflow.NewService(s, nil, nil, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Bandung", time.Now())

	_, err := svc.Transition(ctx, reviewer, c.ID, models.StatusSeen, "")
	require.NoError(t, err)
	_, err = svc.Transition(ctx, reviewer, c.ID, models.StatusSeen, "again")
	require.NoError(t, err)

	history, err := s.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestTransition_LinearTable(t *testing.T) {
	s := newStore(t)
	svc := workflow.NewService(s, workflow.Linear(), nil, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Bandung", time.Now())

	_, err := svc.Transition(ctx, reviewer, c.ID, models.StatusCompleted, "")
	assert.ErrorIs(t, err, workflow.ErrTransitionNotAllowed)

	_, err = svc.Transition(ctx, reviewer, c.ID, models.StatusSeen, "")
	assert.NoError(t, err)
}

func TestTables(t *testing.T) {
	p := workflow.Permissive()
	for _, from := range models.WorkflowStatuses {
		assert.False(t, p.Allows(from, models.StatusUnseen))
		for _, to := range models.WorkflowStatuses[1:] {
			if to != from {
				assert.True(t, p.Allows(from, to), "%s -> %s", from, to)
			}
		}
	}

	l := workflow.Linear()
	assert.True(t, l.Allows(models.StatusUnseen, models.StatusSeen))
	assert.True(t, l.Allows(models.StatusActioned, models.StatusCompleted))
	assert.False(t, l.Allows(models.StatusSeen, models.StatusActioned))
	assert.False(t, l.Allows(models.StatusCompleted, models.StatusSeen))

	assert.False(t, p.Reachable(models.StatusUnseen))
	assert.True(t, p.Reachable(models.StatusCompleted))
	assert.False(t, l.Reachable(models.StatusUnseen))
	assert.True(t, l.Reachable(models.StatusSeen))
}

func TestMarkSeen(t *testing.T) {
	s := newStore(t)
	events := &recorder{}
	svc := workflow.NewService(s, nil, events, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Surabaya", time.Now())

	_, err := svc.MarkSeen(ctx, citizen, c)
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)

	changed, err := svc.MarkSeen(ctx, reviewer, c)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.StatusSeen, c.Status)

	changed, err = svc.MarkSeen(ctx, reviewer, c)
	require.NoError(t, err)
	assert.False(t, changed)

	history, err := s.ListHistory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, config.SystemActorID, history[1].ActorID)
	assert.Equal(t, config.AutoSeenNote, history[1].Note)
	assert.Len(t, events.all(), 1)
}

func TestMarkSeen_LostRaceIsNotAnError(t *testing.T) {
	s := newStore(t)
	svc := workflow.NewService(s, nil, nil, logger.NewNop(), nil)
	ctx := context.Background()
	c := newComplaint(t, s, "Surabaya", time.Now())
	stale := *c

	_, err := svc.Transition(ctx, reviewer, c.ID, models.StatusDeliberated, "")
	require.NoError(t, err)

	changed, err := svc.MarkSeen(ctx, reviewer, &stale)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := s.GetComplaint(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDeliberated, stored.Status)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetComplaint(ctx context.Context, id string) (*models.Complaint, error) {
	args := m.Called(ctx, id)
	c, _ := args.Get(0).(*models.Complaint)
	return c, args.Error(1)
}

func (m *MockStore) ApplyTransition(ctx context.Context, change storage.StatusChange) error {
	return m.Called(ctx, change).Error(0)
}

func (m *MockStore) ApplyTransitions(ctx context.Context, changes []storage.StatusChange) (int, error) {
	args := m.Called(ctx, changes)
	return args.Int(0), args.Error(1)
}

func (m *MockStore) ListHistory(ctx context.Context, id string) ([]models.StatusHistoryEntry, error) {
	args := m.Called(ctx, id)
	h, _ := args.Get(0).([]models.StatusHistoryEntry)
	return h, args.Error(1)
}

func (m *MockStore) GetReport(ctx context.Context, id string) (*models.Report, error) {
	args := m.Called(ctx, id)
	r, _ := args.Get(0).(*models.Report)
	return r, args.Error(1)
}

func (m *MockStore) ReportComplaints(ctx context.Context, r *models.Report) ([]models.Complaint, error) {
	args := m.Called(ctx, r)
	cs, _ := args.Get(0).([]models.Complaint)
	return cs, args.Error(1)
}

func TestTransition_ConcurrentUpdate(t *testing.T) {
	store := new(MockStore)
	events := &recorder{}
	svc := workflow.NewService(store, nil, events, logger.NewNop(), nil)
	ctx := context.Background()

	store.On("GetComplaint", ctx, "c1").Return(&models.Complaint{ID: "c1", Status: models.StatusSeen}, nil)
	store.On("ApplyTransition", ctx, mock.MatchedBy(func(ch storage.StatusChange) bool {
		return ch.From == models.StatusSeen && ch.To == models.StatusActioned && ch.ActorID == reviewer.ID
	})).Return(fmt.Errorf("wrapped: %w", storage.ErrConflict))

	_, err := svc.Transition(ctx, reviewer, "c1", models.StatusActioned, "")
	assert.ErrorIs(t, err, workflow.ErrConcurrentUpdate)
	assert.Empty(t, events.all())
	store.AssertExpectations(t)
}

func TestReportTransitions(t *testing.T) {
	s := newStore(t)
	events := &recorder{}
	svc := workflow.NewService(s, nil, events, logger.NewNop(), nil)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	a := newComplaint(t, s, "Medan", base)
	b := newComplaint(t, s, "Medan", base.Add(time.Minute))
	c := newComplaint(t, s, "Medan", base.Add(2*time.Minute))
	other := newComplaint(t, s, "Padang", base)

	report := &models.Report{
		Category:    models.CategoryInfrastructure,
		Region:      "Medan",
		CutoffAt:    base.Add(90 * time.Second),
		GeneratedBy: reviewer.ID,
	}
	require.NoError(t, s.CreateReport(ctx, report))

	_, err := svc.Transition(ctx, reviewer, b.ID, models.StatusActioned, "")
	require.NoError(t, err)

	_, err = svc.MarkReportSeen(ctx, citizen, report.ID)
	assert.ErrorIs(t, err, workflow.ErrUnauthorized)

	n, err := svc.MarkReportSeen(ctx, reviewer, report.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the unseen complaint before the cutoff")

	n, err = svc.ApplyToReport(ctx, reviewer, report.ID, models.StatusDeliberated, "discussed at the hearing")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = svc.ApplyToReport(ctx, reviewer, report.ID, "nope", "")
	assert.ErrorIs(t, err, workflow.ErrInvalidStatus)

	_, err = svc.Transition(ctx, reviewer, a.ID, models.StatusUnseen, "")
	assert.ErrorIs(t, err, workflow.ErrTransitionNotAllowed)
	n, err = svc.ApplyToReport(ctx, reviewer, report.ID, models.StatusUnseen, "")
	assert.ErrorIs(t, err, workflow.ErrTransitionNotAllowed, "bulk and single transitions reject alike")
	assert.Zero(t, n)

	for id, want := range map[string]int{a.ID: 3, b.ID: 3, c.ID: 1, other.ID: 1} {
		history, err := s.ListHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, want, id)
	}

	stored, err := s.GetComplaint(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusUnseen, stored.Status)

	last := events.all()[len(events.all())-1]
	assert.Equal(t, report.ID, last.ReportID)
	assert.Equal(t, 2, last.Count)
}
