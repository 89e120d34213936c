// Package clustering attaches new complaints to an existing cluster or starts
// a new one, based on the analysis scorer.
package clustering

import (
	"context"
	"errors"
	"fmt"

	"suarawarga/backend/internal/analysis"
	"suarawarga/backend/internal/config"
	"suarawarga/backend/internal/llm"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"
)

// Store is the persistence the engine needs.
type Store interface {
	CandidateWindow(ctx context.Context, q storage.WindowQuery) ([]models.Complaint, error)
	CreateClusterFor(ctx context.Context, cluster *models.Cluster, complaintID string) error
	JoinCluster(ctx context.Context, complaintID, clusterID string, category models.Category) error
}

// ClusterNamer is the naming collaborator.
type ClusterNamer interface {
	NameCluster(ctx context.Context, samples []llm.Sample) llm.ClusterName
}

// Assignment reports what happened to a complaint.
type Assignment struct {
	ClusterID string             `json:"cluster_id"`
	Created   bool               `json:"created"`
	Decision  analysis.Decision  `json:"decision"`
	Score     int                `json:"score"`
	Breakdown analysis.Breakdown `json:"breakdown"`
}

type Options struct {
	// StrictRegion restricts the candidate window to the complaint's region.
	StrictRegion bool
	WindowSize   int
}

type Engine struct {
	store   Store
	namer   ClusterNamer
	locker  storage.Locker
	opts    Options
	log     logger.Logger
	metrics *telemetry.Metrics
}

func NewEngine(store Store, namer ClusterNamer, locker storage.Locker, opts Options, log logger.Logger, m *telemetry.Metrics) *Engine {
	if opts.WindowSize <= 0 {
		opts.WindowSize = config.CandidateWindowSize
	}
	return &Engine{
		store:   store,
		namer:   namer,
		locker:  locker,
		opts:    opts,
		log:     log.With(logger.String("component", "clustering")),
		metrics: m,
	}
}

// Assign clusters a stored complaint. Scoring runs without any lock; only
// the create path takes the per category and region lease and re-scores
// under it, so two concurrent submissions do not both start a cluster.
// An error leaves the complaint unclustered and is meant for logging.
func (e *Engine) Assign(ctx context.Context, c *models.Complaint) (Assignment, error) {
	if c.ClusterID != nil {
		return Assignment{ClusterID: *c.ClusterID}, nil
	}
	subject := analysis.SubjectOf(c)

	result, err := e.score(ctx, subject)
	if err != nil {
		return Assignment{}, err
	}
	if !result.ShouldCreateNew {
		return e.join(ctx, c, result)
	}

	// named before the lease so a slow model call does not hold it
	name := e.namer.NameCluster(ctx, []llm.Sample{llm.SampleOf(c)})

	leaseCtx, cancel := context.WithTimeout(ctx, config.ClusterLeaseTTL)
	defer cancel()
	release, err := e.locker.Acquire(leaseCtx, storage.ClusterLeaseKey(string(c.Category), c.Region), config.ClusterLeaseTTL)
	if err != nil {
		e.log.Warn("cluster lease unavailable, creating without it",
			logger.String("complaint_id", c.ID), logger.Error(err))
	} else {
		defer release()
		// another submission may have created a matching cluster meanwhile
		result, err = e.score(ctx, subject)
		if err != nil {
			return Assignment{}, err
		}
		if !result.ShouldCreateNew {
			return e.join(ctx, c, result)
		}
	}
	return e.create(ctx, c, result, name)
}

func (e *Engine) score(ctx context.Context, subject analysis.Subject) (analysis.Result, error) {
	q := storage.WindowQuery{Category: subject.Category, ExcludeID: subject.ID, Limit: e.opts.WindowSize}
	if e.opts.StrictRegion {
		q.Region = subject.Region
	}
	window, err := e.store.CandidateWindow(ctx, q)
	if err != nil {
		return analysis.Result{}, fmt.Errorf("read candidate window: %w", err)
	}
	candidates := make([]analysis.Subject, len(window))
	for i := range window {
		candidates[i] = analysis.SubjectOf(&window[i])
	}
	return analysis.Score(subject, candidates), nil
}

func (e *Engine) join(ctx context.Context, c *models.Complaint, r analysis.Result) (Assignment, error) {
	clusterID := *r.BestCandidate.ClusterID
	err := e.store.JoinCluster(ctx, c.ID, clusterID, c.Category)
	if errors.Is(err, storage.ErrCategoryMismatch) {
		// the candidate points at a cluster of another category; never join it
		e.log.Error("candidate cluster category mismatch",
			logger.String("complaint_id", c.ID), logger.String("cluster_id", clusterID))
		name := e.namer.NameCluster(ctx, []llm.Sample{llm.SampleOf(c)})
		return e.create(ctx, c, analysis.Result{Decision: analysis.DecisionCreateNew, ShouldCreateNew: true}, name)
	}
	if err != nil {
		return Assignment{}, fmt.Errorf("join cluster %s: %w", clusterID, err)
	}

	c.ClusterID = &clusterID
	e.metrics.ClusterDecision(string(r.Decision))
	e.log.Info("complaint joined cluster",
		logger.String("complaint_id", c.ID),
		logger.String("cluster_id", clusterID),
		logger.Int("score", r.Score),
		logger.String("decision", string(r.Decision)))
	return Assignment{ClusterID: clusterID, Decision: r.Decision, Score: r.Score, Breakdown: r.Breakdown}, nil
}

func (e *Engine) create(ctx context.Context, c *models.Complaint, r analysis.Result, name llm.ClusterName) (Assignment, error) {
	keywords := name.Keywords
	if len(keywords) == 0 {
		keywords = c.Tags
	}
	cluster := &models.Cluster{
		Name:        name.Name,
		Description: name.Description,
		Category:    c.Category,
		Region:      c.Region,
		Keywords:    models.StringList(keywords),
	}
	if err := e.store.CreateClusterFor(ctx, cluster, c.ID); err != nil {
		return Assignment{}, fmt.Errorf("create cluster: %w", err)
	}

	c.ClusterID = &cluster.ID
	e.metrics.ClusterDecision(string(analysis.DecisionCreateNew))
	e.log.Info("cluster created",
		logger.String("complaint_id", c.ID),
		logger.String("cluster_id", cluster.ID),
		logger.String("name", cluster.Name),
		logger.Bool("synthetic_name", name.Degraded),
		logger.Int("best_score", r.Score))
	return Assignment{ClusterID: cluster.ID, Created: true, Decision: analysis.DecisionCreateNew, Score: r.Score, Breakdown: r.Breakdown}, nil
}
