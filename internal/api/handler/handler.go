// Package handler exposes the complaint services over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"net/http"

	"suarawarga/backend/internal/auth"
	"suarawarga/backend/internal/complaint"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/notify"
	"suarawarga/backend/internal/report"
	"suarawarga/backend/internal/storage"
	"suarawarga/backend/internal/telemetry"
	"suarawarga/backend/internal/verification"
	"suarawarga/backend/internal/workflow"

	"github.com/gin-gonic/gin"
)

// ReadStore serves the read-only lookups that need no service logic.
type ReadStore interface {
	ListClusters(ctx context.Context, f storage.ClusterFilter) ([]models.Cluster, error)
	FindVerificationByRef(ctx context.Context, ref string) (*models.VerificationRecord, error)
}

// Deps are the collaborators of Handler. Anchorer and Hub may be nil when
// the ledger or the live feed is disabled.
type Deps struct {
	Tokens     *auth.Tokens
	Complaints *complaint.Service
	Workflow   *workflow.Service
	Reports    *report.Service
	Anchorer   *verification.Anchorer
	Store      ReadStore
	Hub        *notify.Hub
	Metrics    *telemetry.Metrics
	// Health reports whether the backing stores answer.
	Health func(ctx context.Context) error
	Log    logger.Logger
}

type Handler struct {
	Deps
	log logger.Logger
}

func NewHandler(d Deps) *Handler {
	return &Handler{Deps: d, log: d.Log.With(logger.String("component", "http"))}
}

// Register mounts every route on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.GetHealth)
	r.GET("/metrics", gin.WrapH(h.Metrics.Handler()))
	r.GET("/anonid", h.GetAnonID)
	r.GET("/verify/:ref", h.VerifyRef)
	r.GET("/clusters", h.ListClusters)

	authed := r.Group("/", h.Tokens.Authenticate())
	authed.POST("/complaints", h.SubmitComplaint)
	authed.GET("/complaints/:id", h.GetComplaint)
	authed.GET("/complaints/:id/history", h.GetHistory)
	authed.GET("/complaints/:id/verification", h.GetVerification)

	reviewer := authed.Group("/", auth.RequireReviewer())
	reviewer.GET("/complaints", h.ListComplaints)
	reviewer.PATCH("/complaints/:id/status", h.UpdateStatus)
	reviewer.POST("/complaints/:id/anchor", h.AnchorComplaint)
	reviewer.POST("/reports", h.GenerateReport)
	reviewer.GET("/reports/:id", h.GetReport)
	reviewer.POST("/reports/:id/status", h.UpdateReportStatus)
	reviewer.GET("/ws", h.ServeWebSocket)
}

// NewRouter builds the gin engine with recovery and request logging.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), h.requestLog())
	h.Register(r)
	return r
}

func (h *Handler) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		h.log.Debug("request",
			logger.String("method", c.Request.Method),
			logger.String("path", c.FullPath()),
			logger.Int("status", c.Writer.Status()))
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// actor is only called behind Authenticate.
func actor(c *gin.Context) auth.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}

// fail writes err with the status its kind maps to.
func (h *Handler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrUnauthorized), errors.Is(err, complaint.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalidStatus),
		errors.Is(err, workflow.ErrTransitionNotAllowed),
		errors.Is(err, complaint.ErrInvalidInput),
		errors.Is(err, report.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrConcurrentUpdate),
		errors.Is(err, verification.ErrAlreadyConfirmed),
		errors.Is(err, verification.ErrSubmissionInFlight):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", logger.String("path", c.FullPath()), logger.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
