package handler

import (
	"net/http"

	"suarawarga/backend/internal/complaint"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/storage"

	"github.com/gin-gonic/gin"
)

func (h *Handler) SubmitComplaint(c *gin.Context) {
	var in complaint.SubmitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	in.AuthorID = actor(c).ID
	in.Channel = "api"

	sub, err := h.Complaints.Submit(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// GetComplaint returns one complaint. A reviewer's first read marks it seen.
func (h *Handler) GetComplaint(c *gin.Context) {
	cpl, err := h.Complaints.View(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cpl)
}

type listQuery struct {
	Category           string `form:"category"`
	Region             string `form:"region"`
	Status             string `form:"status"`
	ClusterID          string `form:"cluster_id"`
	VerificationStatus string `form:"verification_status"`
	Limit              int    `form:"limit"`
	Offset             int    `form:"offset"`
}

func (h *Handler) ListComplaints(c *gin.Context) {
	var q listQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := h.Complaints.List(c.Request.Context(), actor(c), storage.ComplaintFilter{
		Category:           models.Category(q.Category),
		Region:             q.Region,
		Status:             models.WorkflowStatus(q.Status),
		ClusterID:          q.ClusterID,
		VerificationStatus: models.VerificationStatus(q.VerificationStatus),
		Limit:              q.Limit,
		Offset:             q.Offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"complaints": out})
}

type statusRequest struct {
	Status string `json:"status" binding:"required"`
	Note   string `json:"note"`
}

func (h *Handler) UpdateStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cpl, err := h.Workflow.Transition(c.Request.Context(), actor(c), c.Param("id"), models.WorkflowStatus(req.Status), req.Note)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cpl)
}

func (h *Handler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if err := h.readable(c, id); err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.Workflow.History(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": entries})
}

func (h *Handler) ListClusters(c *gin.Context) {
	var q struct {
		Category string `form:"category"`
		Region   string `form:"region"`
		Limit    int    `form:"limit"`
	}
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Limit <= 0 || q.Limit > 200 {
		q.Limit = 50
	}
	out, err := h.Store.ListClusters(c.Request.Context(), storage.ClusterFilter{
		Category: models.Category(q.Category),
		Region:   q.Region,
		Limit:    q.Limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"clusters": out})
}

// readable checks that the complaint exists and the actor may read it,
// without the reviewer side effect of View.
func (h *Handler) readable(c *gin.Context, id string) error {
	a := actor(c)
	if a.HasReviewerAuthority() {
		_, err := h.Complaints.Get(c.Request.Context(), id)
		return err
	}
	_, err := h.Complaints.View(c.Request.Context(), a, id)
	return err
}
