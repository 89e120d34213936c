package handler

import (
	"net/http"

	"suarawarga/backend/internal/models"

	"github.com/gin-gonic/gin"
)

type reportRequest struct {
	Category string `json:"category" binding:"required"`
	Region   string `json:"region" binding:"required"`
}

func (h *Handler) GenerateReport(c *gin.Context) {
	var req reportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.Reports.Generate(c.Request.Context(), actor(c), models.Category(req.Category), req.Region)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *Handler) GetReport(c *gin.Context) {
	ctx := c.Request.Context()
	r, err := h.Reports.Get(ctx, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	complaints, err := h.Reports.Complaints(ctx, r.ID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": r, "complaints": complaints})
}

// UpdateReportStatus moves every complaint of the report. "seen" only
// touches complaints that are still unseen.
func (h *Handler) UpdateReportStatus(c *gin.Context) {
	var req statusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var (
		n   int
		err error
	)
	target := models.WorkflowStatus(req.Status)
	if target == models.StatusSeen {
		n, err = h.Workflow.MarkReportSeen(c.Request.Context(), actor(c), c.Param("id"))
	} else {
		n, err = h.Workflow.ApplyToReport(c.Request.Context(), actor(c), c.Param("id"), target, req.Note)
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": n})
}
