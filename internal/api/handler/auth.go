package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GetAnonID issues a citizen token for a fresh anonymous id.
func (h *Handler) GetAnonID(c *gin.Context) {
	a, token, err := h.Tokens.IssueAnonymous()
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "anon_id": a.ID})
}
