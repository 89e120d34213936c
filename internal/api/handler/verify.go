package handler

import (
	"net/http"

	"suarawarga/backend/internal/ledger"
	"suarawarga/backend/internal/logger"
	"suarawarga/backend/internal/models"
	"suarawarga/backend/internal/verification"

	"github.com/gin-gonic/gin"
)

type verificationView struct {
	ComplaintID        string                      `json:"complaint_id"`
	VerificationStatus models.VerificationStatus   `json:"verification_status"`
	Fingerprint        *string                     `json:"fingerprint,omitempty"`
	LedgerRef          *string                     `json:"ledger_ref,omitempty"`
	Attempts           int                         `json:"attempts"`
	Records            []models.VerificationRecord `json:"records"`
}

// GetVerification lists every anchoring attempt of a complaint.
func (h *Handler) GetVerification(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	records, err := h.Complaints.Verifications(ctx, actor(c), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	cpl, err := h.Complaints.Get(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, verificationView{
		ComplaintID:        cpl.ID,
		VerificationStatus: cpl.VerificationStatus,
		Fingerprint:        cpl.Fingerprint,
		LedgerRef:          cpl.LedgerRef,
		Attempts:           cpl.VerificationAttempts,
		Records:            records,
	})
}

// AnchorComplaint starts a manual anchoring attempt in the background.
func (h *Handler) AnchorComplaint(c *gin.Context) {
	if h.Anchorer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "ledger disabled"})
		return
	}
	cpl, err := h.Complaints.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if cpl.HasConfirmedFingerprint() {
		h.fail(c, verification.ErrAlreadyConfirmed)
		return
	}
	h.Anchorer.AnchorAsync(cpl.ID)
	c.JSON(http.StatusAccepted, gin.H{"complaint_id": cpl.ID, "status": "submitted"})
}

type proofView struct {
	Ref                   string              `json:"ref"`
	ComplaintID           string              `json:"complaint_id"`
	RecordStatus          models.RecordStatus `json:"record_status"`
	Fingerprint           string              `json:"fingerprint"`
	RecomputedFingerprint string              `json:"recomputed_fingerprint"`
	// Intact is false when the stored complaint no longer hashes to the
	// anchored fingerprint.
	Intact      bool          `json:"intact"`
	Ledger      *ledger.Proof `json:"ledger,omitempty"`
	LedgerError string        `json:"ledger_error,omitempty"`
}

// VerifyRef is the public proof check for a ledger reference.
func (h *Handler) VerifyRef(c *gin.Context) {
	ctx := c.Request.Context()
	ref := c.Param("ref")
	rec, err := h.Store.FindVerificationByRef(ctx, ref)
	if err != nil {
		h.fail(c, err)
		return
	}
	cpl, err := h.Complaints.Get(ctx, rec.ComplaintID)
	if err != nil {
		h.fail(c, err)
		return
	}

	recomputed := verification.Fingerprint(verification.TupleOf(cpl))
	view := proofView{
		Ref:                   ref,
		ComplaintID:           cpl.ID,
		RecordStatus:          rec.Status,
		Fingerprint:           rec.Fingerprint,
		RecomputedFingerprint: recomputed,
		Intact:                recomputed == rec.Fingerprint,
	}
	if h.Anchorer != nil {
		proof, err := h.Anchorer.Lookup(ctx, ref)
		if err != nil {
			h.log.Warn("ledger lookup failed", logger.String("ref", ref), logger.Error(err))
			view.LedgerError = err.Error()
		} else {
			view.Ledger = &proof
		}
	}
	c.JSON(http.StatusOK, view)
}
