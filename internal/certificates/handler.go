package certificates

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/server/middleware"
	"esign-backend/internal/shared/server/respond"
	"esign-backend/internal/shared/telemetry"
)

// Handler serves the certificate of completion to envelope senders.
type Handler struct {
	Svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/envelopes/:envelopeId/certificate", h.get)
	rg.GET("/envelopes/:envelopeId/certificate/pdf", h.pdf)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	cert, err := h.Svc.Get(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeCertError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"certificateId": cert.ID,
		"envelopeId":    cert.EnvelopeID,
		"data":          cert.Data,
		"createdAt":     cert.CreatedAt,
	})
}

func (h *Handler) pdf(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	rc, cert, err := h.Svc.OpenPDF(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeCertError(c, err)
		return
	}
	defer rc.Close()

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="certificate-`+cert.EnvelopeID+`.pdf"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, rc); err != nil {
		telemetry.Error("certificate pdf stream failed", map[string]any{
			"envelope_id": cert.EnvelopeID,
			"error":       err.Error(),
		})
	}
}

func writeCertError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, envelopes.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "envelope not found", nil)
	case errors.Is(err, ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "certificate not generated yet", nil)
	case errors.Is(err, envelopes.ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "envelope does not belong to caller", nil)
	case errors.Is(err, ErrNotCompleted):
		respond.Error(c, http.StatusConflict, "invalid_state", "envelope is not completed", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "operation cannot be completed", nil)
	}
}
