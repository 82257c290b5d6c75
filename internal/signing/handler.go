package signing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"esign-backend/internal/envelopes"
	"esign-backend/internal/shared/server/middleware"
	"esign-backend/internal/shared/server/respond"
)

// Handler wires the recipient-facing signing routes and the sender-facing
// audit and integrity routes.
type Handler struct {
	Ctrl *Controller
}

func NewHandler(ctrl *Controller) *Handler {
	return &Handler{Ctrl: ctrl}
}

// RegisterPublicRoutes attaches the token-authenticated signing routes.
func (h *Handler) RegisterPublicRoutes(rg *gin.RouterGroup) {
	rg.POST("/sign/:envelopeId/view", h.view)
	rg.POST("/sign/:envelopeId", h.sign)
	rg.POST("/sign/:envelopeId/decline", h.decline)
}

// RegisterSenderRoutes attaches the audit and integrity routes.
func (h *Handler) RegisterSenderRoutes(rg *gin.RouterGroup) {
	rg.GET("/envelopes/:envelopeId/audit", h.auditTrail)
	rg.GET("/envelopes/:envelopeId/audit/verify", h.verifyChain)
	rg.GET("/envelopes/:envelopeId/integrity", h.integrity)
}

type tokenRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
}

func (h *Handler) view(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "accessToken is required", nil)
		return
	}

	session, err := h.Ctrl.Resolve(c.Request.Context(), c.Param("envelopeId"), req.AccessToken, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		writeSignError(c, err)
		return
	}

	fields := make([]gin.H, 0, len(session.Fields))
	for _, f := range session.Fields {
		fields = append(fields, gin.H{
			"fieldId":    f.ID,
			"documentId": f.DocumentID,
			"type":       f.Type,
			"page":       f.Page,
			"x":          f.X,
			"y":          f.Y,
			"width":      f.Width,
			"height":     f.Height,
			"required":   f.Required,
			"value":      f.Value,
		})
	}
	docs := make([]gin.H, 0, len(session.Documents))
	for _, d := range session.Documents {
		docs = append(docs, gin.H{
			"documentId": d.ID,
			"fileName":   d.OriginalFilename,
			"pageCount":  d.PageCount,
			"position":   d.Position,
		})
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"envelope": gin.H{
			"envelopeId": session.Envelope.ID,
			"title":      session.Envelope.Title,
			"message":    session.Envelope.Message,
			"status":     session.Envelope.Status,
		},
		"recipient": gin.H{
			"recipientId": session.Recipient.ID,
			"email":       session.Recipient.Email,
			"name":        session.Recipient.Name,
			"role":        session.Recipient.Role,
			"status":      session.Recipient.Status,
		},
		"documents": docs,
		"fields":    fields,
		"yourTurn":  session.YourTurn,
	})
}

type signRequest struct {
	AccessToken string            `json:"accessToken" binding:"required"`
	FieldValues map[string]string `json:"fieldValues"`
}

func (h *Handler) sign(c *gin.Context) {
	var req signRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "accessToken is required", nil)
		return
	}

	outcome, err := h.Ctrl.Sign(c.Request.Context(), SignInput{
		EnvelopeID:  c.Param("envelopeId"),
		AccessToken: req.AccessToken,
		FieldValues: req.FieldValues,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
	})
	if err != nil {
		writeSignError(c, err)
		return
	}

	hashes := make([]gin.H, 0, len(outcome.DocHashes))
	for _, hsh := range outcome.DocHashes {
		hashes = append(hashes, gin.H{"documentId": hsh.DocID, "sha256": hsh.SHA256})
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"ok":         true,
		"evidenceId": outcome.EvidenceID,
		"docHashes":  hashes,
		"completed":  outcome.Completed,
		"replayed":   outcome.Replayed,
	})
}

type declineRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
	Reason      string `json:"reason"`
}

func (h *Handler) decline(c *gin.Context) {
	var req declineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "accessToken is required", nil)
		return
	}

	err := h.Ctrl.Decline(c.Request.Context(), c.Param("envelopeId"), req.AccessToken, req.Reason, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		writeSignError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{"ok": true})
}

func (h *Handler) auditTrail(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	events, err := h.Ctrl.AuditTrail(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeSenderError(c, err)
		return
	}
	resp := make([]gin.H, 0, len(events))
	for _, ev := range events {
		resp = append(resp, gin.H{
			"eventId":       ev.ID,
			"type":          ev.Type,
			"actorType":     ev.ActorType,
			"actorId":       ev.ActorID,
			"metadata":      ev.Metadata,
			"ipAddress":     ev.IPAddress,
			"userAgent":     ev.UserAgent,
			"prevEventHash": ev.PrevEventHash,
			"eventHash":     ev.EventHash,
			"createdAt":     ev.CreatedAt,
		})
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) verifyChain(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	res, err := h.Ctrl.VerifyChain(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeSenderError(c, err)
		return
	}
	resp := gin.H{"ok": res.OK}
	if !res.OK {
		resp["breakAt"] = res.BreakAt
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) integrity(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	report, err := h.Ctrl.CheckIntegrity(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeSenderError(c, err)
		return
	}
	respond.JSON(c, http.StatusOK, report)
}

// writeSignError keeps token failures indistinguishable from missing
// envelopes for recipients.
func writeSignError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, envelopes.ErrNotFound):
		respond.Error(c, http.StatusUnauthorized, "invalid_token", "access link expired or invalid", nil)
	case errors.Is(err, envelopes.ErrOutOfTurn):
		respond.Error(c, http.StatusConflict, "out_of_turn", "this envelope is waiting for a prior signer", nil)
	case errors.Is(err, envelopes.ErrInvalidState):
		respond.Error(c, http.StatusConflict, "invalid_state", "envelope is not open for signing", nil)
	case errors.Is(err, envelopes.ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid field values", nil)
	case errors.Is(err, ErrProviderReject):
		respond.Error(c, http.StatusUnprocessableEntity, "provider_reject", "signing provider rejected the payload", nil)
	case errors.Is(err, ErrProviderTimeout):
		respond.Error(c, http.StatusServiceUnavailable, "provider_timeout", "signing provider timed out", nil)
	case errors.Is(err, ErrProviderUnavailable):
		respond.Error(c, http.StatusServiceUnavailable, "provider_unavailable", "signing provider unavailable", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "operation cannot be completed", nil)
	}
}

func writeSenderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, envelopes.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "envelope not found", nil)
	case errors.Is(err, envelopes.ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "envelope does not belong to caller", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", "operation cannot be completed", nil)
	}
}
