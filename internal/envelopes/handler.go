package envelopes

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"esign-backend/internal/documents"
	"esign-backend/internal/shared/server/middleware"
	"esign-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches sender-facing envelope routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/envelopes", h.create)
	rg.GET("/envelopes", h.list)
	rg.GET("/envelopes/:envelopeId", h.get)
	rg.PATCH("/envelopes/:envelopeId", h.update)
	rg.DELETE("/envelopes/:envelopeId", h.remove)
	rg.POST("/envelopes/:envelopeId/send", h.send)
	rg.POST("/envelopes/:envelopeId/void", h.void)
	rg.GET("/envelopes/:envelopeId/progress", h.progress)

	rg.POST("/envelopes/:envelopeId/documents", h.attachDocument)
	rg.DELETE("/envelopes/:envelopeId/documents/:docId", h.detachDocument)

	rg.POST("/envelopes/:envelopeId/recipients", h.addRecipient)
	rg.DELETE("/envelopes/:envelopeId/recipients/:recipientId", h.removeRecipient)

	rg.POST("/envelopes/:envelopeId/fields", h.addField)
	rg.PATCH("/envelopes/:envelopeId/fields/:fieldId", h.updateField)
	rg.DELETE("/envelopes/:envelopeId/fields/:fieldId", h.removeField)
}

type createRequest struct {
	Title           string         `json:"title" binding:"required"`
	Subject         string         `json:"subject"`
	Message         string         `json:"message"`
	Priority        string         `json:"priority"`
	ReminderCadence string         `json:"reminderCadence"`
	Metadata        map[string]any `json:"metadata"`
	ExpiresAt       *time.Time     `json:"expiresAt"`
}

func (h *Handler) create(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "title is required", nil)
		return
	}

	env, err := h.Svc.Create(c.Request.Context(), userID, CreateInput{
		Title:           req.Title,
		Subject:         req.Subject,
		Message:         req.Message,
		Priority:        Priority(req.Priority),
		ReminderCadence: ReminderCadence(req.ReminderCadence),
		Metadata:        req.Metadata,
		ExpiresAt:       req.ExpiresAt,
	})
	if err != nil {
		writeError(c, err, "failed to create envelope")
		return
	}
	respond.JSON(c, http.StatusCreated, envelopeResponse(env))
}

func (h *Handler) list(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	filter := ListFilter{Status: Status(c.Query("status")), Limit: 20}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Offset = parsed
		}
	}

	envs, err := h.Svc.List(c.Request.Context(), userID, filter)
	if err != nil {
		writeError(c, err, "failed to list envelopes")
		return
	}
	resp := make([]gin.H, 0, len(envs))
	for _, env := range envs {
		resp = append(resp, envelopeResponse(env))
	}
	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) get(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	detail, err := h.Svc.Get(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeError(c, err, "failed to fetch envelope")
		return
	}
	respond.JSON(c, http.StatusOK, detailResponse(detail))
}

func (h *Handler) progress(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	detail, err := h.Svc.Get(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeError(c, err, "failed to fetch envelope")
		return
	}
	respond.JSON(c, http.StatusOK, gin.H{
		"envelopeId": detail.Envelope.ID,
		"status":     detail.Envelope.Status,
		"progress":   detail.Progress,
	})
}

type updateRequest struct {
	Title           *string        `json:"title"`
	Subject         *string        `json:"subject"`
	Message         *string        `json:"message"`
	Priority        *string        `json:"priority"`
	ReminderCadence *string        `json:"reminderCadence"`
	Metadata        map[string]any `json:"metadata"`
	ExpiresAt       *time.Time     `json:"expiresAt"`
	ClearExpiresAt  bool           `json:"clearExpiresAt"`
}

func (h *Handler) update(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req updateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	patch := EnvelopePatch{
		Title:          req.Title,
		Subject:        req.Subject,
		Message:        req.Message,
		Metadata:       req.Metadata,
		ExpiresAt:      req.ExpiresAt,
		ClearExpiresAt: req.ClearExpiresAt,
	}
	if req.Priority != nil {
		p := Priority(*req.Priority)
		patch.Priority = &p
	}
	if req.ReminderCadence != nil {
		r := ReminderCadence(*req.ReminderCadence)
		patch.ReminderCadence = &r
	}

	env, err := h.Svc.Update(c.Request.Context(), userID, c.Param("envelopeId"), patch)
	if err != nil {
		writeError(c, err, "failed to update envelope")
		return
	}
	respond.JSON(c, http.StatusOK, envelopeResponse(env))
}

func (h *Handler) remove(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	if err := h.Svc.Delete(c.Request.Context(), userID, c.Param("envelopeId")); err != nil {
		writeError(c, err, "failed to delete envelope")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) send(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	env, err := h.Svc.Send(c.Request.Context(), userID, c.Param("envelopeId"))
	if err != nil {
		writeError(c, err, "failed to send envelope")
		return
	}
	respond.JSON(c, http.StatusOK, envelopeResponse(env))
}

type voidRequest struct {
	Reason string `json:"reason" binding:"required"`
}

func (h *Handler) void(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req voidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "reason is required", nil)
		return
	}

	env, err := h.Svc.Void(c.Request.Context(), userID, c.Param("envelopeId"), req.Reason)
	if err != nil {
		writeError(c, err, "failed to void envelope")
		return
	}
	respond.JSON(c, http.StatusOK, envelopeResponse(env))
}

type attachDocumentRequest struct {
	DocumentID string `json:"documentId" binding:"required"`
	Position   int    `json:"position"`
}

func (h *Handler) attachDocument(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req attachDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "documentId is required", nil)
		return
	}

	err := h.Svc.AttachDocument(c.Request.Context(), userID, c.Param("envelopeId"), req.DocumentID, req.Position)
	if err != nil {
		writeError(c, err, "failed to attach document")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) detachDocument(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	err := h.Svc.DetachDocument(c.Request.Context(), userID, c.Param("envelopeId"), c.Param("docId"))
	if err != nil {
		writeError(c, err, "failed to detach document")
		return
	}
	c.Status(http.StatusNoContent)
}

type addRecipientRequest struct {
	Email           string         `json:"email" binding:"required"`
	Name            string         `json:"name"`
	Role            string         `json:"role"`
	RoutingOrder    int            `json:"routingOrder"`
	Permissions     map[string]any `json:"permissions"`
	AuthMethod      string         `json:"authMethod"`
	Message         string         `json:"message"`
	ReminderEnabled *bool          `json:"reminderEnabled"`
}

func (h *Handler) addRecipient(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req addRecipientRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "email is required", nil)
		return
	}
	if req.RoutingOrder == 0 {
		req.RoutingOrder = 1
	}
	reminders := true
	if req.ReminderEnabled != nil {
		reminders = *req.ReminderEnabled
	}

	rec, err := h.Svc.AddRecipient(c.Request.Context(), userID, c.Param("envelopeId"), RecipientInput{
		Email:           req.Email,
		Name:            req.Name,
		Role:            RecipientRole(req.Role),
		RoutingOrder:    req.RoutingOrder,
		Permissions:     req.Permissions,
		AuthMethod:      AuthMethod(req.AuthMethod),
		Message:         req.Message,
		ReminderEnabled: reminders,
	})
	if err != nil {
		writeError(c, err, "failed to add recipient")
		return
	}
	respond.JSON(c, http.StatusCreated, recipientResponse(rec))
}

func (h *Handler) removeRecipient(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	err := h.Svc.RemoveRecipient(c.Request.Context(), userID, c.Param("envelopeId"), c.Param("recipientId"))
	if err != nil {
		writeError(c, err, "failed to remove recipient")
		return
	}
	c.Status(http.StatusNoContent)
}

type addFieldRequest struct {
	DocumentID   string         `json:"documentId" binding:"required"`
	RecipientID  string         `json:"recipientId" binding:"required"`
	Type         string         `json:"type" binding:"required"`
	Page         int            `json:"page" binding:"required"`
	X            float64        `json:"x"`
	Y            float64        `json:"y"`
	Width        float64        `json:"width"`
	Height       float64        `json:"height"`
	Required     *bool          `json:"required"`
	DefaultValue string         `json:"defaultValue"`
	Validation   map[string]any `json:"validation"`
}

func (h *Handler) addField(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req addFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "documentId, recipientId, type, and page are required", nil)
		return
	}
	required := true
	if req.Required != nil {
		required = *req.Required
	}

	f, err := h.Svc.AddField(c.Request.Context(), userID, c.Param("envelopeId"), FieldInput{
		DocumentID:   req.DocumentID,
		RecipientID:  req.RecipientID,
		Type:         FieldType(req.Type),
		Page:         req.Page,
		X:            req.X,
		Y:            req.Y,
		Width:        req.Width,
		Height:       req.Height,
		Required:     required,
		DefaultValue: req.DefaultValue,
		Validation:   req.Validation,
	})
	if err != nil {
		writeError(c, err, "failed to add field")
		return
	}
	respond.JSON(c, http.StatusCreated, fieldResponse(f))
}

type updateFieldRequest struct {
	RecipientID  *string        `json:"recipientId"`
	Page         *int           `json:"page"`
	X            *float64       `json:"x"`
	Y            *float64       `json:"y"`
	Width        *float64       `json:"width"`
	Height       *float64       `json:"height"`
	Required     *bool          `json:"required"`
	DefaultValue *string        `json:"defaultValue"`
	Validation   map[string]any `json:"validation"`
}

func (h *Handler) updateField(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req updateFieldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	f, err := h.Svc.UpdateField(c.Request.Context(), userID, c.Param("envelopeId"), c.Param("fieldId"), FieldPatch{
		RecipientID:  req.RecipientID,
		Page:         req.Page,
		X:            req.X,
		Y:            req.Y,
		Width:        req.Width,
		Height:       req.Height,
		Required:     req.Required,
		DefaultValue: req.DefaultValue,
		Validation:   req.Validation,
	})
	if err != nil {
		writeError(c, err, "failed to update field")
		return
	}
	respond.JSON(c, http.StatusOK, fieldResponse(f))
}

func (h *Handler) removeField(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	err := h.Svc.RemoveField(c.Request.Context(), userID, c.Param("envelopeId"), c.Param("fieldId"))
	if err != nil {
		writeError(c, err, "failed to remove field")
		return
	}
	c.Status(http.StatusNoContent)
}

func writeError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, documents.ErrNotFound):
		respond.Error(c, http.StatusNotFound, "not_found", "envelope or resource not found", nil)
	case errors.Is(err, ErrForbidden):
		respond.Error(c, http.StatusForbidden, "forbidden", "envelope does not belong to caller", nil)
	case errors.Is(err, ErrInvalidInput):
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid input", nil)
	case errors.Is(err, ErrInvalidState):
		respond.Error(c, http.StatusConflict, "invalid_state", "operation not allowed in current envelope state", nil)
	case errors.Is(err, ErrDuplicate):
		respond.Error(c, http.StatusConflict, "store_conflict", "recipient email already present on envelope", nil)
	case errors.Is(err, ErrLimitExceeded):
		respond.Error(c, http.StatusUnprocessableEntity, "limit_exceeded", "envelope limit exceeded", nil)
	case errors.Is(err, documents.ErrAttached):
		respond.Error(c, http.StatusConflict, "store_conflict", "document is already attached to an envelope", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, "internal_error", fallback, nil)
	}
}
