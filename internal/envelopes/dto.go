package envelopes

import (
	"github.com/gin-gonic/gin"

	"esign-backend/internal/documents"
)

func envelopeResponse(env Envelope) gin.H {
	resp := gin.H{
		"envelopeId":      env.ID,
		"title":           env.Title,
		"subject":         env.Subject,
		"message":         env.Message,
		"priority":        env.Priority,
		"status":          env.Status,
		"reminderCadence": env.ReminderCadence,
		"metadata":        env.Metadata,
		"createdAt":       env.CreatedAt,
		"updatedAt":       env.UpdatedAt,
	}
	if env.VoidReason != "" {
		resp["voidReason"] = env.VoidReason
	}
	if env.ExpiresAt != nil {
		resp["expiresAt"] = env.ExpiresAt
	}
	if env.SentAt != nil {
		resp["sentAt"] = env.SentAt
	}
	if env.CompletedAt != nil {
		resp["completedAt"] = env.CompletedAt
	}
	return resp
}

// recipientResponse never exposes the access token.
func recipientResponse(rec Recipient) gin.H {
	resp := gin.H{
		"recipientId":     rec.ID,
		"email":           rec.Email,
		"name":            rec.Name,
		"role":            rec.Role,
		"routingOrder":    rec.RoutingOrder,
		"authMethod":      rec.AuthMethod,
		"status":          rec.Status,
		"reminderEnabled": rec.ReminderEnabled,
	}
	if rec.Message != "" {
		resp["message"] = rec.Message
	}
	if rec.ViewedAt != nil {
		resp["viewedAt"] = rec.ViewedAt
	}
	if rec.SignedAt != nil {
		resp["signedAt"] = rec.SignedAt
	}
	if rec.DeclinedAt != nil {
		resp["declinedAt"] = rec.DeclinedAt
		resp["declineReason"] = rec.DeclineReason
	}
	return resp
}

func fieldResponse(f Field) gin.H {
	resp := gin.H{
		"fieldId":     f.ID,
		"documentId":  f.DocumentID,
		"recipientId": f.RecipientID,
		"type":        f.Type,
		"page":        f.Page,
		"x":           f.X,
		"y":           f.Y,
		"width":       f.Width,
		"height":      f.Height,
		"required":    f.Required,
	}
	if f.Value != "" {
		resp["value"] = f.Value
	}
	if f.DefaultValue != "" {
		resp["defaultValue"] = f.DefaultValue
	}
	if f.SignedAt != nil {
		resp["signedAt"] = f.SignedAt
	}
	return resp
}

func detailResponse(d Detail) gin.H {
	docs := make([]gin.H, 0, len(d.Documents))
	for _, doc := range d.Documents {
		docs = append(docs, documentSummary(doc))
	}
	recs := make([]gin.H, 0, len(d.Recipients))
	for _, rec := range d.Recipients {
		recs = append(recs, recipientResponse(rec))
	}
	fields := make([]gin.H, 0, len(d.Fields))
	for _, f := range d.Fields {
		fields = append(fields, fieldResponse(f))
	}
	resp := envelopeResponse(d.Envelope)
	resp["documents"] = docs
	resp["recipients"] = recs
	resp["fields"] = fields
	resp["progress"] = d.Progress
	return resp
}

func documentSummary(doc documents.Document) gin.H {
	return gin.H{
		"documentId": doc.ID,
		"fileName":   doc.OriginalFilename,
		"position":   doc.Position,
		"pageCount":  doc.PageCount,
		"sizeBytes":  doc.SizeBytes,
	}
}
