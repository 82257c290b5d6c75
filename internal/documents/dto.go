package documents

import "github.com/gin-gonic/gin"

func toResponse(doc Document) gin.H {
	resp := gin.H{
		"documentId": doc.ID,
		"fileName":   doc.OriginalFilename,
		"mimeType":   doc.MimeType,
		"sizeBytes":  doc.SizeBytes,
		"pageCount":  doc.PageCount,
		"uploadedAt": doc.CreatedAt,
	}
	if doc.EnvelopeID != "" {
		resp["envelopeId"] = doc.EnvelopeID
		resp["position"] = doc.Position
	}
	return resp
}
