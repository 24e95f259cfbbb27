package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"procurehub/internal/model"
	"procurehub/internal/service"
)

type InboundHandler struct {
	ingestService *service.IngestService
}

func NewInboundHandler(ingestService *service.IngestService) *InboundHandler {
	return &InboundHandler{
		ingestService: ingestService,
	}
}

// ReceiveEmail handles POST /inbound/email, the webhook the mail
// provider pushes replies to. The 200 means the email is stored and the
// processing event committed; actual correlation happens in the worker.
func (h *InboundHandler) ReceiveEmail(c *gin.Context) {
	var req struct {
		FromAddress string     `json:"from_address"`
		FromName    string     `json:"from_name"`
		FromHeader  string     `json:"from_header"`
		Subject     string     `json:"subject"`
		Body        string     `json:"body"`
		Attachments []string   `json:"attachments"`
		ReceivedAt  *time.Time `json:"received_at"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	email := &model.InboundEmail{
		FromAddress: req.FromAddress,
		FromName:    req.FromName,
		FromHeader:  req.FromHeader,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: req.Attachments,
	}
	if req.ReceivedAt != nil {
		email.ReceivedAt = *req.ReceivedAt
	}

	emailID, err := h.ingestService.Ingest(c.Request.Context(), email)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email_id": emailID,
		"status":   "queued",
	})
}
