package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"procurehub/internal/model"
	"procurehub/internal/repository"
)

type ResponderHandler struct {
	responderRepo *repository.ResponderRepository
}

func NewResponderHandler(responderRepo *repository.ResponderRepository) *ResponderHandler {
	return &ResponderHandler{
		responderRepo: responderRepo,
	}
}

// CreateResponder handles POST /responders
func (h *ResponderHandler) CreateResponder(c *gin.Context) {
	var req struct {
		Email          string `json:"email"`
		Name           string `json:"name"`
		Specialization string `json:"specialization"`
		Phone          string `json:"phone"`
		Notes          string `json:"notes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if strings.TrimSpace(req.Email) == "" || !strings.Contains(req.Email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	// 邮箱统一小写存储，关联时大小写不敏感
	responder := &model.Responder{
		Email:          model.NormalizeEmail(req.Email),
		Name:           req.Name,
		Specialization: req.Specialization,
		Phone:          req.Phone,
		Notes:          req.Notes,
	}
	if err := h.responderRepo.Create(c.Request.Context(), responder); err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			c.JSON(http.StatusConflict, gin.H{"error": "responder email already registered"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create responder"})
		return
	}

	c.JSON(http.StatusCreated, responder)
}

// ListResponders handles GET /responders
func (h *ResponderHandler) ListResponders(c *gin.Context) {
	responders, err := h.responderRepo.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch responders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"responders": responders,
	})
}
