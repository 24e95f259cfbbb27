package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"procurehub/internal/service"
)

type ComparisonHandler struct {
	comparisonService *service.ComparisonService
	logger            *zap.Logger
}

func NewComparisonHandler(comparisonService *service.ComparisonService, logger *zap.Logger) *ComparisonHandler {
	return &ComparisonHandler{
		comparisonService: comparisonService,
		logger:            logger,
	}
}

// GetComparison handles GET /requests/:id/comparison. When the analysis
// cannot be produced the endpoint degrades instead of failing: the raw
// proposals are returned with a null analysis so the buyer can still
// compare by hand.
func (h *ComparisonHandler) GetComparison(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	comparison, proposals, err := h.comparisonService.Compare(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if errors.Is(err, service.ErrNoProposals) {
			c.JSON(http.StatusOK, gin.H{
				"request_id": id,
				"analysis":   nil,
				"proposals":  []any{},
				"degraded":   false,
			})
			return
		}
		if proposals != nil {
			h.logger.Warn("Serving degraded comparison",
				zap.String("request_id", id.String()),
				zap.Error(err),
			)
			c.JSON(http.StatusOK, gin.H{
				"request_id": id,
				"analysis":   nil,
				"proposals":  proposals,
				"degraded":   true,
			})
			return
		}
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"analysis":   comparison,
		"proposals":  proposals,
		"degraded":   false,
	})
}
