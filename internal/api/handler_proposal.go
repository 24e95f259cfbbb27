package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"procurehub/internal/repository"
	"procurehub/internal/service"
)

type ProposalHandler struct {
	proposalRepo    *repository.ProposalRepository
	proposalService *service.ProposalService
}

func NewProposalHandler(proposalRepo *repository.ProposalRepository, proposalService *service.ProposalService) *ProposalHandler {
	return &ProposalHandler{
		proposalRepo:    proposalRepo,
		proposalService: proposalService,
	}
}

// ListByRequest handles GET /requests/:id/proposals
func (h *ProposalHandler) ListByRequest(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	proposals, err := h.proposalRepo.ListByRequest(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch proposals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id": id,
		"proposals":  proposals,
	})
}

// MarkReviewed handles POST /proposals/:id/review
func (h *ProposalHandler) MarkReviewed(c *gin.Context) {
	id, ok := parseIDParam(c)
	if !ok {
		return
	}

	if err := h.proposalService.MarkReviewed(c.Request.Context(), id); err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"proposal_id": id,
		"status":      "reviewed",
	})
}
