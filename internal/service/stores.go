package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"procurehub/internal/model"
)

// Store seams consumed by the services. The pgx repositories satisfy
// them; tests substitute in-memory fakes.

type RequestStore interface {
	Create(ctx context.Context, req *model.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error)
	AdvanceStatus(ctx context.Context, id uuid.UUID, from, to model.RequestStatus) (bool, error)
	UpsertDispatch(ctx context.Context, requestID, responderID uuid.UUID, sentAt time.Time) error
	ListDispatches(ctx context.Context, requestID uuid.UUID) ([]model.Dispatch, error)
}

type ResponderStore interface {
	FindByID(ctx context.Context, id uuid.UUID) (*model.Responder, error)
	FindByEmail(ctx context.Context, email string) (*model.Responder, error)
}

type ProposalStore interface {
	CreateIfAbsent(ctx context.Context, p *model.Proposal) (*model.Proposal, bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*model.Proposal, error)
	ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Proposal, error)
	SetParsed(ctx context.Context, id uuid.UUID, terms *model.ProposalTerms, confidence float64, requiresReview bool, parsedAt time.Time) error
	MarkReviewRequired(ctx context.Context, id uuid.UUID) error
	MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error)
}

// Oracle is the extraction adapter seam (internal/oracle.Client in
// production).
type Oracle interface {
	Extract(ctx context.Context, operation, system, prompt string) (json.RawMessage, error)
}
