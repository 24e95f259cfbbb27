package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procurehub/internal/model"
	"procurehub/pkg/metrics"
)

// ProposalService owns the response-record lifecycle:
// received -> parsed -> reviewed. A failed parse attempt keeps the
// record in received with requires_review forced true; there is no
// failed state and parsing can be retried on the same record.
type ProposalService struct {
	proposals ProposalStore
	requests  RequestStore
	oracle    Oracle
	logger    *zap.Logger
	now       func() time.Time
}

func NewProposalService(proposals ProposalStore, requests RequestStore, oracle Oracle, logger *zap.Logger) *ProposalService {
	return &ProposalService{
		proposals: proposals,
		requests:  requests,
		oracle:    oracle,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateIfAbsent records the raw reply for a correlated (request,
// responder) pair. Returns ErrDuplicate when a record already exists;
// the existing record is returned alongside so callers can report its id.
func (s *ProposalService) CreateIfAbsent(ctx context.Context, requestID, responderID uuid.UUID, email *model.InboundEmail) (*model.Proposal, error) {
	p := &model.Proposal{
		RequestID:   requestID,
		ResponderID: responderID,
		RawFrom:     email.FromHeader,
		RawSubject:  email.Subject,
		RawBody:     email.Body,
		Attachments: email.Attachments,
		Status:      model.ProposalStatusReceived,
		ReceivedAt:  email.ReceivedAt,
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = s.now()
	}

	stored, created, err := s.proposals.CreateIfAbsent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !created {
		return stored, fmt.Errorf("%w: proposal %s", ErrDuplicate, stored.ID)
	}
	return stored, nil
}

// parsedProposalPayload mirrors the parse prompt schema. Pointer fields
// distinguish missing from zero; special_conditions stays raw because it
// is the one field validated leniently.
type parsedProposalPayload struct {
	Items []struct {
		Name      string   `json:"name"`
		UnitPrice *float64 `json:"unit_price"`
		Quantity  *float64 `json:"quantity"`
		LineTotal *float64 `json:"line_total"`
	} `json:"line_items"`
	Total             *float64        `json:"total"`
	DeliveryTimeline  string          `json:"delivery_timeline"`
	PaymentTerms      string          `json:"payment_terms"`
	WarrantyTerms     string          `json:"warranty_terms"`
	SpecialConditions json.RawMessage `json:"special_conditions"`
	Notes             string          `json:"notes"`
	Confidence        *float64        `json:"confidence"`
}

// ParseOutcome tells the caller how a parse attempt ended without
// raising: one record failing to parse must not abort the batch.
type ParseOutcome struct {
	Parsed         bool     `json:"parsed"`
	Confidence     float64  `json:"confidence,omitempty"`
	RequiresReview bool     `json:"requires_review"`
	FailReason     string   `json:"fail_reason,omitempty"`
}

// AttemptParse runs the extraction oracle over the stored raw body. On
// success the record moves to parsed with requires_review derived from
// the confidence threshold; on any failure the record stays in received
// and is flagged for review. Idempotent: re-running overwrites whole
// fields on the same record.
func (s *ProposalService) AttemptParse(ctx context.Context, proposal *model.Proposal, req *model.Request) ParseOutcome {
	email := &model.InboundEmail{
		Subject:     proposal.RawSubject,
		Body:        proposal.RawBody,
		Attachments: proposal.Attachments,
	}

	raw, err := s.oracle.Extract(ctx, "parse_proposal", parseSystemPrompt, buildParsePrompt(req, email))
	if err != nil {
		return s.failParse(ctx, proposal, err)
	}

	terms, confidence, err := validateParsedProposal(raw)
	if err != nil {
		return s.failParse(ctx, proposal, err)
	}

	requiresReview := confidence < model.ReviewThreshold
	parsedAt := s.now()
	if err := s.proposals.SetParsed(ctx, proposal.ID, terms, confidence, requiresReview, parsedAt); err != nil {
		return s.failParse(ctx, proposal, err)
	}

	metrics.IncrementProposalParsed("success")
	s.logger.Info("Proposal parsed",
		zap.String("proposal_id", proposal.ID.String()),
		zap.Float64("confidence", confidence),
		zap.Bool("requires_review", requiresReview),
	)
	return ParseOutcome{Parsed: true, Confidence: confidence, RequiresReview: requiresReview}
}

func (s *ProposalService) failParse(ctx context.Context, proposal *model.Proposal, cause error) ParseOutcome {
	metrics.IncrementProposalParsed("failed")
	s.logger.Warn("Proposal parse failed, flagged for review",
		zap.String("proposal_id", proposal.ID.String()),
		zap.Error(cause),
	)
	if err := s.proposals.MarkReviewRequired(ctx, proposal.ID); err != nil {
		s.logger.Error("Failed to flag proposal for review",
			zap.String("proposal_id", proposal.ID.String()),
			zap.Error(err),
		)
	}
	return ParseOutcome{RequiresReview: true, FailReason: cause.Error()}
}

// validateParsedProposal enforces the parse schema strictly: non-empty
// line items with name and numeric price/quantity/total, a numeric
// aggregate total, confidence within [0,1]. The only lenient field is
// special_conditions, coerced to empty when missing or not an array.
func validateParsedProposal(raw json.RawMessage) (*model.ProposalTerms, float64, error) {
	var payload parsedProposalPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, 0, validationErr("extraction does not match proposal schema: %v", err)
	}

	if len(payload.Items) == 0 {
		return nil, 0, validationErr("extraction has no line items")
	}
	items := make([]model.ProposalLineItem, 0, len(payload.Items))
	for i, it := range payload.Items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, 0, validationErr("line item %d missing name", i)
		}
		if it.UnitPrice == nil {
			return nil, 0, validationErr("line item %d missing unit price", i)
		}
		if it.Quantity == nil {
			return nil, 0, validationErr("line item %d missing quantity", i)
		}
		if it.LineTotal == nil {
			return nil, 0, validationErr("line item %d missing line total", i)
		}
		if *it.UnitPrice < 0 || *it.LineTotal < 0 {
			return nil, 0, validationErr("line item %d has negative amount", i)
		}
		items = append(items, model.ProposalLineItem{
			Name:      it.Name,
			UnitPrice: *it.UnitPrice,
			Quantity:  *it.Quantity,
			LineTotal: *it.LineTotal,
		})
	}

	if payload.Total == nil {
		return nil, 0, validationErr("extraction missing total")
	}
	if *payload.Total < 0 {
		return nil, 0, validationErr("extraction total is negative")
	}

	// confidence 缺省为 0（必然触发人工复核）
	confidence := 0.0
	if payload.Confidence != nil {
		confidence = *payload.Confidence
		if confidence < 0 || confidence > 1 {
			return nil, 0, validationErr("confidence %g outside [0,1]", confidence)
		}
	}

	// special_conditions 唯一宽松字段：缺失或非数组 → 空列表
	conditions := []string{}
	if len(payload.SpecialConditions) > 0 {
		var parsed []string
		if err := json.Unmarshal(payload.SpecialConditions, &parsed); err == nil {
			conditions = parsed
		}
	}

	return &model.ProposalTerms{
		Items:             items,
		Total:             *payload.Total,
		DeliveryTimeline:  payload.DeliveryTimeline,
		PaymentTerms:      payload.PaymentTerms,
		WarrantyTerms:     payload.WarrantyTerms,
		SpecialConditions: conditions,
		Notes:             payload.Notes,
	}, confidence, nil
}

// MarkReviewed is the explicit human action completing the lifecycle.
func (s *ProposalService) MarkReviewed(ctx context.Context, proposalID uuid.UUID) error {
	ok, err := s.proposals.MarkReviewed(ctx, proposalID)
	if err != nil {
		return err
	}
	if !ok {
		p, err := s.proposals.FindByID(ctx, proposalID)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("%w: proposal %s", ErrNotFound, proposalID)
		}
		return validationErr("proposal %s is %s, only parsed proposals can be reviewed", proposalID, p.Status)
	}
	return nil
}
