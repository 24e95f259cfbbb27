package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procurehub/internal/correlate"
	"procurehub/internal/mailer"
	"procurehub/internal/model"
)

// RequestService owns the request-side workflow: structure a free-text
// ask into an RFP, dispatch it to responders, track who got it.
type RequestService struct {
	requests   RequestStore
	responders ResponderStore
	oracle     Oracle
	mailer     mailer.Mailer
	logger     *zap.Logger
}

func NewRequestService(requests RequestStore, responders ResponderStore, oracle Oracle, m mailer.Mailer, logger *zap.Logger) *RequestService {
	return &RequestService{
		requests:   requests,
		responders: responders,
		oracle:     oracle,
		mailer:     m,
		logger:     logger,
	}
}

// structuredTermsPayload mirrors the structuring prompt schema. Pointer
// fields distinguish missing from zero during validation.
type structuredTermsPayload struct {
	Title string `json:"title"`
	Items []struct {
		Name        string            `json:"name"`
		Description string            `json:"description"`
		Quantity    *float64          `json:"quantity"`
		Specs       map[string]string `json:"specs"`
	} `json:"line_items"`
	Budget            float64  `json:"budget"`
	DeliveryTimeline  string   `json:"delivery_timeline"`
	PaymentTerms      string   `json:"payment_terms"`
	WarrantyTerms     string   `json:"warranty_terms"`
	SpecialConditions []string `json:"special_conditions"`
}

// StructureRequest turns free text into a draft request with structured
// terms. Fails with ErrValidation when the text is empty or the oracle
// output misses title / items / per-item required fields.
func (s *RequestService) StructureRequest(ctx context.Context, text string, targetBudget float64, deadline *time.Time) (*model.Request, error) {
	if strings.TrimSpace(text) == "" {
		return nil, validationErr("request text is empty")
	}

	raw, err := s.oracle.Extract(ctx, "structure_request", structureSystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var payload structuredTermsPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, validationErr("oracle output does not match request schema: %v", err)
	}
	terms, err := validateStructuredTerms(&payload)
	if err != nil {
		return nil, err
	}

	req := &model.Request{
		ID:           uuid.New(),
		OriginText:   text,
		Terms:        terms,
		TargetBudget: targetBudget,
		Deadline:     deadline,
		Status:       model.RequestStatusDraft,
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, err
	}

	s.logger.Info("Request structured",
		zap.String("request_id", req.ID.String()),
		zap.String("title", terms.Title),
		zap.Int("line_items", len(terms.Items)),
	)
	return req, nil
}

func validateStructuredTerms(p *structuredTermsPayload) (*model.RequestTerms, error) {
	if strings.TrimSpace(p.Title) == "" {
		return nil, validationErr("structured terms missing title")
	}
	if len(p.Items) == 0 {
		return nil, validationErr("structured terms has no line items")
	}

	items := make([]model.RequestLineItem, 0, len(p.Items))
	for i, it := range p.Items {
		if strings.TrimSpace(it.Name) == "" {
			return nil, validationErr("line item %d missing name", i)
		}
		if strings.TrimSpace(it.Description) == "" {
			return nil, validationErr("line item %d missing description", i)
		}
		if it.Quantity == nil {
			return nil, validationErr("line item %d missing quantity", i)
		}
		items = append(items, model.RequestLineItem{
			Name:        it.Name,
			Description: it.Description,
			Quantity:    *it.Quantity,
			Specs:       it.Specs,
		})
	}

	return &model.RequestTerms{
		Title:             p.Title,
		Items:             items,
		Budget:            p.Budget,
		DeliveryTimeline:  p.DeliveryTimeline,
		PaymentTerms:      p.PaymentTerms,
		WarrantyTerms:     p.WarrantyTerms,
		SpecialConditions: p.SpecialConditions,
	}, nil
}

// DispatchOutcome reports the fan-out result for one responder.
type DispatchOutcome struct {
	ResponderID uuid.UUID `json:"responder_id"`
	Email       string    `json:"email,omitempty"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
}

// Dispatch sends the request to each responder, one call per responder,
// tolerating partial failure, then records the successful sends. Only
// successfully notified responders enter the dispatch list.
func (s *RequestService) Dispatch(ctx context.Context, requestID uuid.UUID, responderIDs []uuid.UUID) ([]DispatchOutcome, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if len(responderIDs) == 0 {
		return nil, validationErr("no responders given")
	}

	subject := dispatchSubject(req)
	body := dispatchBody(req)

	outcomes := make([]DispatchOutcome, 0, len(responderIDs))
	sent := make([]uuid.UUID, 0, len(responderIDs))
	for _, rid := range responderIDs {
		outcome := DispatchOutcome{ResponderID: rid}

		responder, err := s.responders.FindByID(ctx, rid)
		if err != nil {
			outcome.Error = err.Error()
			outcomes = append(outcomes, outcome)
			continue
		}
		if responder == nil {
			outcome.Error = "responder not found"
			outcomes = append(outcomes, outcome)
			continue
		}
		outcome.Email = responder.Email

		res := s.mailer.Send(ctx, responder.Email, subject, body)
		if !res.Success {
			if res.Err != nil {
				outcome.Error = res.Err.Error()
			} else {
				outcome.Error = "send failed"
			}
			s.logger.Warn("Dispatch send failed",
				zap.String("request_id", requestID.String()),
				zap.String("responder_id", rid.String()),
				zap.String("error", outcome.Error),
			)
			outcomes = append(outcomes, outcome)
			continue
		}

		outcome.Success = true
		outcomes = append(outcomes, outcome)
		sent = append(sent, rid)
	}

	if len(sent) > 0 {
		if err := s.RecordDispatch(ctx, requestID, sent, time.Now()); err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// RecordDispatch upserts a dispatch entry per successfully notified
// responder and advances draft -> dispatched on first send.
func (s *RequestService) RecordDispatch(ctx context.Context, requestID uuid.UUID, responderIDs []uuid.UUID, sentAt time.Time) error {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}

	for _, rid := range responderIDs {
		if err := s.requests.UpsertDispatch(ctx, requestID, rid, sentAt); err != nil {
			return err
		}
	}

	if req.Status == model.RequestStatusDraft {
		if _, err := s.requests.AdvanceStatus(ctx, requestID, model.RequestStatusDraft, model.RequestStatusDispatched); err != nil {
			return err
		}
	}
	return nil
}

// Close finishes a request from any earlier status. Closing an already
// closed request is a no-op.
func (s *RequestService) Close(ctx context.Context, requestID uuid.UUID) error {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	if req.Status == model.RequestStatusClosed {
		return nil
	}
	ok, err := s.requests.AdvanceStatus(ctx, requestID, req.Status, model.RequestStatusClosed)
	if err != nil {
		return err
	}
	if !ok {
		// 并发下状态已被推进，重读后视为已关闭
		s.logger.Info("Close raced with another transition", zap.String("request_id", requestID.String()))
	}
	return nil
}

func (s *RequestService) Get(ctx context.Context, requestID uuid.UUID) (*model.Request, []model.Dispatch, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req == nil {
		return nil, nil, fmt.Errorf("%w: request %s", ErrNotFound, requestID)
	}
	dispatches, err := s.requests.ListDispatches(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	return req, dispatches, nil
}

func dispatchSubject(req *model.Request) string {
	title := "Request for proposal"
	if req.Terms != nil && req.Terms.Title != "" {
		title = req.Terms.Title
	}
	return fmt.Sprintf("%s %s", title, correlate.SubjectTag(req.ID.String()))
}

func dispatchBody(req *model.Request) string {
	var b strings.Builder
	b.WriteString("Hello,\n\nplease quote the following request:\n\n")
	writeRequestTerms(&b, req)
	b.WriteString("\nPlease reply to this email and keep the subject tag ")
	b.WriteString(correlate.SubjectTag(req.ID.String()))
	b.WriteString(" intact.\n")
	return b.String()
}
