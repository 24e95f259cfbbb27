package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"procurehub/internal/correlate"
	"procurehub/internal/model"
	"procurehub/pkg/metrics"
)

// InboundOutcome is the terminal disposition of one inbound email.
type InboundOutcome string

const (
	// OutcomeProcessed means a new proposal record was created. The
	// parse attempt may still have failed; that only flags review.
	OutcomeProcessed InboundOutcome = "processed"
	// OutcomeDuplicate means the (request, responder) pair already had
	// a record. The email is dropped, the first reply wins.
	OutcomeDuplicate InboundOutcome = "duplicate"
	// OutcomeCorrelationFailed means the email could not be mapped to a
	// known request and responder.
	OutcomeCorrelationFailed InboundOutcome = "correlation_failed"
	// OutcomeError covers infrastructure failures; the message handler
	// decides whether to re-queue.
	OutcomeError InboundOutcome = "error"
)

// InboundResult carries the outcome plus enough detail for the email
// audit row and the handler's log line.
type InboundResult struct {
	Outcome InboundOutcome
	Detail  string
	Parse   *ParseOutcome
}

// Pipeline processes one correlated inbound email end to end. It never
// panics out and only returns an error for retryable infrastructure
// failures; all business dispositions are encoded in InboundResult.
type Pipeline struct {
	engine    *correlate.Engine
	proposals *ProposalService
	requests  RequestStore
	logger    *zap.Logger
}

func NewPipeline(engine *correlate.Engine, proposals *ProposalService, requests RequestStore, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		engine:    engine,
		proposals: proposals,
		requests:  requests,
		logger:    logger,
	}
}

// ProcessInbound runs correlate -> create-if-absent -> advance request
// status -> attempt parse for one email.
//
// Ordering guarantees: the record exists before the parse attempt, and
// the request moves to collecting_responses once the record is created
// regardless of how parsing ends. A returned error means the email was
// not durably dispositioned and may be retried.
func (p *Pipeline) ProcessInbound(ctx context.Context, email *model.InboundEmail) (res InboundResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Panic while processing inbound email",
				zap.String("email_id", email.ID.String()),
				zap.Any("panic", r),
			)
			res = InboundResult{Outcome: OutcomeError, Detail: fmt.Sprintf("panic: %v", r)}
			err = fmt.Errorf("inbound pipeline panic: %v", r)
		}
		metrics.IncrementInboundProcessed(string(res.Outcome))
	}()

	match, err := p.engine.Correlate(ctx, email)
	if err != nil {
		var failure *correlate.Failure
		if errors.As(err, &failure) {
			p.logger.Warn("Inbound email did not correlate",
				zap.String("email_id", email.ID.String()),
				zap.String("from", email.FromHeader),
				zap.String("subject", email.Subject),
				zap.Bool("request_resolved", failure.RequestResolved),
				zap.Bool("responder_resolved", failure.ResponderResolved),
			)
			return InboundResult{Outcome: OutcomeCorrelationFailed, Detail: failure.Error()}, nil
		}
		return InboundResult{Outcome: OutcomeError, Detail: err.Error()}, err
	}

	proposal, err := p.proposals.CreateIfAbsent(ctx, match.RequestID, match.ResponderID, email)
	if err != nil {
		if errors.Is(err, ErrDuplicate) {
			p.logger.Info("Duplicate reply dropped",
				zap.String("email_id", email.ID.String()),
				zap.String("request_id", match.RequestID.String()),
				zap.String("responder_id", match.ResponderID.String()),
			)
			return InboundResult{Outcome: OutcomeDuplicate, Detail: err.Error()}, nil
		}
		return InboundResult{Outcome: OutcomeError, Detail: err.Error()}, err
	}

	// First correlated reply moves the request forward. A false return
	// just means another reply got there first or the request is closed.
	advanced, err := p.requests.AdvanceStatus(ctx, match.RequestID, model.RequestStatusDispatched, model.RequestStatusCollecting)
	if err != nil {
		p.logger.Error("Failed to advance request status",
			zap.String("request_id", match.RequestID.String()),
			zap.Error(err),
		)
	} else if advanced {
		p.logger.Info("Request collecting responses",
			zap.String("request_id", match.RequestID.String()),
		)
	}

	req, err := p.requests.FindByID(ctx, match.RequestID)
	if err != nil || req == nil {
		// The record is safe; parsing can be re-attempted later.
		detail := "request vanished before parse"
		if err != nil {
			detail = err.Error()
		}
		p.logger.Error("Skipping parse, request load failed",
			zap.String("request_id", match.RequestID.String()),
			zap.String("detail", detail),
		)
		return InboundResult{Outcome: OutcomeProcessed, Detail: detail}, nil
	}

	parse := p.proposals.AttemptParse(ctx, proposal, req)
	return InboundResult{Outcome: OutcomeProcessed, Parse: &parse}, nil
}
