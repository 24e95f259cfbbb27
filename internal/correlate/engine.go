package correlate

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"procurehub/internal/model"
)

// ResponderDirectory is the read side of the vendor directory. FindByEmail
// is case-insensitive; a miss returns (nil, nil).
type ResponderDirectory interface {
	FindByEmail(ctx context.Context, email string) (*model.Responder, error)
}

// DispatchLookup resolves the most recently dispatched open request for a
// responder (status dispatched or collecting_responses, latest sent_at).
type DispatchLookup interface {
	LatestOpenRequestFor(ctx context.Context, responderID uuid.UUID) (uuid.UUID, bool, error)
}

// Match is a successful correlation: both halves resolved.
type Match struct {
	RequestID   uuid.UUID
	ResponderID uuid.UUID
}

// Failure reports why correlation did not produce a match. SenderAddress
// is whatever address was extracted (empty when no representation
// yielded one) so an operator can see what the engine was working with.
type Failure struct {
	SenderAddress     string `json:"sender_address,omitempty"`
	AddressExtracted  bool   `json:"address_extracted"`
	RequestResolved   bool   `json:"request_resolved"`
	ResponderResolved bool   `json:"responder_resolved"`
}

func (f *Failure) Error() string {
	if !f.AddressExtracted {
		return "correlation failed: no sender address extracted"
	}
	return fmt.Sprintf("correlation failed: request_resolved=%t responder_resolved=%t sender=%s",
		f.RequestResolved, f.ResponderResolved, f.SenderAddress)
}

// Engine maps one inbound email to a (request, responder) pair. It is
// evaluated once per email; callers decide whether to re-queue.
type Engine struct {
	responders ResponderDirectory
	dispatches DispatchLookup
	logger     *zap.Logger
}

func NewEngine(responders ResponderDirectory, dispatches DispatchLookup, logger *zap.Logger) *Engine {
	return &Engine{
		responders: responders,
		dispatches: dispatches,
		logger:     logger,
	}
}

// Correlate resolves both halves independently:
//
//  1. request identity from the subject tag, when present;
//  2. responder identity from the sender address, case-folded;
//  3. only if no tag was found and the responder is known, fall back to
//     the responder's most recently dispatched open request.
//
// A Match requires both. Anything less returns *Failure as the error.
func (e *Engine) Correlate(ctx context.Context, email *model.InboundEmail) (Match, error) {
	var (
		requestID   uuid.UUID
		responderID uuid.UUID
		haveRequest bool
		haveSender  bool
	)

	// Step 1: subject tag
	if identity, ok := RequestIdentityFromSubject(email.Subject); ok {
		if id, err := uuid.Parse(identity); err == nil {
			requestID = id
			haveRequest = true
		} else {
			e.logger.Warn("Subject tag identity is not a valid request id",
				zap.String("identity", identity),
				zap.String("subject", email.Subject),
			)
		}
	}

	// Step 2: responder by sender address
	sender, extracted := ExtractSenderAddress(email)
	if !extracted {
		// 连发件人地址都拿不到，直接失败
		return Match{}, &Failure{
			AddressExtracted:  false,
			RequestResolved:   haveRequest,
			ResponderResolved: false,
		}
	}

	responder, err := e.responders.FindByEmail(ctx, sender)
	if err != nil {
		return Match{}, fmt.Errorf("responder lookup: %w", err)
	}
	if responder != nil {
		responderID = responder.ID
		haveSender = true
	}

	// Step 3: dispatch-history fallback, only when the tag was absent
	if !haveRequest && haveSender {
		id, found, err := e.dispatches.LatestOpenRequestFor(ctx, responderID)
		if err != nil {
			return Match{}, fmt.Errorf("dispatch lookup: %w", err)
		}
		if found {
			requestID = id
			haveRequest = true
		}
	}

	if !haveRequest || !haveSender {
		return Match{}, &Failure{
			SenderAddress:     sender,
			AddressExtracted:  true,
			RequestResolved:   haveRequest,
			ResponderResolved: haveSender,
		}
	}

	return Match{RequestID: requestID, ResponderID: responderID}, nil
}
