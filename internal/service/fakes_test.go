package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"procurehub/internal/mailer"
	"procurehub/internal/model"
)

// In-memory stand-ins for the pgx repositories, shared across the
// service tests.

type fakeRequestStore struct {
	requests   map[uuid.UUID]*model.Request
	dispatches map[uuid.UUID][]model.Dispatch
	failWith   error
}

func newFakeRequestStore() *fakeRequestStore {
	return &fakeRequestStore{
		requests:   make(map[uuid.UUID]*model.Request),
		dispatches: make(map[uuid.UUID][]model.Dispatch),
	}
}

func (f *fakeRequestStore) Create(_ context.Context, req *model.Request) error {
	if f.failWith != nil {
		return f.failWith
	}
	cp := *req
	f.requests[req.ID] = &cp
	return nil
}

func (f *fakeRequestStore) FindByID(_ context.Context, id uuid.UUID) (*model.Request, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	req, ok := f.requests[id]
	if !ok {
		return nil, nil
	}
	cp := *req
	return &cp, nil
}

func (f *fakeRequestStore) AdvanceStatus(_ context.Context, id uuid.UUID, from, to model.RequestStatus) (bool, error) {
	if f.failWith != nil {
		return false, f.failWith
	}
	req, ok := f.requests[id]
	if !ok || req.Status != from || !req.Status.CanAdvanceTo(to) {
		return false, nil
	}
	req.Status = to
	return true, nil
}

func (f *fakeRequestStore) UpsertDispatch(_ context.Context, requestID, responderID uuid.UUID, sentAt time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	for i, d := range f.dispatches[requestID] {
		if d.ResponderID == responderID {
			f.dispatches[requestID][i].SentAt = sentAt
			return nil
		}
	}
	f.dispatches[requestID] = append(f.dispatches[requestID], model.Dispatch{
		RequestID:   requestID,
		ResponderID: responderID,
		SentAt:      sentAt,
	})
	return nil
}

func (f *fakeRequestStore) ListDispatches(_ context.Context, requestID uuid.UUID) ([]model.Dispatch, error) {
	return f.dispatches[requestID], nil
}

func (f *fakeRequestStore) LatestOpenRequestFor(_ context.Context, responderID uuid.UUID) (uuid.UUID, bool, error) {
	var best uuid.UUID
	var bestAt time.Time
	found := false
	for reqID, list := range f.dispatches {
		req := f.requests[reqID]
		if req == nil || (req.Status != model.RequestStatusDispatched && req.Status != model.RequestStatusCollecting) {
			continue
		}
		for _, d := range list {
			if d.ResponderID == responderID && (!found || d.SentAt.After(bestAt)) {
				best, bestAt, found = reqID, d.SentAt, true
			}
		}
	}
	return best, found, nil
}

type fakeResponderStore struct {
	byID    map[uuid.UUID]*model.Responder
	byEmail map[string]*model.Responder
}

func newFakeResponderStore(responders ...*model.Responder) *fakeResponderStore {
	f := &fakeResponderStore{
		byID:    make(map[uuid.UUID]*model.Responder),
		byEmail: make(map[string]*model.Responder),
	}
	for _, r := range responders {
		f.byID[r.ID] = r
		f.byEmail[r.Email] = r
	}
	return f
}

func (f *fakeResponderStore) FindByID(_ context.Context, id uuid.UUID) (*model.Responder, error) {
	return f.byID[id], nil
}

func (f *fakeResponderStore) FindByEmail(_ context.Context, email string) (*model.Responder, error) {
	return f.byEmail[email], nil
}

type pairKey struct {
	request, responder uuid.UUID
}

type fakeProposalStore struct {
	byPair         map[pairKey]*model.Proposal
	byID           map[uuid.UUID]*model.Proposal
	reviewRequired []uuid.UUID
	failWith       error
}

func newFakeProposalStore() *fakeProposalStore {
	return &fakeProposalStore{
		byPair: make(map[pairKey]*model.Proposal),
		byID:   make(map[uuid.UUID]*model.Proposal),
	}
}

func (f *fakeProposalStore) CreateIfAbsent(_ context.Context, p *model.Proposal) (*model.Proposal, bool, error) {
	if f.failWith != nil {
		return nil, false, f.failWith
	}
	key := pairKey{p.RequestID, p.ResponderID}
	if existing, ok := f.byPair[key]; ok {
		return existing, false, nil
	}
	cp := *p
	cp.ID = uuid.New()
	f.byPair[key] = &cp
	f.byID[cp.ID] = &cp
	return &cp, true, nil
}

func (f *fakeProposalStore) FindByID(_ context.Context, id uuid.UUID) (*model.Proposal, error) {
	return f.byID[id], nil
}

func (f *fakeProposalStore) ListByRequest(_ context.Context, requestID uuid.UUID) ([]model.Proposal, error) {
	var out []model.Proposal
	for _, p := range f.byID {
		if p.RequestID == requestID {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakeProposalStore) SetParsed(_ context.Context, id uuid.UUID, terms *model.ProposalTerms, confidence float64, requiresReview bool, parsedAt time.Time) error {
	if f.failWith != nil {
		return f.failWith
	}
	p, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("proposal %s not found", id)
	}
	p.Terms = terms
	p.Confidence = &confidence
	p.RequiresReview = requiresReview
	p.Status = model.ProposalStatusParsed
	p.ParsedAt = &parsedAt
	return nil
}

func (f *fakeProposalStore) MarkReviewRequired(_ context.Context, id uuid.UUID) error {
	f.reviewRequired = append(f.reviewRequired, id)
	if p, ok := f.byID[id]; ok {
		p.RequiresReview = true
	}
	return nil
}

func (f *fakeProposalStore) MarkReviewed(_ context.Context, id uuid.UUID) (bool, error) {
	p, ok := f.byID[id]
	if !ok || p.Status != model.ProposalStatusParsed {
		return false, nil
	}
	p.Status = model.ProposalStatusReviewed
	return true, nil
}

// fakeOracle replays canned output per operation and records prompts.
type fakeOracle struct {
	outputs map[string]json.RawMessage
	errs    map[string]error
	prompts map[string]string
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		outputs: make(map[string]json.RawMessage),
		errs:    make(map[string]error),
		prompts: make(map[string]string),
	}
}

func (f *fakeOracle) Extract(_ context.Context, operation, system, prompt string) (json.RawMessage, error) {
	f.prompts[operation] = prompt
	if err := f.errs[operation]; err != nil {
		return nil, err
	}
	out, ok := f.outputs[operation]
	if !ok {
		return nil, fmt.Errorf("no canned output for %s", operation)
	}
	return out, nil
}

// fakeMailer fails sends to addresses listed in failTo.
type fakeMailer struct {
	sent   []string
	failTo map[string]bool
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{failTo: make(map[string]bool)}
}

func (f *fakeMailer) Send(_ context.Context, to, subject, body string) mailer.SendResult {
	if f.failTo[to] {
		return mailer.SendResult{Success: false, Err: fmt.Errorf("smtp refused %s", to)}
	}
	f.sent = append(f.sent, to)
	return mailer.SendResult{Success: true, MessageID: uuid.NewString()}
}
