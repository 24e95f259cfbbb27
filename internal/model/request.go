package model

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestStatusDraft      RequestStatus = "draft"
	RequestStatusDispatched RequestStatus = "dispatched"
	RequestStatusCollecting RequestStatus = "collecting_responses"
	RequestStatusClosed     RequestStatus = "closed"
)

var requestStatusOrder = map[RequestStatus]int{
	RequestStatusDraft:      0,
	RequestStatusDispatched: 1,
	RequestStatusCollecting: 2,
	RequestStatusClosed:     3,
}

// CanAdvanceTo reports whether a transition moves the request forward.
// Status never goes backwards.
func (s RequestStatus) CanAdvanceTo(next RequestStatus) bool {
	cur, ok := requestStatusOrder[s]
	if !ok {
		return false
	}
	nxt, ok := requestStatusOrder[next]
	if !ok {
		return false
	}
	return nxt > cur
}

// RequestLineItem is one line of the structured RFP.
type RequestLineItem struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Quantity    float64           `json:"quantity"`
	Specs       map[string]string `json:"specs,omitempty"`
}

// RequestTerms is the structured form of the procurement ask, extracted
// from the free-text origin by the oracle.
type RequestTerms struct {
	Title             string            `json:"title"`
	Items             []RequestLineItem `json:"line_items"`
	Budget            float64           `json:"budget,omitempty"`
	DeliveryTimeline  string            `json:"delivery_timeline,omitempty"`
	PaymentTerms      string            `json:"payment_terms,omitempty"`
	WarrantyTerms     string            `json:"warranty_terms,omitempty"`
	SpecialConditions []string          `json:"special_conditions,omitempty"`
}

// Request is an RFP. TargetBudget and Deadline are set by the operator
// and may disagree with the extracted terms.
type Request struct {
	ID           uuid.UUID     `json:"id"`
	OriginText   string        `json:"origin_text"`
	Terms        *RequestTerms `json:"terms,omitempty"`
	TargetBudget float64       `json:"target_budget,omitempty"`
	Deadline     *time.Time    `json:"deadline,omitempty"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Dispatch records one responder the request was sent to. Upserted by
// responder: a re-dispatch refreshes SentAt instead of appending.
type Dispatch struct {
	RequestID   uuid.UUID `json:"request_id"`
	ResponderID uuid.UUID `json:"responder_id"`
	SentAt      time.Time `json:"sent_at"`
}
