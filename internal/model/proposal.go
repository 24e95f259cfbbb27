package model

import (
	"time"

	"github.com/google/uuid"
)

type ProposalStatus string

const (
	ProposalStatusReceived ProposalStatus = "received"
	ProposalStatusParsed   ProposalStatus = "parsed"
	ProposalStatusReviewed ProposalStatus = "reviewed"
)

// ReviewThreshold is the confidence below which a parsed proposal is
// flagged for manual review. Exactly 0.7 does not flag.
const ReviewThreshold = 0.7

// ProposalLineItem is one priced line extracted from a vendor reply.
type ProposalLineItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  float64 `json:"quantity"`
	LineTotal float64 `json:"line_total"`
}

// ProposalTerms is the structured commercial content of a vendor reply.
type ProposalTerms struct {
	Items             []ProposalLineItem `json:"line_items"`
	Total             float64            `json:"total"`
	DeliveryTimeline  string             `json:"delivery_timeline,omitempty"`
	PaymentTerms      string             `json:"payment_terms,omitempty"`
	WarrantyTerms     string             `json:"warranty_terms,omitempty"`
	SpecialConditions []string           `json:"special_conditions"`
	Notes             string             `json:"notes,omitempty"`
}

// Proposal tracks one inbound vendor reply to one request. At most one
// proposal exists per (request, responder) pair; that pair is the
// idempotency boundary for the whole inbound pipeline.
//
// Raw* fields preserve the inbound email verbatim for audit. Terms and
// Confidence stay nil until a parse attempt succeeds; a failed parse
// leaves the proposal in "received" with RequiresReview forced true.
type Proposal struct {
	ID             uuid.UUID      `json:"id"`
	RequestID      uuid.UUID      `json:"request_id"`
	ResponderID    uuid.UUID      `json:"responder_id"`
	RawFrom        string         `json:"raw_from"`
	RawSubject     string         `json:"raw_subject"`
	RawBody        string         `json:"raw_body"`
	Attachments    []string       `json:"attachments,omitempty"`
	Terms          *ProposalTerms `json:"terms,omitempty"`
	Confidence     *float64       `json:"confidence,omitempty"`
	RequiresReview bool           `json:"requires_review"`
	Status         ProposalStatus `json:"status"`
	ReceivedAt     time.Time      `json:"received_at"`
	ParsedAt       *time.Time     `json:"parsed_at,omitempty"`
}
