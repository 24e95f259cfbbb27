package model

import (
	"time"

	"github.com/google/uuid"
)

type InboundEmailStatus string

const (
	InboundEmailStatusQueued    InboundEmailStatus = "queued"
	InboundEmailStatusProcessed InboundEmailStatus = "processed"
	InboundEmailStatusFailed    InboundEmailStatus = "failed"
)

// InboundEmail is a normalized inbound message. Both delivery paths
// (mailbox poll and webhook push) produce this shape before anything
// downstream sees the message.
//
// FromAddress is the structured sender address when the upstream source
// provided one; FromHeader is the raw header text kept for the regex
// fallbacks and for audit.
type InboundEmail struct {
	ID          uuid.UUID          `json:"id"`
	FromAddress string             `json:"from_address,omitempty"`
	FromName    string             `json:"from_name,omitempty"`
	FromHeader  string             `json:"from_header"`
	Subject     string             `json:"subject"`
	Body        string             `json:"body"`
	Attachments []string           `json:"attachments,omitempty"`
	ReceivedAt  time.Time          `json:"received_at"`
	Status      InboundEmailStatus `json:"status"`
	FailReason  string             `json:"fail_reason,omitempty"`
}
