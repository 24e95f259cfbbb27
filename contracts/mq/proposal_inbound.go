package mq

import (
	"time"

	"github.com/google/uuid"
)

// RoutingKeyProposalInbound is the only event the worker consumes. The
// payload carries the stored email id, not the email itself; the worker
// re-reads the row so a replay always sees the durable copy.
const RoutingKeyProposalInbound = "proposal.inbound"

// ProposalInboundPayload 入站邮件事件的 payload
type ProposalInboundPayload struct {
	EmailID    uuid.UUID `json:"email_id"`
	ReceivedAt time.Time `json:"received_at"`
	TraceID    string    `json:"trace_id,omitempty"`
}
