package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	mqcontracts "procurehub/contracts/mq"
	"procurehub/internal/model"
	"procurehub/internal/repository"
	"procurehub/pkg/outbox"
	"procurehub/pkg/trace"
)

// IngestService accepts pushed inbound email and hands it to the worker
// through the outbox. The raw row and the proposal.inbound event commit
// in one transaction, so the mail provider gets its 2xx only once the
// email cannot be lost.
type IngestService struct {
	db         *pgxpool.Pool
	emails     *repository.InboundEmailRepository
	outboxRepo *outbox.Repository
	logger     *zap.Logger
}

func NewIngestService(db *pgxpool.Pool, emails *repository.InboundEmailRepository, logger *zap.Logger) *IngestService {
	return &IngestService{
		db:         db,
		emails:     emails,
		outboxRepo: outbox.NewRepository(db),
		logger:     logger,
	}
}

// Ingest stores the email verbatim and enqueues the processing event.
// Only the body is required; correlation works off whatever sender
// representation is present.
func (s *IngestService) Ingest(ctx context.Context, email *model.InboundEmail) (uuid.UUID, error) {
	if strings.TrimSpace(email.Body) == "" {
		return uuid.Nil, validationErr("email body is required")
	}
	if email.ReceivedAt.IsZero() {
		email.ReceivedAt = time.Now()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.emails.CreateTx(ctx, tx, email); err != nil {
		return uuid.Nil, fmt.Errorf("failed to store inbound email: %w", err)
	}

	payload := mqcontracts.ProposalInboundPayload{
		EmailID:    email.ID,
		ReceivedAt: email.ReceivedAt,
		TraceID:    trace.FromContext(ctx),
	}
	if err := outbox.InsertEventInTx(ctx, tx, s.outboxRepo, "inbound_email", &email.ID, mqcontracts.RoutingKeyProposalInbound, payload); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue inbound event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.logger.Info("Inbound email queued",
		zap.String("email_id", email.ID.String()),
		zap.String("from", email.FromHeader),
		zap.String("subject", email.Subject),
	)
	return email.ID, nil
}
