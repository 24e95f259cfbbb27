package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"procurehub/internal/model"
)

// InboundEmailRepository stores every inbound message verbatim before
// correlation is attempted, so mail is never lost even when it cannot be
// matched to a request.
type InboundEmailRepository struct {
	db *pgxpool.Pool
}

func NewInboundEmailRepository(db *pgxpool.Pool) *InboundEmailRepository {
	return &InboundEmailRepository{db: db}
}

// CreateTx inserts the raw email inside a caller-owned transaction so
// the insert and the outbox event commit together.
func (r *InboundEmailRepository) CreateTx(ctx context.Context, tx pgx.Tx, e *model.InboundEmail) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = model.InboundEmailStatusQueued
	}
	query := `
        INSERT INTO inbound_emails (id, from_address, from_name, from_header, subject, body, attachments, received_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := tx.Exec(ctx, query,
		e.ID, e.FromAddress, e.FromName, e.FromHeader,
		e.Subject, e.Body, e.Attachments, e.ReceivedAt, e.Status,
	)
	return err
}

func (r *InboundEmailRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.InboundEmail, error) {
	query := `
        SELECT id, from_address, from_name, from_header, subject, body, attachments, received_at, status, COALESCE(fail_reason, '')
        FROM inbound_emails
        WHERE id = $1
    `
	var e model.InboundEmail
	err := r.db.QueryRow(ctx, query, id).Scan(
		&e.ID,
		&e.FromAddress,
		&e.FromName,
		&e.FromHeader,
		&e.Subject,
		&e.Body,
		&e.Attachments,
		&e.ReceivedAt,
		&e.Status,
		&e.FailReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

// UpdateOutcome records how pipeline processing ended for this email.
func (r *InboundEmailRepository) UpdateOutcome(ctx context.Context, id uuid.UUID, status model.InboundEmailStatus, failReason string) error {
	query := `
        UPDATE inbound_emails
        SET status = $1, fail_reason = NULLIF($2, '')
        WHERE id = $3
    `
	_, err := r.db.Exec(ctx, query, status, failReason, id)
	return err
}
