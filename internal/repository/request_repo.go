package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"procurehub/internal/model"
)

type RequestRepository struct {
	db *pgxpool.Pool
}

func NewRequestRepository(db *pgxpool.Pool) *RequestRepository {
	return &RequestRepository{db: db}
}

func (r *RequestRepository) Create(ctx context.Context, req *model.Request) error {
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	if req.Status == "" {
		req.Status = model.RequestStatusDraft
	}

	termsJSON, err := marshalNullable(req.Terms)
	if err != nil {
		return fmt.Errorf("marshal terms: %w", err)
	}

	query := `
        INSERT INTO requests (id, origin_text, terms, target_budget, deadline, status, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
        RETURNING created_at, updated_at
    `
	return r.db.QueryRow(ctx, query,
		req.ID, req.OriginText, termsJSON, req.TargetBudget, req.Deadline, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
}

// FindByID returns (nil, nil) when the request does not exist.
func (r *RequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Request, error) {
	query := `
        SELECT id, origin_text, terms, target_budget, deadline, status, created_at, updated_at
        FROM requests
        WHERE id = $1
    `
	var (
		req       model.Request
		termsJSON []byte
	)
	err := r.db.QueryRow(ctx, query, id).Scan(
		&req.ID,
		&req.OriginText,
		&termsJSON,
		&req.TargetBudget,
		&req.Deadline,
		&req.Status,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if len(termsJSON) > 0 {
		var terms model.RequestTerms
		if err := json.Unmarshal(termsJSON, &terms); err != nil {
			return nil, fmt.Errorf("unmarshal terms: %w", err)
		}
		req.Terms = &terms
	}
	return &req, nil
}

// AdvanceStatus moves a request from one status to another. The WHERE
// guard on the current status makes the call idempotent and keeps the
// lifecycle forward-only under concurrent callers. Returns whether a row
// actually changed.
func (r *RequestRepository) AdvanceStatus(ctx context.Context, id uuid.UUID, from, to model.RequestStatus) (bool, error) {
	if !from.CanAdvanceTo(to) {
		return false, fmt.Errorf("invalid status transition %s -> %s", from, to)
	}
	query := `
        UPDATE requests
        SET status = $1, updated_at = NOW()
        WHERE id = $2 AND status = $3
    `
	tag, err := r.db.Exec(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertDispatch records that the request was sent to a responder.
// Re-dispatch to the same responder refreshes sent_at, it never appends
// a second row.
func (r *RequestRepository) UpsertDispatch(ctx context.Context, requestID, responderID uuid.UUID, sentAt time.Time) error {
	query := `
        INSERT INTO request_dispatches (request_id, responder_id, sent_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (request_id, responder_id)
        DO UPDATE SET sent_at = EXCLUDED.sent_at
    `
	_, err := r.db.Exec(ctx, query, requestID, responderID, sentAt)
	return err
}

// ListDispatches returns the dispatch list, most recent first.
func (r *RequestRepository) ListDispatches(ctx context.Context, requestID uuid.UUID) ([]model.Dispatch, error) {
	query := `
        SELECT request_id, responder_id, sent_at
        FROM request_dispatches
        WHERE request_id = $1
        ORDER BY sent_at DESC
    `
	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dispatches := []model.Dispatch{}
	for rows.Next() {
		var d model.Dispatch
		if err := rows.Scan(&d.RequestID, &d.ResponderID, &d.SentAt); err != nil {
			return nil, err
		}
		dispatches = append(dispatches, d)
	}
	return dispatches, rows.Err()
}

// LatestOpenRequestFor is the correlation fallback: the most recently
// dispatched request mentioning this responder, restricted to requests
// still accepting responses.
func (r *RequestRepository) LatestOpenRequestFor(ctx context.Context, responderID uuid.UUID) (uuid.UUID, bool, error) {
	query := `
        SELECT d.request_id
        FROM request_dispatches d
        JOIN requests q ON q.id = d.request_id
        WHERE d.responder_id = $1
        AND q.status IN ('dispatched', 'collecting_responses')
        ORDER BY d.sent_at DESC
        LIMIT 1
    `
	var id uuid.UUID
	err := r.db.QueryRow(ctx, query, responderID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

func marshalNullable(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	switch t := v.(type) {
	case *model.RequestTerms:
		if t == nil {
			return nil, nil
		}
	case *model.ProposalTerms:
		if t == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}
