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

type ProposalRepository struct {
	db *pgxpool.Pool
}

func NewProposalRepository(db *pgxpool.Pool) *ProposalRepository {
	return &ProposalRepository{db: db}
}

const proposalColumns = `
    id, request_id, responder_id, raw_from, raw_subject, raw_body, attachments,
    terms, confidence, requires_review, status, received_at, parsed_at
`

// CreateIfAbsent is the idempotency gate for the whole inbound pipeline.
// The unique index on (request_id, responder_id) plus ON CONFLICT DO
// NOTHING makes the insert atomic: at-least-once delivery and concurrent
// pollers cannot produce two records for the same pair. Returns the
// stored proposal and whether this call inserted it.
func (r *ProposalRepository) CreateIfAbsent(ctx context.Context, p *model.Proposal) (*model.Proposal, bool, error) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = model.ProposalStatusReceived
	}
	if p.ReceivedAt.IsZero() {
		p.ReceivedAt = time.Now()
	}

	query := `
        INSERT INTO proposals (id, request_id, responder_id, raw_from, raw_subject, raw_body, attachments, requires_review, status, received_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        ON CONFLICT (request_id, responder_id) DO NOTHING
        RETURNING id
    `
	var insertedID uuid.UUID
	err := r.db.QueryRow(ctx, query,
		p.ID, p.RequestID, p.ResponderID,
		p.RawFrom, p.RawSubject, p.RawBody, p.Attachments,
		p.RequiresReview, p.Status, p.ReceivedAt,
	).Scan(&insertedID)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}

	// 冲突：记录已存在，返回现有记录
	existing, err := r.FindByPair(ctx, p.RequestID, p.ResponderID)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("proposal conflict but existing record not found for request %s responder %s", p.RequestID, p.ResponderID)
	}
	return existing, false, nil
}

func (r *ProposalRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

// FindByPair returns (nil, nil) when no proposal exists for the pair.
func (r *ProposalRepository) FindByPair(ctx context.Context, requestID, responderID uuid.UUID) (*model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE request_id = $1 AND responder_id = $2`
	return r.scanOne(r.db.QueryRow(ctx, query, requestID, responderID))
}

func (r *ProposalRepository) ListByRequest(ctx context.Context, requestID uuid.UUID) ([]model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE request_id = $1 ORDER BY received_at ASC`
	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	proposals := []model.Proposal{}
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, *p)
	}
	return proposals, rows.Err()
}

// SetParsed stores a successful extraction: terms, confidence, review
// flag, status parsed, parsed timestamp. Whole-field overwrite, safe to
// re-run.
func (r *ProposalRepository) SetParsed(ctx context.Context, id uuid.UUID, terms *model.ProposalTerms, confidence float64, requiresReview bool, parsedAt time.Time) error {
	termsJSON, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("marshal terms: %w", err)
	}
	query := `
        UPDATE proposals
        SET terms = $1, confidence = $2, requires_review = $3, status = $4, parsed_at = $5
        WHERE id = $6
    `
	_, err = r.db.Exec(ctx, query, termsJSON, confidence, requiresReview, model.ProposalStatusParsed, parsedAt, id)
	return err
}

// MarkReviewRequired flags a proposal after a failed parse attempt. The
// record stays in received; there is no failed state.
func (r *ProposalRepository) MarkReviewRequired(ctx context.Context, id uuid.UUID) error {
	query := `UPDATE proposals SET requires_review = TRUE WHERE id = $1`
	_, err := r.db.Exec(ctx, query, id)
	return err
}

// MarkReviewed is the explicit human action moving parsed -> reviewed.
func (r *ProposalRepository) MarkReviewed(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
        UPDATE proposals
        SET status = $1
        WHERE id = $2 AND status = $3
    `
	tag, err := r.db.Exec(ctx, query, model.ProposalStatusReviewed, id, model.ProposalStatusParsed)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *ProposalRepository) scanOne(row pgx.Row) (*model.Proposal, error) {
	p, err := r.scanRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return p, nil
}

func (r *ProposalRepository) scanRow(row pgx.Row) (*model.Proposal, error) {
	var (
		p         model.Proposal
		termsJSON []byte
	)
	err := row.Scan(
		&p.ID,
		&p.RequestID,
		&p.ResponderID,
		&p.RawFrom,
		&p.RawSubject,
		&p.RawBody,
		&p.Attachments,
		&termsJSON,
		&p.Confidence,
		&p.RequiresReview,
		&p.Status,
		&p.ReceivedAt,
		&p.ParsedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(termsJSON) > 0 {
		var terms model.ProposalTerms
		if err := json.Unmarshal(termsJSON, &terms); err != nil {
			return nil, fmt.Errorf("unmarshal terms: %w", err)
		}
		p.Terms = &terms
	}
	return &p, nil
}
