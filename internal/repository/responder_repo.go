package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"procurehub/internal/model"
)

type ResponderRepository struct {
	db *pgxpool.Pool
}

func NewResponderRepository(db *pgxpool.Pool) *ResponderRepository {
	return &ResponderRepository{db: db}
}

// Create inserts a responder. Email uniqueness is case-insensitive
// (unique index on LOWER(email)).
func (r *ResponderRepository) Create(ctx context.Context, v *model.Responder) error {
	query := `
        INSERT INTO responders (id, email, name, specialization, phone, notes, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, NOW())
        RETURNING created_at
    `
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return r.db.QueryRow(ctx, query,
		v.ID, v.Email, v.Name, v.Specialization, v.Phone, v.Notes,
	).Scan(&v.CreatedAt)
}

// FindByEmail looks up a responder by email, case-folded. Returns
// (nil, nil) when no responder matches.
func (r *ResponderRepository) FindByEmail(ctx context.Context, email string) (*model.Responder, error) {
	query := `
        SELECT id, email, name, specialization, phone, notes, created_at
        FROM responders
        WHERE LOWER(email) = LOWER($1)
    `
	return r.scanOne(r.db.QueryRow(ctx, query, email))
}

// FindByID returns (nil, nil) when the responder does not exist.
func (r *ResponderRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.Responder, error) {
	query := `
        SELECT id, email, name, specialization, phone, notes, created_at
        FROM responders
        WHERE id = $1
    `
	return r.scanOne(r.db.QueryRow(ctx, query, id))
}

func (r *ResponderRepository) List(ctx context.Context) ([]model.Responder, error) {
	query := `
        SELECT id, email, name, specialization, phone, notes, created_at
        FROM responders
        ORDER BY created_at DESC
    `
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	responders := []model.Responder{}
	for rows.Next() {
		var v model.Responder
		if err := rows.Scan(&v.ID, &v.Email, &v.Name, &v.Specialization, &v.Phone, &v.Notes, &v.CreatedAt); err != nil {
			return nil, err
		}
		responders = append(responders, v)
	}
	return responders, rows.Err()
}

func (r *ResponderRepository) scanOne(row pgx.Row) (*model.Responder, error) {
	var v model.Responder
	err := row.Scan(&v.ID, &v.Email, &v.Name, &v.Specialization, &v.Phone, &v.Notes, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &v, nil
}
