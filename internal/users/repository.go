package users

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
)

// Repository is the PostgreSQL user directory. Profiles are owned by the
// identity service and synced in with Upsert.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a user repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID returns a user or collabs.ErrUserNotFound.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	const q = `SELECT id, username, avatar, youtube, facebook, created_at, updated_at FROM users WHERE id = $1`
	var u models.User
	err := r.pool.QueryRow(ctx, q, id).Scan(&u.ID, &u.Username, &u.Avatar, &u.YouTube, &u.Facebook, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, collabs.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// ListByIDs returns the users among ids that exist, in no particular order.
func (r *Repository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT id, username, avatar, youtube, facebook, created_at, updated_at FROM users WHERE id = ANY($1)`
	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Avatar, &u.YouTube, &u.Facebook, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// Upsert inserts or refreshes a profile.
func (r *Repository) Upsert(ctx context.Context, u *models.User) error {
	const q = `INSERT INTO users (id, username, avatar, youtube, facebook)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, avatar = EXCLUDED.avatar,
			youtube = EXCLUDED.youtube, facebook = EXCLUDED.facebook, updated_at = NOW()
		RETURNING created_at, updated_at`
	return r.pool.QueryRow(ctx, q, u.ID, u.Username, u.Avatar, u.YouTube, u.Facebook).Scan(&u.CreatedAt, &u.UpdatedAt)
}
