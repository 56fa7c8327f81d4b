package collabs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-webinar/collab/internal/models"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Repository is the PostgreSQL Store. The collab document lives in a JSONB
// column; status, creator, type, participants and ended_at are projected into
// indexed columns for filtering.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a collab repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID returns a collab by ID.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Collab, error) {
	const q = `SELECT doc FROM collabs WHERE id = $1`
	var raw []byte
	err := r.pool.QueryRow(ctx, q, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeDoc(raw)
}

// FindMany returns collabs matching f, newest first.
func (r *Repository) FindMany(ctx context.Context, f Filter) ([]models.Collab, error) {
	where, args := pgWhere(f)
	q := `SELECT doc FROM collabs` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Collab
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		c, err := decodeDoc(raw)
		if err != nil {
			return nil, fmt.Errorf("decode collab: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Insert stores a new collab with version 1.
func (r *Repository) Insert(ctx context.Context, c *models.Collab) error {
	c.Version = 1
	raw, err := encodeDoc(c)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	const q = `INSERT INTO collabs (id, creator_id, status, type, participants, ended_at, created_at, version, doc)
		VALUES ($1, $2, $3, $4, $5::uuid[], $6, $7, $8, $9::jsonb)`
	_, err = r.pool.Exec(ctx, q, c.ID, c.CreatorID, string(c.Status), string(c.Type), c.Participants(), c.EndedAt, c.CreatedAt, c.Version, raw)
	if isUniqueViolation(err) {
		return ErrActiveCollabExists
	}
	return err
}

// Update writes c only if the stored version still equals c.Version.
func (r *Repository) Update(ctx context.Context, c *models.Collab) error {
	next := *c
	next.Version = c.Version + 1
	raw, err := encodeDoc(&next)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	const q = `UPDATE collabs SET status = $2, type = $3, participants = $4::uuid[], ended_at = $5, version = $6, doc = $7::jsonb
		WHERE id = $1 AND version = $8`
	tag, err := r.pool.Exec(ctx, q, c.ID, string(c.Status), string(c.Type), c.Participants(), c.EndedAt, next.Version, raw, c.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrActiveCollabExists
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	c.Version = next.Version
	return nil
}

// Delete removes a collab if its version still matches.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	const q = `DELETE FROM collabs WHERE id = $1 AND version = $2`
	tag, err := r.pool.Exec(ctx, q, id, version)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteMany removes every collab matching f.
func (r *Repository) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	where, args := pgWhere(f)
	tag, err := r.pool.Exec(ctx, `DELETE FROM collabs`+where, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func pgWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if len(f.Statuses) > 0 {
		add("status = ANY($%d)", statusStrings(f.Statuses))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.CreatorID != uuid.Nil {
		add("creator_id = $%d", f.CreatorID)
	}
	if f.ParticipantID != uuid.Nil {
		add("$%d = ANY(participants)", f.ParticipantID)
	}
	if f.EndedBefore != nil {
		add("ended_at < $%d", *f.EndedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
