package users

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
)

// SQLiteRepository is the user directory for single-node deployments.
// Timestamps are stored as unix milliseconds.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a user repository over an open SQLite handle.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

const sqliteUserColumns = `id, username, avatar, youtube, facebook, created_at, updated_at`

// GetByID returns a user or collabs.ErrUserNotFound.
func (r *SQLiteRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id.String())
	u, err := scanSQLiteUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, collabs.ErrUserNotFound
	}
	return u, err
}

// ListByIDs returns the users among ids that exist.
func (r *SQLiteRepository) ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id.String()
	}
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id IN (`+marks+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.User
	for rows.Next() {
		u, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *u)
	}
	return list, rows.Err()
}

// Upsert inserts or refreshes a profile.
func (r *SQLiteRepository) Upsert(ctx context.Context, u *models.User) error {
	now := r.now().UTC().Truncate(time.Millisecond)
	const q = `INSERT INTO users (id, username, avatar, youtube, facebook, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET username = excluded.username, avatar = excluded.avatar,
			youtube = excluded.youtube, facebook = excluded.facebook, updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, q, u.ID.String(), u.Username, u.Avatar, u.YouTube, u.Facebook, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return err
	}
	stored, err := r.GetByID(ctx, u.ID)
	if err != nil {
		return err
	}
	u.CreatedAt, u.UpdatedAt = stored.CreatedAt, stored.UpdatedAt
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*models.User, error) {
	var (
		u                models.User
		id               string
		created, updated int64
	)
	if err := row.Scan(&id, &u.Username, &u.Avatar, &u.YouTube, &u.Facebook, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, err
	}
	u.ID = parsed
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return &u, nil
}
