package collabs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/models"
)

// SQLiteStore is the single-node Store backed by modernc.org/sqlite. It keeps
// the same document-plus-projection layout as Repository; timestamps in the
// projection columns are unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a collab store over an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// FindByID returns a collab by ID.
func (s *SQLiteStore) FindByID(ctx context.Context, id uuid.UUID) (*models.Collab, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM collabs WHERE id = ?`, id.String()).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeDoc([]byte(raw))
}

// FindMany returns collabs matching f, newest first.
func (s *SQLiteStore) FindMany(ctx context.Context, f Filter) ([]models.Collab, error) {
	where, args := sqliteWhere(f)
	q := `SELECT doc FROM collabs` + where + ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Collab
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		c, err := decodeDoc([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("decode collab: %w", err)
		}
		list = append(list, *c)
	}
	return list, rows.Err()
}

// Insert stores a new collab with version 1.
func (s *SQLiteStore) Insert(ctx context.Context, c *models.Collab) error {
	c.Version = 1
	raw, err := encodeDoc(c)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	participants, err := json.Marshal(participantStrings(c))
	if err != nil {
		return err
	}
	const q = `INSERT INTO collabs (id, creator_id, status, type, participants, ended_at, created_at, version, doc)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, q, c.ID.String(), c.CreatorID.String(), string(c.Status), string(c.Type),
		string(participants), unixMillis(c.EndedAt), c.CreatedAt.UnixMilli(), c.Version, string(raw))
	if isSQLiteUnique(err) {
		return ErrActiveCollabExists
	}
	return err
}

// Update writes c only if the stored version still equals c.Version.
func (s *SQLiteStore) Update(ctx context.Context, c *models.Collab) error {
	next := *c
	next.Version = c.Version + 1
	raw, err := encodeDoc(&next)
	if err != nil {
		return fmt.Errorf("encode collab: %w", err)
	}
	participants, err := json.Marshal(participantStrings(c))
	if err != nil {
		return err
	}
	const q = `UPDATE collabs SET status = ?, type = ?, participants = ?, ended_at = ?, version = ?, doc = ?
		WHERE id = ? AND version = ?`
	res, err := s.db.ExecContext(ctx, q, string(c.Status), string(c.Type), string(participants), unixMillis(c.EndedAt),
		next.Version, string(raw), c.ID.String(), c.Version)
	if err != nil {
		if isSQLiteUnique(err) {
			return ErrActiveCollabExists
		}
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	c.Version = next.Version
	return nil
}

// Delete removes a collab if its version still matches.
func (s *SQLiteStore) Delete(ctx context.Context, id uuid.UUID, version int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM collabs WHERE id = ? AND version = ?`, id.String(), version)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// DeleteMany removes every collab matching f.
func (s *SQLiteStore) DeleteMany(ctx context.Context, f Filter) (int64, error) {
	where, args := sqliteWhere(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM collabs`+where, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func sqliteWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	if len(f.Statuses) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",")
		conds = append(conds, "status IN ("+marks+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	if f.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.CreatorID != uuid.Nil {
		conds = append(conds, "creator_id = ?")
		args = append(args, f.CreatorID.String())
	}
	if f.ParticipantID != uuid.Nil {
		conds = append(conds, "EXISTS (SELECT 1 FROM json_each(collabs.participants) WHERE json_each.value = ?)")
		args = append(args, f.ParticipantID.String())
	}
	if f.EndedBefore != nil {
		conds = append(conds, "ended_at IS NOT NULL AND ended_at < ?")
		args = append(args, f.EndedBefore.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func unixMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func isSQLiteUnique(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
