package collabs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/models"
)

// Filter selects collabs in FindMany and DeleteMany. Zero fields match all.
type Filter struct {
	Statuses      []models.CollabStatus
	Type          models.CollabType
	CreatorID     uuid.UUID
	ParticipantID uuid.UUID // creator or any partner slot
	EndedBefore   *time.Time
	Limit         int
}

// Store persists collab documents.
//
// Update and Delete are conditional on the caller's Version: a concurrent
// writer bumps the version, so the loser receives ErrConflict and must re-read.
// A missing document is also reported as ErrConflict.
// Insert and Update return ErrActiveCollabExists when the creator already owns
// another active collab.
type Store interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Collab, error)
	FindMany(ctx context.Context, f Filter) ([]models.Collab, error)
	Insert(ctx context.Context, c *models.Collab) error
	Update(ctx context.Context, c *models.Collab) error
	Delete(ctx context.Context, id uuid.UUID, version int64) error
	DeleteMany(ctx context.Context, f Filter) (int64, error)
}

// Matches reports whether c satisfies f. Used by the memory store and tests.
func (f Filter) Matches(c *models.Collab) bool {
	if len(f.Statuses) > 0 && !hasStatus(f.Statuses, c.Status) {
		return false
	}
	if f.Type != "" && c.Type != f.Type {
		return false
	}
	if f.CreatorID != uuid.Nil && c.CreatorID != f.CreatorID {
		return false
	}
	if f.ParticipantID != uuid.Nil && !isParticipant(c, f.ParticipantID) {
		return false
	}
	if f.EndedBefore != nil && (c.EndedAt == nil || !c.EndedAt.Before(*f.EndedBefore)) {
		return false
	}
	return true
}

func hasStatus(list []models.CollabStatus, s models.CollabStatus) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func isParticipant(c *models.Collab, userID uuid.UUID) bool {
	for _, id := range c.Participants() {
		if id == userID {
			return true
		}
	}
	return false
}

func statusStrings(list []models.CollabStatus) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}

func participantStrings(c *models.Collab) []string {
	ids := c.Participants()
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func encodeDoc(c *models.Collab) ([]byte, error) {
	return json.Marshal(c)
}

func decodeDoc(raw []byte) (*models.Collab, error) {
	var c models.Collab
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
