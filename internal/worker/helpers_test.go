package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
	"github.com/aura-webinar/collab/internal/streams"
)

var baseTime = time.Date(2026, 5, 2, 20, 0, 0, 0, time.UTC)

func link(videoID string) string { return "https://youtu.be/" + videoID }

func waiting(start time.Time) models.StreamSignal {
	return models.StreamSignal{IsValid: true, IsWaitingRoom: true, ScheduledStartTime: &start}
}

func live(views int64) models.StreamSignal {
	return models.StreamSignal{IsValid: true, IsLive: true, ViewCount: views}
}

func finished(views, likes, comments int64) models.StreamSignal {
	return models.StreamSignal{IsValid: true, ViewCount: views, LikeCount: likes, CommentCount: comments}
}

type fakeProvider struct {
	mu      sync.Mutex
	signals map[string]models.StreamSignal
	failing map[string]bool
	maxAges map[string][]time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		signals: make(map[string]models.StreamSignal),
		failing: make(map[string]bool),
		maxAges: make(map[string][]time.Duration),
	}
}

func (p *fakeProvider) set(videoID string, s models.StreamSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals[videoID] = s
}

func (p *fakeProvider) fail(videoID string, failing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failing[videoID] = failing
}

func (p *fakeProvider) ages(videoID string) []time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]time.Duration(nil), p.maxAges[videoID]...)
}

func (p *fakeProvider) CheckStatus(_ context.Context, videoID string, maxAge time.Duration) (models.StreamSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.maxAges[videoID] = append(p.maxAges[videoID], maxAge)
	if p.failing[videoID] {
		return models.StreamSignal{}, fmt.Errorf("%w: %s: %v", streams.ErrUnavailable, videoID, errors.New("timeout"))
	}
	return p.signals[videoID], nil
}

func (p *fakeProvider) ExtractID(l string) string { return streams.ExtractID(l) }
func (p *fakeProvider) IsValidURL(l string) bool  { return streams.IsValidURL(l) }

type countingNotifier struct {
	mu      sync.Mutex
	changed map[uuid.UUID]int
}

func (n *countingNotifier) CollabChanged(_ context.Context, c *models.Collab) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.changed == nil {
		n.changed = make(map[uuid.UUID]int)
	}
	n.changed[c.ID]++
}

func (n *countingNotifier) CollabDeleted(context.Context, uuid.UUID) {}

func (n *countingNotifier) count(id uuid.UUID) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.changed[id]
}

// collab builds an active collab whose creator broadcasts on creatorVideo.
// Each partner video fills the next slot.
func collab(status models.CollabStatus, maxPartners int, creatorVideo string, partnerVideos ...string) *models.Collab {
	c := &models.Collab{
		ID:          uuid.New(),
		CreatorID:   uuid.New(),
		Title:       "collab",
		Type:        models.TypeRegular,
		MaxPartners: maxPartners,
		Status:      status,
		CreatorLink: link(creatorVideo),
		CreatedAt:   baseTime.Add(-time.Hour),
		UpdatedAt:   baseTime.Add(-time.Hour),
	}
	for i, v := range partnerVideos {
		c.Slots[i] = &models.PartnerSlot{UserID: uuid.New(), Link: link(v), JoinedAt: c.CreatedAt}
	}
	return c
}

// conflictingStore fails the first failures updates with ErrConflict.
type conflictingStore struct {
	*collabs.MemoryStore
	mu       sync.Mutex
	failures int
	updates  int
}

func (s *conflictingStore) Update(ctx context.Context, c *models.Collab) error {
	s.mu.Lock()
	s.updates++
	fail := s.failures > 0
	if fail {
		s.failures--
	}
	s.mu.Unlock()
	if fail {
		return collabs.ErrConflict
	}
	return s.MemoryStore.Update(ctx, c)
}
