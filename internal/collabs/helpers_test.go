package collabs_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
	"github.com/aura-webinar/collab/internal/streams"
	"github.com/aura-webinar/collab/internal/users"
)

var baseTime = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func link(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

func waitingSignal(start time.Time) models.StreamSignal {
	return models.StreamSignal{IsValid: true, IsWaitingRoom: true, ScheduledStartTime: &start}
}

func liveSignal(views int64) models.StreamSignal {
	return models.StreamSignal{IsValid: true, IsLive: true, ViewCount: views}
}

func endedSignal() models.StreamSignal {
	return models.StreamSignal{IsValid: true}
}

// fakeProvider serves signals from a map. Unknown ids resolve to an invalid
// signal, like a deleted video.
type fakeProvider struct {
	mu      sync.Mutex
	signals map[string]models.StreamSignal
	errs    map[string]error
	calls   map[string]int
	maxAges []time.Duration
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		signals: make(map[string]models.StreamSignal),
		errs:    make(map[string]error),
		calls:   make(map[string]int),
	}
}

func (p *fakeProvider) set(videoID string, s models.StreamSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signals[videoID] = s
	delete(p.errs, videoID)
}

func (p *fakeProvider) fail(videoID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[videoID] = err
}

func (p *fakeProvider) callsFor(videoID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[videoID]
}

func (p *fakeProvider) CheckStatus(_ context.Context, videoID string, maxAge time.Duration) (models.StreamSignal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls[videoID]++
	p.maxAges = append(p.maxAges, maxAge)
	if err := p.errs[videoID]; err != nil {
		return models.StreamSignal{}, fmt.Errorf("%w: %v", streams.ErrUnavailable, err)
	}
	return p.signals[videoID], nil
}

func (p *fakeProvider) ExtractID(l string) string { return streams.ExtractID(l) }
func (p *fakeProvider) IsValidURL(l string) bool  { return streams.IsValidURL(l) }

type recordingNotifier struct {
	mu      sync.Mutex
	changed []uuid.UUID
	deleted []uuid.UUID
}

func (n *recordingNotifier) CollabChanged(_ context.Context, c *models.Collab) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changed = append(n.changed, c.ID)
}

func (n *recordingNotifier) CollabDeleted(_ context.Context, id uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, id)
}

type fixture struct {
	svc      *collabs.Service
	store    *collabs.MemoryStore
	provider *fakeProvider
	users    *users.MemoryRepository
	notifier *recordingNotifier
	now      time.Time

	creator uuid.UUID
	alice   uuid.UUID
	bob     uuid.UUID
	start   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    collabs.NewMemoryStore(),
		provider: newFakeProvider(),
		users:    users.NewMemoryRepository(),
		notifier: &recordingNotifier{},
		now:      baseTime,
		creator:  uuid.New(),
		alice:    uuid.New(),
		bob:      uuid.New(),
	}
	f.start = baseTime.Add(30 * time.Minute)
	f.svc = collabs.NewService(f.store, f.provider, f.users, nil,
		collabs.WithClock(func() time.Time { return f.now }),
		collabs.WithNotifier(f.notifier),
	)
	f.addUser(t, f.creator, "host", true)
	f.addUser(t, f.alice, "alice", true)
	f.addUser(t, f.bob, "bob", true)

	f.provider.set("creatorVid1", waitingSignal(f.start))
	f.provider.set("aliceVideo1", waitingSignal(f.start.Add(2*time.Minute)))
	f.provider.set("bobVideo001", waitingSignal(f.start.Add(-3*time.Minute)))
	return f
}

func (f *fixture) addUser(t *testing.T, id uuid.UUID, name string, channels bool) {
	t.Helper()
	u := &models.User{ID: id, Username: name}
	if channels {
		u.YouTube = "https://youtube.com/@" + name
		u.Facebook = "https://facebook.com/" + name
	}
	require.NoError(t, f.users.Upsert(context.Background(), u))
}

func (f *fixture) create(t *testing.T, maxPartners int) *collabs.View {
	t.Helper()
	v, err := f.svc.Create(context.Background(), f.creator, collabs.CreateInput{
		Title:       "Friday night co-op",
		Type:        models.TypeGaming,
		MaxPartners: maxPartners,
		Link:        link("creatorVid1"),
	})
	require.NoError(t, err)
	return v
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *models.Collab {
	t.Helper()
	c, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return c
}

func (f *fixture) setStatus(t *testing.T, id uuid.UUID, status models.CollabStatus) {
	t.Helper()
	c := f.load(t, id)
	c.Status = status
	if status.Terminal() {
		ended := f.now
		c.EndedAt = &ended
	}
	require.NoError(t, f.store.Update(context.Background(), c))
}
