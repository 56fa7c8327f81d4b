package collabs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-webinar/collab/internal/models"
)

const (
	// ValidationMaxAge is the cache age accepted when checking a link a user submits.
	ValidationMaxAge = 5 * time.Minute
	// FeaturedLimit is the number of sessions returned by Featured.
	FeaturedLimit = 6

	listLimit    = 100
	writeRetries = 3
)

// StreamProvider reports the status of external broadcasts.
type StreamProvider interface {
	// CheckStatus returns the broadcast's signal, served from cache when the
	// cached entry is younger than maxAge. A zero maxAge forces a fetch.
	CheckStatus(ctx context.Context, videoID string, maxAge time.Duration) (models.StreamSignal, error)
	ExtractID(link string) string
	IsValidURL(link string) bool
}

// Directory resolves user identities. GetByID returns ErrUserNotFound for
// unknown ids.
type Directory interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListByIDs(ctx context.Context, ids []uuid.UUID) ([]models.User, error)
}

// Reconciler refreshes one collab's signals and applies the state machine.
type Reconciler interface {
	ReconcileOne(ctx context.Context, id uuid.UUID) (*models.Collab, error)
}

// Notifier is told about every persisted change.
type Notifier interface {
	CollabChanged(ctx context.Context, c *models.Collab)
	CollabDeleted(ctx context.Context, id uuid.UUID)
}

// CreateInput is the body of a create call.
type CreateInput struct {
	Title       string
	Description string
	Type        models.CollabType
	MaxPartners int
	Link        string
}

// JoinInput is the body of requestJoin and directMatch.
type JoinInput struct {
	Link        string
	Description string
}

// ListQuery filters List. Empty fields match all.
type ListQuery struct {
	Status models.CollabStatus
	Type   models.CollabType
}

// View is a collab with creator and partner identities resolved.
type View struct {
	models.Collab
	Creator  *models.UserPublic `json:"creator"`
	Partners []PartnerView      `json:"partners"`
}

// PartnerView is one occupied slot with its user resolved.
type PartnerView struct {
	Slot int                `json:"slot"`
	User *models.UserPublic `json:"user"`
}

// WaitingView is a waiting entry with its candidate resolved.
type WaitingView struct {
	models.WaitingEntry
	User *models.UserPublic `json:"user"`
}

type noopNotifier struct{}

func (noopNotifier) CollabChanged(context.Context, *models.Collab) {}
func (noopNotifier) CollabDeleted(context.Context, uuid.UUID)      {}

// Service implements the matchmaking operations over a Store.
type Service struct {
	store      Store
	provider   StreamProvider
	directory  Directory
	reconciler Reconciler
	notifier   Notifier
	logger     *zap.Logger
	now        func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// NewService creates the matchmaking service.
func NewService(store Store, provider StreamProvider, directory Directory, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		store:     store,
		provider:  provider,
		directory: directory,
		notifier:  noopNotifier{},
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetReconciler wires the reconciler used after membership changes and by
// RefreshSignals. The reconciler itself depends on the store, so it is set
// after construction.
func (s *Service) SetReconciler(r Reconciler) {
	s.reconciler = r
}

// Create opens a new collab for creatorID.
func (s *Service) Create(ctx context.Context, creatorID uuid.UUID, in CreateInput) (*View, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	in.Link = strings.TrimSpace(in.Link)
	if in.Title == "" || in.Link == "" {
		return nil, invalidf("title and link are required")
	}
	if !in.Type.Valid() {
		return nil, invalidf("unknown collab type %q", in.Type)
	}
	if in.MaxPartners < 1 || in.MaxPartners > 2 {
		return nil, invalidf("max partners must be 1 or 2")
	}
	if err := s.requireChannels(ctx, creatorID); err != nil {
		return nil, err
	}
	active, err := s.store.FindMany(ctx, Filter{CreatorID: creatorID, Statuses: models.ActiveStatuses, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find active collab: %w", err)
	}
	if len(active) > 0 {
		return nil, ErrActiveCollabExists
	}
	_, signal, err := s.probeWaitingRoom(ctx, in.Link)
	if err != nil {
		return nil, err
	}

	now := s.now()
	c := &models.Collab{
		ID:              uuid.New(),
		CreatorID:       creatorID,
		Title:           in.Title,
		Description:     in.Description,
		Type:            in.Type,
		MaxPartners:     in.MaxPartners,
		Status:          models.CollabOpen,
		CreatorLink:     in.Link,
		CreatorSignal:   signal,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastStatusCheck: &now,
	}
	c.SetTimeRemaining(now)
	if err := s.store.Insert(ctx, c); err != nil {
		return nil, fmt.Errorf("insert collab: %w", err)
	}
	s.logger.Info("collab created",
		zap.String("collab_id", c.ID.String()),
		zap.String("creator_id", creatorID.String()),
		zap.Int("max_partners", c.MaxPartners),
	)
	s.notifier.CollabChanged(ctx, c)
	return s.view(ctx, c)
}

// List returns collabs filtered by status and type, newest first.
func (s *Service) List(ctx context.Context, q ListQuery) ([]View, error) {
	f := Filter{Type: q.Type, Limit: listLimit}
	if q.Status != "" {
		if !q.Status.Valid() {
			return nil, invalidf("unknown status %q", q.Status)
		}
		f.Statuses = []models.CollabStatus{q.Status}
	}
	if q.Type != "" && !q.Type.Valid() {
		return nil, invalidf("unknown collab type %q", q.Type)
	}
	list, err := s.store.FindMany(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list collabs: %w", err)
	}
	return s.views(ctx, list)
}

// Featured returns the in-progress collabs with the most live viewers.
func (s *Service) Featured(ctx context.Context) ([]View, error) {
	list, err := s.store.FindMany(ctx, Filter{Statuses: []models.CollabStatus{models.CollabInProgress}})
	if err != nil {
		return nil, fmt.Errorf("list live collabs: %w", err)
	}
	sort.SliceStable(list, func(i, j int) bool {
		vi, vj := list[i].LiveViewers(), list[j].LiveViewers()
		if vi != vj {
			return vi > vj
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
	if len(list) > FeaturedLimit {
		list = list[:FeaturedLimit]
	}
	return s.views(ctx, list)
}

// Get returns one collab.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*View, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// ListByUser returns every collab userID created or joined.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]View, error) {
	if _, err := s.directory.GetByID(ctx, userID); err != nil {
		return nil, err
	}
	list, err := s.store.FindMany(ctx, Filter{ParticipantID: userID, Limit: listLimit})
	if err != nil {
		return nil, fmt.Errorf("list user collabs: %w", err)
	}
	return s.views(ctx, list)
}

// MyActive returns the caller's active collab as creator, or nil.
func (s *Service) MyActive(ctx context.Context, userID uuid.UUID) (*View, error) {
	list, err := s.store.FindMany(ctx, Filter{CreatorID: userID, Statuses: models.ActiveStatuses, Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find active collab: %w", err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return s.view(ctx, &list[0])
}

// RequestJoin queues candidateID on the collab's waiting list.
func (s *Service) RequestJoin(ctx context.Context, collabID, candidateID uuid.UUID, in JoinInput) (*models.WaitingEntry, error) {
	in.Link = strings.TrimSpace(in.Link)
	if in.Link == "" {
		return nil, invalidf("link is required")
	}
	c, err := s.store.FindByID(ctx, collabID)
	if err != nil {
		return nil, err
	}
	if err := s.checkJoinable(c); err != nil {
		return nil, err
	}
	if err := CheckCanQueue(c, candidateID); err != nil {
		return nil, err
	}
	if IsFull(c) {
		return nil, ErrSessionFull
	}
	videoID, signal, err := s.probeWaitingRoom(ctx, in.Link)
	if err != nil {
		return nil, err
	}
	if videoID == s.provider.ExtractID(c.CreatorLink) {
		return nil, ErrSameBroadcast
	}

	creatorStart := c.CreatorSignal.ScheduledStartTime
	if creatorStart == nil {
		creatorStart = s.refreshCreatorSchedule(ctx, c)
	}
	if err := CheckSchedule(creatorStart, signal.ScheduledStartTime); err != nil {
		return nil, err
	}

	var entry models.WaitingEntry
	saved, err := s.mutate(ctx, collabID, func(c *models.Collab) (bool, error) {
		if err := s.checkJoinable(c); err != nil {
			return false, err
		}
		if IsFull(c) {
			return false, ErrSessionFull
		}
		e, err := Enqueue(c, candidateID, in.Link, strings.TrimSpace(in.Description), s.now())
		if err != nil {
			return false, err
		}
		entry = e
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("join requested",
		zap.String("collab_id", collabID.String()),
		zap.String("user_id", candidateID.String()),
		zap.Int("waiting", len(saved.WaitingList)),
	)
	s.notifier.CollabChanged(ctx, saved)
	return &entry, nil
}

// ListWaiting returns the waiting list. Creator only.
func (s *Service) ListWaiting(ctx context.Context, collabID, requester uuid.UUID) ([]WaitingView, error) {
	c, err := s.store.FindByID(ctx, collabID)
	if err != nil {
		return nil, err
	}
	if c.CreatorID != requester {
		return nil, ErrForbidden
	}
	ids := make([]uuid.UUID, 0, len(c.WaitingList))
	for _, w := range c.WaitingList {
		ids = append(ids, w.UserID)
	}
	users, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]WaitingView, 0, len(c.WaitingList))
	for _, w := range c.WaitingList {
		out = append(out, WaitingView{WaitingEntry: w, User: users[w.UserID]})
	}
	return out, nil
}

// AcceptWaiting moves a waiting entry into the next free slot. Creator only.
func (s *Service) AcceptWaiting(ctx context.Context, collabID, requester, entryID uuid.UUID) (*View, error) {
	var slot int
	saved, err := s.mutate(ctx, collabID, func(c *models.Collab) (bool, error) {
		if c.CreatorID != requester {
			return false, ErrForbidden
		}
		if err := s.checkMutable(c); err != nil {
			return false, err
		}
		hadEntries := len(c.WaitingList) > 0
		n, err := AcceptEntry(c, entryID, s.now())
		if errors.Is(err, ErrSessionFull) {
			return hadEntries, err
		}
		if err != nil {
			return false, err
		}
		slot = n
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("waiting entry accepted",
		zap.String("collab_id", collabID.String()),
		zap.String("entry_id", entryID.String()),
		zap.Int("slot", slot),
	)
	s.notifier.CollabChanged(ctx, saved)
	return s.view(ctx, s.reconcileAfterJoin(ctx, saved))
}

// RejectWaiting drops a waiting entry. Creator only.
func (s *Service) RejectWaiting(ctx context.Context, collabID, requester, entryID uuid.UUID) error {
	saved, err := s.mutate(ctx, collabID, func(c *models.Collab) (bool, error) {
		if c.CreatorID != requester {
			return false, ErrForbidden
		}
		if err := s.checkMutable(c); err != nil {
			return false, err
		}
		if _, err := RejectEntry(c, entryID); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	s.notifier.CollabChanged(ctx, saved)
	return nil
}

// DirectMatch places candidateID straight into the next free slot, skipping
// the waiting list and the schedule check.
func (s *Service) DirectMatch(ctx context.Context, collabID, candidateID uuid.UUID, in JoinInput) (*View, error) {
	in.Link = strings.TrimSpace(in.Link)
	in.Description = strings.TrimSpace(in.Description)
	if in.Link == "" {
		return nil, invalidf("link is required")
	}
	if err := s.requireChannels(ctx, candidateID); err != nil {
		return nil, err
	}
	c, err := s.store.FindByID(ctx, collabID)
	if err != nil {
		return nil, err
	}
	if err := s.checkMatchable(c, candidateID); err != nil {
		return nil, err
	}
	videoID, signal, err := s.probeWaitingRoom(ctx, in.Link)
	if err != nil {
		return nil, err
	}
	if videoID == s.provider.ExtractID(c.CreatorLink) {
		return nil, ErrSameBroadcast
	}

	var slot int
	saved, err := s.mutate(ctx, collabID, func(c *models.Collab) (bool, error) {
		if err := s.checkMatchable(c, candidateID); err != nil {
			return false, err
		}
		n, ok := NextFreeSlot(c)
		if !ok {
			return false, ErrSessionFull
		}
		now := s.now()
		if err := AssignSlot(c, n, candidateID, in.Link, in.Description, now); err != nil {
			return false, err
		}
		sig := signal
		c.Slots[n-1].Signal = &sig
		dropPending(c, candidateID)
		if IsFull(c) {
			c.WaitingList = nil
		}
		slot = n
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("partner matched",
		zap.String("collab_id", collabID.String()),
		zap.String("user_id", candidateID.String()),
		zap.Int("slot", slot),
	)
	s.notifier.CollabChanged(ctx, saved)
	return s.view(ctx, s.reconcileAfterJoin(ctx, saved))
}

// Delete removes an open collab. Creator only.
func (s *Service) Delete(ctx context.Context, collabID, requester uuid.UUID) error {
	c, err := s.store.FindByID(ctx, collabID)
	if err != nil {
		return err
	}
	if c.CreatorID != requester {
		return ErrForbidden
	}
	if err := s.checkMutable(c); err != nil {
		return err
	}
	if c.Status != models.CollabOpen {
		return ErrNotOpen
	}
	if err := s.store.Delete(ctx, c.ID, c.Version); err != nil {
		return err
	}
	s.logger.Info("collab deleted", zap.String("collab_id", collabID.String()))
	s.notifier.CollabDeleted(ctx, collabID)
	return nil
}

// RefreshSignals forces a fresh reconciliation of one collab.
func (s *Service) RefreshSignals(ctx context.Context, collabID uuid.UUID) (*View, error) {
	if s.reconciler == nil {
		return nil, errors.New("refresh signals: no reconciler configured")
	}
	c, err := s.reconciler.ReconcileOne(ctx, collabID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, c)
}

// mutate loads the collab, applies fn and writes it back, re-reading and
// re-applying on version conflicts. fn returns whether its changes must be
// saved; a save happens even when fn also returns an error.
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(c *models.Collab) (bool, error)) (*models.Collab, error) {
	for attempt := 0; ; attempt++ {
		c, err := s.store.FindByID(ctx, id)
		if err != nil {
			return nil, err
		}
		save, fnErr := fn(c)
		if !save {
			return c, fnErr
		}
		c.UpdatedAt = s.now()
		err = s.store.Update(ctx, c)
		if errors.Is(err, ErrConflict) && attempt < writeRetries-1 {
			continue
		}
		if err != nil {
			return nil, err
		}
		return c, fnErr
	}
}

func (s *Service) requireChannels(ctx context.Context, userID uuid.UUID) error {
	u, err := s.directory.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if !u.HasVerifiedChannels() {
		return ErrMissingChannels
	}
	return nil
}

// probeWaitingRoom validates link and checks that it resolves to a broadcast
// that has not started yet.
func (s *Service) probeWaitingRoom(ctx context.Context, link string) (string, models.StreamSignal, error) {
	if !s.provider.IsValidURL(link) {
		return "", models.StreamSignal{}, ErrInvalidLink
	}
	videoID := s.provider.ExtractID(link)
	if videoID == "" {
		return "", models.StreamSignal{}, ErrInvalidLink
	}
	signal, err := s.provider.CheckStatus(ctx, videoID, ValidationMaxAge)
	if err != nil {
		s.logger.Warn("stream check failed", zap.String("video_id", videoID), zap.Error(err))
		return "", models.StreamSignal{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if !signal.IsValid || !signal.IsWaitingRoom {
		return "", models.StreamSignal{}, ErrInvalidStream
	}
	return videoID, signal, nil
}

// refreshCreatorSchedule re-fetches the creator's signal once and persists it.
func (s *Service) refreshCreatorSchedule(ctx context.Context, c *models.Collab) *time.Time {
	videoID := s.provider.ExtractID(c.CreatorLink)
	if videoID == "" {
		return nil
	}
	signal, err := s.provider.CheckStatus(ctx, videoID, 0)
	if err != nil {
		s.logger.Warn("creator schedule refresh failed", zap.String("collab_id", c.ID.String()), zap.Error(err))
		return nil
	}
	if signal.ScheduledStartTime == nil {
		return nil
	}
	_, err = s.mutate(ctx, c.ID, func(fresh *models.Collab) (bool, error) {
		if fresh.Status.Terminal() {
			return false, nil
		}
		fresh.CreatorSignal = signal
		fresh.SetTimeRemaining(s.now())
		return true, nil
	})
	if err != nil {
		s.logger.Warn("persist creator schedule failed", zap.String("collab_id", c.ID.String()), zap.Error(err))
	}
	return signal.ScheduledStartTime
}

func (s *Service) reconcileAfterJoin(ctx context.Context, c *models.Collab) *models.Collab {
	if s.reconciler == nil {
		return c
	}
	fresh, err := s.reconciler.ReconcileOne(ctx, c.ID)
	if err != nil {
		s.logger.Warn("immediate reconcile failed", zap.String("collab_id", c.ID.String()), zap.Error(err))
		return c
	}
	return fresh
}

func (s *Service) checkMutable(c *models.Collab) error {
	if c.Status.Terminal() {
		s.logger.Warn("mutation rejected on terminal collab",
			zap.String("collab_id", c.ID.String()),
			zap.String("status", string(c.Status)),
		)
		return ErrTerminal
	}
	return nil
}

func (s *Service) checkJoinable(c *models.Collab) error {
	if err := s.checkMutable(c); err != nil {
		return err
	}
	if c.Status != models.CollabOpen {
		return ErrNotOpen
	}
	return nil
}

func (s *Service) checkMatchable(c *models.Collab, candidateID uuid.UUID) error {
	if err := s.checkJoinable(c); err != nil {
		return err
	}
	if candidateID == c.CreatorID {
		return ErrSelfJoin
	}
	if SlotOf(c, candidateID) != 0 {
		return ErrAlreadyPartner
	}
	if IsFull(c) {
		return ErrSessionFull
	}
	return nil
}

func (s *Service) view(ctx context.Context, c *models.Collab) (*View, error) {
	users, err := s.resolve(ctx, c.Participants())
	if err != nil {
		return nil, err
	}
	v := buildView(c, users)
	return &v, nil
}

func (s *Service) views(ctx context.Context, list []models.Collab) ([]View, error) {
	var ids []uuid.UUID
	for i := range list {
		ids = append(ids, list[i].Participants()...)
	}
	users, err := s.resolve(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]View, 0, len(list))
	for i := range list {
		out = append(out, buildView(&list[i], users))
	}
	return out, nil
}

func (s *Service) resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*models.UserPublic, error) {
	out := make(map[uuid.UUID]*models.UserPublic)
	if len(ids) == 0 {
		return out, nil
	}
	seen := make(map[uuid.UUID]bool, len(ids))
	uniq := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	users, err := s.directory.ListByIDs(ctx, uniq)
	if err != nil {
		return nil, fmt.Errorf("resolve users: %w", err)
	}
	for i := range users {
		p := users[i].ToPublic()
		out[p.ID] = &p
	}
	return out, nil
}

func buildView(c *models.Collab, users map[uuid.UUID]*models.UserPublic) View {
	v := View{Collab: *c, Creator: users[c.CreatorID], Partners: []PartnerView{}}
	for i, slot := range c.Slots {
		if slot != nil {
			v.Partners = append(v.Partners, PartnerView{Slot: i + 1, User: users[slot.UserID]})
		}
	}
	return v
}
