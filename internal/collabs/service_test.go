package collabs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
)

func TestCreate(t *testing.T) {
	f := newFixture(t)

	v := f.create(t, 2)

	assert.Equal(t, models.CollabOpen, v.Status)
	assert.Equal(t, f.creator, v.CreatorID)
	require.NotNil(t, v.Creator)
	assert.Equal(t, "host", v.Creator.Username)
	assert.Empty(t, v.Partners)
	require.NotNil(t, v.TimeRemaining)
	assert.Equal(t, (30 * time.Minute).Milliseconds(), *v.TimeRemaining)
	assert.True(t, v.CreatorSignal.IsWaitingRoom)
	assert.Equal(t, []uuid.UUID{v.ID}, f.notifier.changed)
	assert.Equal(t, []time.Duration{collabs.ValidationMaxAge}, f.provider.maxAges)

	_, err := f.svc.Create(context.Background(), f.creator, collabs.CreateInput{
		Title: "another", Type: models.TypeRegular, MaxPartners: 1, Link: link("creatorVid1"),
	})
	assert.ErrorIs(t, err, collabs.ErrActiveCollabExists)
}

func TestCreateValidation(t *testing.T) {
	valid := collabs.CreateInput{Title: "t", Type: models.TypeCosplay, MaxPartners: 1, Link: link("creatorVid1")}
	with := func(mod func(in *collabs.CreateInput)) collabs.CreateInput {
		in := valid
		mod(&in)
		return in
	}

	tests := []struct {
		name  string
		setup func(f *fixture) uuid.UUID
		in    collabs.CreateInput
		want  error
		kind  collabs.Kind
	}{
		{name: "blank title", in: with(func(in *collabs.CreateInput) { in.Title = "  " }), kind: collabs.KindValidation},
		{name: "unknown type", in: with(func(in *collabs.CreateInput) { in.Type = "dance" }), kind: collabs.KindValidation},
		{name: "too many partners", in: with(func(in *collabs.CreateInput) { in.MaxPartners = 3 }), kind: collabs.KindValidation},
		{name: "no partners", in: with(func(in *collabs.CreateInput) { in.MaxPartners = 0 }), kind: collabs.KindValidation},
		{name: "not a youtube link", in: with(func(in *collabs.CreateInput) { in.Link = "https://twitch.tv/foo" }), want: collabs.ErrInvalidLink},
		{
			name: "already live",
			setup: func(f *fixture) uuid.UUID {
				f.provider.set("creatorVid1", liveSignal(3))
				return f.creator
			},
			in: valid, want: collabs.ErrInvalidStream,
		},
		{
			name: "deleted video",
			in:   with(func(in *collabs.CreateInput) { in.Link = link("missingVid1") }),
			want: collabs.ErrInvalidStream,
		},
		{
			name: "provider down",
			setup: func(f *fixture) uuid.UUID {
				f.provider.fail("creatorVid1", errors.New("quota exceeded"))
				return f.creator
			},
			in: valid, want: collabs.ErrProviderUnavailable, kind: collabs.KindUnavailable,
		},
		{
			name: "missing channels",
			setup: func(f *fixture) uuid.UUID {
				id := uuid.New()
				f.addUser(t, id, "nochannels", false)
				return id
			},
			in: valid, want: collabs.ErrMissingChannels,
		},
		{
			name:  "unknown user",
			setup: func(*fixture) uuid.UUID { return uuid.New() },
			in:    valid, want: collabs.ErrUserNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			caller := f.creator
			if tt.setup != nil {
				caller = tt.setup(f)
			}
			_, err := f.svc.Create(context.Background(), caller, tt.in)
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.kind != collabs.KindInternal {
				assert.Equal(t, tt.kind, collabs.KindOf(err))
			}
			list, err := f.store.FindMany(context.Background(), collabs.Filter{})
			require.NoError(t, err)
			assert.Empty(t, list)
		})
	}
}

func TestRequestJoin(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2)
	ctx := context.Background()

	entry, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1"), Description: " let's go "})
	require.NoError(t, err)
	assert.Equal(t, f.alice, entry.UserID)
	assert.Equal(t, "let's go", entry.Description)

	_, err = f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrAlreadyPending)

	_, err = f.svc.RequestJoin(ctx, v.ID, f.creator, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrSelfJoin)

	_, err = f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: "https://youtu.be/creatorVid1"})
	assert.ErrorIs(t, err, collabs.ErrSameBroadcast)

	f.provider.set("bobVideo001", waitingSignal(f.start.Add(10*time.Minute)))
	_, err = f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrScheduleMismatch)

	f.provider.set("bobVideo001", waitingSignal(f.start.Add(-5*time.Minute)))
	_, err = f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	require.NoError(t, err)

	stored := f.load(t, v.ID)
	require.Len(t, stored.WaitingList, 2)
	assert.Equal(t, f.alice, stored.WaitingList[0].UserID)
	assert.Equal(t, f.bob, stored.WaitingList[1].UserID)
	assert.Equal(t, models.CollabOpen, stored.Status)

	_, err = f.svc.RequestJoin(ctx, uuid.New(), f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrNotFound)
}

func TestRequestJoinListFull(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	for i := 0; i < models.MaxWaitingList; i++ {
		videoID := fmt.Sprintf("cand%07d", i)
		f.provider.set(videoID, waitingSignal(f.start))
		_, err := f.svc.RequestJoin(ctx, v.ID, uuid.New(), collabs.JoinInput{Link: link(videoID)})
		require.NoError(t, err)
	}
	_, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrListFull)
	assert.Len(t, f.load(t, v.ID).WaitingList, models.MaxWaitingList)
}

func TestRequestJoinRefreshesMissingCreatorSchedule(t *testing.T) {
	f := newFixture(t)
	f.provider.set("creatorVid1", models.StreamSignal{IsValid: true, IsWaitingRoom: true})
	v := f.create(t, 1)
	require.Nil(t, v.CreatorSignal.ScheduledStartTime)

	f.provider.set("creatorVid1", waitingSignal(f.start))
	_, err := f.svc.RequestJoin(context.Background(), v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)

	assert.Equal(t, 2, f.provider.callsFor("creatorVid1"))
	assert.Contains(t, f.provider.maxAges, time.Duration(0), "schedule refresh bypasses the cache")
	stored := f.load(t, v.ID)
	require.NotNil(t, stored.CreatorSignal.ScheduledStartTime)
	assert.True(t, stored.CreatorSignal.ScheduledStartTime.Equal(f.start))
	require.NotNil(t, stored.TimeRemaining)
	assert.Len(t, stored.WaitingList, 1)
}

func TestRequestJoinWithoutAnyCreatorSchedule(t *testing.T) {
	f := newFixture(t)
	f.provider.set("creatorVid1", models.StreamSignal{IsValid: true, IsWaitingRoom: true})
	v := f.create(t, 1)

	_, err := f.svc.RequestJoin(context.Background(), v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrScheduleMismatch)
}

func TestRequestJoinRejectsNonOpen(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)

	f.setStatus(t, v.ID, models.CollabSettingUp)
	_, err := f.svc.RequestJoin(context.Background(), v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrNotOpen)

	f.setStatus(t, v.ID, models.CollabCancelled)
	_, err = f.svc.RequestJoin(context.Background(), v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrTerminal)
	assert.Equal(t, collabs.KindInvariant, collabs.KindOf(err))
}

func TestAcceptAndRejectWaiting(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	a, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	b, err := f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	require.NoError(t, err)

	list, err := f.svc.ListWaiting(ctx, v.ID, f.creator)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.NotNil(t, list[0].User)
	assert.Equal(t, "alice", list[0].User.Username)

	_, err = f.svc.ListWaiting(ctx, v.ID, f.alice)
	assert.ErrorIs(t, err, collabs.ErrForbidden)
	_, err = f.svc.AcceptWaiting(ctx, v.ID, f.alice, a.ID)
	assert.ErrorIs(t, err, collabs.ErrForbidden)
	assert.ErrorIs(t, f.svc.RejectWaiting(ctx, v.ID, f.bob, b.ID), collabs.ErrForbidden)
	_, err = f.svc.AcceptWaiting(ctx, v.ID, f.creator, uuid.New())
	assert.ErrorIs(t, err, collabs.ErrEntryNotFound)

	accepted, err := f.svc.AcceptWaiting(ctx, v.ID, f.creator, a.ID)
	require.NoError(t, err)
	require.Len(t, accepted.Partners, 1)
	assert.Equal(t, 1, accepted.Partners[0].Slot)
	assert.Equal(t, "alice", accepted.Partners[0].User.Username)
	assert.Empty(t, accepted.WaitingList, "filling the last slot clears the list")

	assert.ErrorIs(t, f.svc.RejectWaiting(ctx, v.ID, f.creator, b.ID), collabs.ErrEntryNotFound)
}

func TestAcceptWaitingWhenFullPersistsClearedList(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	c := f.load(t, v.ID)
	c.Slots[0] = &models.PartnerSlot{UserID: f.alice, Link: link("aliceVideo1"), JoinedAt: baseTime}
	c.WaitingList = []models.WaitingEntry{{ID: uuid.New(), UserID: f.bob, Link: link("bobVideo001")}}
	require.NoError(t, f.store.Update(ctx, c))

	_, err := f.svc.AcceptWaiting(ctx, v.ID, f.creator, c.WaitingList[0].ID)
	assert.ErrorIs(t, err, collabs.ErrSessionFull)
	assert.Empty(t, f.load(t, v.ID).WaitingList)
}

func TestConcurrentAcceptOfLastSlot(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 20; round++ {
		f := newFixture(t)
		v := f.create(t, 1)
		a, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
		require.NoError(t, err)
		b, err := f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
		require.NoError(t, err)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for i, entryID := range []uuid.UUID{a.ID, b.ID} {
			wg.Add(1)
			go func(i int, entryID uuid.UUID) {
				defer wg.Done()
				<-start
				_, errs[i] = f.svc.AcceptWaiting(ctx, v.ID, f.creator, entryID)
			}(i, entryID)
		}
		close(start)
		wg.Wait()

		var ok int
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, collabs.ErrSessionFull)
			assert.Equal(t, collabs.KindConflict, collabs.KindOf(err))
		}
		assert.Equal(t, 1, ok, "round %d", round)
		stored := f.load(t, v.ID)
		assert.Equal(t, 1, collabs.PartnerCount(stored))
		assert.Empty(t, stored.WaitingList)
	}
}

func TestRequestJoinRejectsFullCollab(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	// full but still open, as after a failed follow-up reconcile
	c := f.load(t, v.ID)
	c.Slots[0] = &models.PartnerSlot{UserID: f.alice, Link: link("aliceVideo1"), JoinedAt: baseTime}
	require.NoError(t, f.store.Update(ctx, c))

	_, err := f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrSessionFull)
	assert.Empty(t, f.load(t, v.ID).WaitingList)
}

func TestRequestJoinRaceWithFillingAccept(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	// the slot fills between the pre-check and the write
	filler := &fillingStore{MemoryStore: f.store, partner: f.alice}
	svc := collabs.NewService(filler, f.provider, f.users, nil, collabs.WithClock(func() time.Time { return f.now }))
	_, err := svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrSessionFull)
	stored := f.load(t, v.ID)
	assert.Equal(t, 1, collabs.PartnerCount(stored))
	assert.Empty(t, stored.WaitingList)
}

func TestRejectWaiting(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2)
	ctx := context.Background()

	e, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	require.NoError(t, f.svc.RejectWaiting(ctx, v.ID, f.creator, e.ID))
	assert.Empty(t, f.load(t, v.ID).WaitingList)

	_, err = f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err, "a rejected candidate may ask again")
}

func TestDirectMatch(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2)
	ctx := context.Background()

	_, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	_, err = f.svc.RequestJoin(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	require.NoError(t, err)

	got, err := f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	require.Len(t, got.Partners, 1)
	assert.Equal(t, 1, got.Partners[0].Slot)
	require.NotNil(t, got.Slots[0].Signal)
	assert.True(t, got.Slots[0].Signal.IsWaitingRoom)
	require.Len(t, got.WaitingList, 1, "the matched candidate's own request is dropped")
	assert.Equal(t, f.bob, got.WaitingList[0].UserID)

	_, err = f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrAlreadyPartner)

	got, err = f.svc.DirectMatch(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	require.NoError(t, err)
	assert.Equal(t, 2, got.Partners[1].Slot)
	assert.Empty(t, got.WaitingList)

	carol := uuid.New()
	f.addUser(t, carol, "carol", true)
	f.provider.set("carolVideo1", waitingSignal(f.start))
	_, err = f.svc.DirectMatch(ctx, v.ID, carol, collabs.JoinInput{Link: link("carolVideo1")})
	assert.ErrorIs(t, err, collabs.ErrSessionFull)
}

func TestDirectMatchRejects(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	_, err := f.svc.DirectMatch(ctx, v.ID, f.creator, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrSelfJoin)

	_, err = f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("creatorVid1")})
	assert.ErrorIs(t, err, collabs.ErrSameBroadcast)

	f.provider.set("aliceVideo1", liveSignal(1))
	_, err = f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	assert.ErrorIs(t, err, collabs.ErrInvalidStream)

	lurker := uuid.New()
	f.addUser(t, lurker, "lurker", false)
	_, err = f.svc.DirectMatch(ctx, v.ID, lurker, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrMissingChannels)

	_, err = f.svc.DirectMatch(ctx, v.ID, f.bob, collabs.JoinInput{})
	assert.Equal(t, collabs.KindValidation, collabs.KindOf(err))

	f.setStatus(t, v.ID, models.CollabEnded)
	_, err = f.svc.DirectMatch(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	assert.ErrorIs(t, err, collabs.ErrTerminal)
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	assert.ErrorIs(t, f.svc.Delete(ctx, v.ID, f.alice), collabs.ErrForbidden)

	f.setStatus(t, v.ID, models.CollabSettingUp)
	assert.ErrorIs(t, f.svc.Delete(ctx, v.ID, f.creator), collabs.ErrNotOpen)

	f.setStatus(t, v.ID, models.CollabOpen)
	require.NoError(t, f.svc.Delete(ctx, v.ID, f.creator))
	_, err := f.svc.Get(ctx, v.ID)
	assert.ErrorIs(t, err, collabs.ErrNotFound)
	assert.Equal(t, []uuid.UUID{v.ID}, f.notifier.deleted)

	assert.ErrorIs(t, f.svc.Delete(ctx, v.ID, f.creator), collabs.ErrNotFound)
}

func TestDeleteTerminal(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)

	f.setStatus(t, v.ID, models.CollabCancelled)
	err := f.svc.Delete(context.Background(), v.ID, f.creator)
	assert.ErrorIs(t, err, collabs.ErrTerminal)
}

func TestReadOperations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	none, err := f.svc.MyActive(ctx, f.creator)
	require.NoError(t, err)
	assert.Nil(t, none)

	v := f.create(t, 1)
	mine, err := f.svc.MyActive(ctx, f.creator)
	require.NoError(t, err)
	require.NotNil(t, mine)
	assert.Equal(t, v.ID, mine.ID)

	_, err = f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)

	joined, err := f.svc.ListByUser(ctx, f.alice)
	require.NoError(t, err)
	require.Len(t, joined, 1)
	assert.Equal(t, v.ID, joined[0].ID)

	_, err = f.svc.ListByUser(ctx, uuid.New())
	assert.ErrorIs(t, err, collabs.ErrUserNotFound)

	open, err := f.svc.List(ctx, collabs.ListQuery{Status: models.CollabOpen})
	require.NoError(t, err)
	assert.Len(t, open, 1)

	cosplay, err := f.svc.List(ctx, collabs.ListQuery{Type: models.TypeCosplay})
	require.NoError(t, err)
	assert.Empty(t, cosplay)

	_, err = f.svc.List(ctx, collabs.ListQuery{Status: "paused"})
	assert.Equal(t, collabs.KindValidation, collabs.KindOf(err))
}

func TestFeatured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	live := make([]*models.Collab, 8)
	for i := range live {
		c := newCollab(uuid.New(), models.CollabInProgress, baseTime.Add(time.Duration(i)*time.Minute))
		c.CreatorSignal = liveSignal(int64(100 * i))
		c.Slots[0] = &models.PartnerSlot{UserID: uuid.New(), Signal: &models.StreamSignal{IsValid: true, IsLive: true, ViewCount: 5}}
		require.NoError(t, f.store.Insert(ctx, c))
		live[i] = c
	}
	tie := newCollab(uuid.New(), models.CollabInProgress, baseTime)
	tie.CreatorSignal = liveSignal(705)
	tie.UpdatedAt = baseTime.Add(-time.Hour)
	require.NoError(t, f.store.Insert(ctx, tie))
	open := newCollab(uuid.New(), models.CollabOpen, baseTime)
	open.CreatorSignal = liveSignal(10_000)
	require.NoError(t, f.store.Insert(ctx, open))

	got, err := f.svc.Featured(ctx)
	require.NoError(t, err)
	want := []uuid.UUID{live[7].ID, tie.ID, live[6].ID, live[5].ID, live[4].ID, live[3].ID}
	gotIDs := make([]uuid.UUID, 0, len(got))
	for _, v := range got {
		gotIDs = append(gotIDs, v.ID)
	}
	assert.Equal(t, want, gotIDs)
}

func TestRefreshSignals(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 1)
	ctx := context.Background()

	_, err := f.svc.RefreshSignals(ctx, v.ID)
	require.Error(t, err)

	rec := &fakeReconciler{store: f.store}
	f.svc.SetReconciler(rec)
	got, err := f.svc.RefreshSignals(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, v.ID, got.ID)
	assert.Equal(t, []uuid.UUID{v.ID}, rec.calls)

	rec.err = collabs.ErrProviderUnavailable
	_, err = f.svc.RefreshSignals(ctx, v.ID)
	assert.ErrorIs(t, err, collabs.ErrProviderUnavailable)
}

func TestJoinTriggersReconcile(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2)
	rec := &fakeReconciler{store: f.store}
	f.svc.SetReconciler(rec)
	ctx := context.Background()

	_, err := f.svc.DirectMatch(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{v.ID}, rec.calls)

	rec.err = collabs.ErrProviderUnavailable
	got, err := f.svc.DirectMatch(ctx, v.ID, f.bob, collabs.JoinInput{Link: link("bobVideo001")})
	require.NoError(t, err, "a failed follow-up reconcile does not undo the join")
	assert.Len(t, got.Partners, 2)
	assert.Len(t, rec.calls, 2)
}

func TestMutateRetriesConflicts(t *testing.T) {
	f := newFixture(t)
	v := f.create(t, 2)
	ctx := context.Background()
	e, err := f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)

	flaky := &conflictingStore{MemoryStore: f.store, failures: 2}
	svc := collabs.NewService(flaky, f.provider, f.users, nil, collabs.WithClock(func() time.Time { return f.now }))
	require.NoError(t, svc.RejectWaiting(ctx, v.ID, f.creator, e.ID))
	assert.Equal(t, 3, flaky.updates)
	assert.Empty(t, f.load(t, v.ID).WaitingList)

	e, err = f.svc.RequestJoin(ctx, v.ID, f.alice, collabs.JoinInput{Link: link("aliceVideo1")})
	require.NoError(t, err)
	flaky.failures, flaky.updates = 5, 0
	err = svc.RejectWaiting(ctx, v.ID, f.creator, e.ID)
	assert.ErrorIs(t, err, collabs.ErrConflict)
	assert.Equal(t, 3, flaky.updates)
}

type fakeReconciler struct {
	store collabs.Store
	calls []uuid.UUID
	err   error
}

func (r *fakeReconciler) ReconcileOne(ctx context.Context, id uuid.UUID) (*models.Collab, error) {
	r.calls = append(r.calls, id)
	if r.err != nil {
		return nil, r.err
	}
	return r.store.FindByID(ctx, id)
}

// conflictingStore fails the first failures updates with ErrConflict.
type conflictingStore struct {
	*collabs.MemoryStore
	failures int
	updates  int
}

func (s *conflictingStore) Update(ctx context.Context, c *models.Collab) error {
	s.updates++
	if s.failures > 0 {
		s.failures--
		return collabs.ErrConflict
	}
	return s.MemoryStore.Update(ctx, c)
}

// fillingStore puts partner into slot 1 on the first Update, then reports a
// conflict so the caller re-reads the full collab.
type fillingStore struct {
	*collabs.MemoryStore
	partner uuid.UUID
	filled  bool
}

func (s *fillingStore) Update(ctx context.Context, c *models.Collab) error {
	if s.filled {
		return s.MemoryStore.Update(ctx, c)
	}
	s.filled = true
	cur, err := s.MemoryStore.FindByID(ctx, c.ID)
	if err != nil {
		return err
	}
	cur.Slots[0] = &models.PartnerSlot{UserID: s.partner, Link: "https://youtu.be/aliceVideo1", JoinedAt: cur.CreatedAt}
	if err := s.MemoryStore.Update(ctx, cur); err != nil {
		return err
	}
	return collabs.ErrConflict
}
