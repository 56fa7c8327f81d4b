package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/aura-webinar/collab/internal/collabs"
	"github.com/aura-webinar/collab/internal/models"
)

// ErrPassRunning is returned when a pass is requested while another holds the lock.
var ErrPassRunning = errors.New("reconciliation pass already running")

const (
	tracerName      = "github.com/aura-webinar/collab/internal/worker"
	immediateMaxAge = time.Minute
	updateRetries   = 3
)

// Config tunes the reconciliation scheduler.
type Config struct {
	Tick               time.Duration
	BatchSize          int
	BatchPause         time.Duration
	MaxPerPass         int
	InProgressInterval time.Duration
	TerminalRetention  time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Tick:               30 * time.Second,
		BatchSize:          3,
		BatchPause:         2 * time.Second,
		MaxPerPass:         20,
		InProgressInterval: DefaultInProgressInterval,
		TerminalRetention:  time.Hour,
	}
}

// PassStats summarises one reconciliation pass.
type PassStats struct {
	Active     int   `json:"active"`
	Due        int   `json:"due"`
	Reconciled int   `json:"reconciled"`
	Failed     int   `json:"failed"`
	Changed    int   `json:"changed"`
	Purged     int64 `json:"purged"`
}

// Reconciler periodically refreshes active collabs against their broadcasts
// and drives the status state machine. At most one pass runs at a time.
type Reconciler struct {
	store    collabs.Store
	provider collabs.StreamProvider
	notifier collabs.Notifier
	cfg      Config
	logger   *zap.Logger
	tracer   trace.Tracer
	lock     *semaphore.Weighted
	wg       sync.WaitGroup
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// WithSleep overrides the pause between batches.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Reconciler) { r.sleep = sleep }
}

// WithNotifier sets the change notifier.
func WithNotifier(n collabs.Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) { r.tracer = t }
}

// NewReconciler creates a reconciler. Zero config fields take the defaults.
func NewReconciler(store collabs.Store, provider collabs.StreamProvider, cfg Config, logger *zap.Logger, opts ...Option) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchPause < 0 {
		cfg.BatchPause = 0
	}
	if cfg.MaxPerPass <= 0 {
		cfg.MaxPerPass = def.MaxPerPass
	}
	if cfg.InProgressInterval <= 0 {
		cfg.InProgressInterval = def.InProgressInterval
	}
	if cfg.TerminalRetention <= 0 {
		cfg.TerminalRetention = def.TerminalRetention
	}
	r := &Reconciler{
		store:    store,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		lock:     semaphore.NewWeighted(1),
		now:      time.Now,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts a pass immediately and then on every tick until ctx is done.
// Ticks that fire while a pass is still running are skipped.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()
	r.logger.Info("reconciler started",
		zap.Duration("tick", r.cfg.Tick),
		zap.Int("batch", r.cfg.BatchSize),
		zap.Int("max_per_pass", r.cfg.MaxPerPass),
	)
	r.Trigger(ctx)
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.logger.Info("reconciler stopped")
			return
		case <-ticker.C:
			if !r.Trigger(ctx) {
				r.logger.Debug("reconcile tick skipped, pass still running")
			}
		}
	}
}

// Trigger starts a pass in the background and reports whether it started.
func (r *Reconciler) Trigger(ctx context.Context) bool {
	if !r.lock.TryAcquire(1) {
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.lock.Release(1)
		r.pass(ctx)
	}()
	return true
}

// RunPass runs one pass synchronously. It returns ErrPassRunning without doing
// anything when another pass holds the lock.
func (r *Reconciler) RunPass(ctx context.Context) (PassStats, error) {
	if !r.lock.TryAcquire(1) {
		return PassStats{}, ErrPassRunning
	}
	defer r.lock.Release(1)
	return r.pass(ctx)
}

// Wait blocks until background passes started by Trigger finish.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) pass(ctx context.Context) (PassStats, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.pass")
	defer span.End()
	start := r.now()
	var stats PassStats

	active, err := r.store.FindMany(ctx, collabs.Filter{Statuses: models.ActiveStatuses})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list active collabs")
		r.logger.Error("list active collabs", zap.Error(err))
		return stats, fmt.Errorf("list active collabs: %w", err)
	}
	stats.Active = len(active)
	due := r.selectDue(active, start)
	stats.Due = len(due)
	span.SetAttributes(attribute.Int("collabs.active", stats.Active), attribute.Int("collabs.due", stats.Due))

	var reconciled, failed, changed atomic.Int64
	for i := 0; i < len(due); i += r.cfg.BatchSize {
		if i > 0 && r.cfg.BatchPause > 0 {
			if err := r.sleep(ctx, r.cfg.BatchPause); err != nil {
				break
			}
		}
		end := min(i+r.cfg.BatchSize, len(due))
		var g errgroup.Group
		for _, c := range due[i:end] {
			id, from := c.ID, c.Status
			g.Go(func() error {
				saved, err := r.reconcile(ctx, id, cacheAge(&c, start, r.cfg.InProgressInterval))
				if err != nil {
					failed.Add(1)
					r.logger.Warn("reconcile collab failed, left untouched",
						zap.String("collab_id", id.String()),
						zap.Int("batch", i/r.cfg.BatchSize),
						zap.Error(err),
					)
					return nil
				}
				reconciled.Add(1)
				if saved.Status != from {
					changed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}
	stats.Reconciled = int(reconciled.Load())
	stats.Failed = int(failed.Load())
	stats.Changed = int(changed.Load())

	stats.Purged = r.purge(ctx)
	span.SetAttributes(
		attribute.Int("collabs.failed", stats.Failed),
		attribute.Int64("collabs.purged", stats.Purged),
	)
	r.logger.Info("reconcile pass done",
		zap.Int("active", stats.Active),
		zap.Int("due", stats.Due),
		zap.Int("reconciled", stats.Reconciled),
		zap.Int("failed", stats.Failed),
		zap.Int("changed", stats.Changed),
		zap.Int64("purged", stats.Purged),
		zap.Duration("took", r.now().Sub(start)),
	)
	return stats, nil
}

// selectDue returns the due collabs, least recently checked first, capped at
// MaxPerPass.
func (r *Reconciler) selectDue(active []models.Collab, now time.Time) []models.Collab {
	var due []models.Collab
	for i := range active {
		if IsDue(&active[i], now, r.cfg.InProgressInterval) {
			due = append(due, active[i])
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		a, b := due[i].LastStatusCheck, due[j].LastStatusCheck
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		return a.Before(*b)
	})
	if len(due) > r.cfg.MaxPerPass {
		due = due[:r.cfg.MaxPerPass]
	}
	return due
}

func (r *Reconciler) purge(ctx context.Context) int64 {
	cutoff := r.now().Add(-r.cfg.TerminalRetention)
	n, err := r.store.DeleteMany(ctx, collabs.Filter{Statuses: models.TerminalStatuses, EndedBefore: &cutoff})
	if err != nil {
		r.logger.Error("purge finished collabs", zap.Error(err))
		return 0
	}
	if n > 0 {
		r.logger.Info("purged finished collabs", zap.Int64("count", n), zap.Time("ended_before", cutoff))
	}
	return n
}

// ReconcileOne refreshes one collab right away. Provider failures are
// reported as collabs.ErrProviderUnavailable and change only LastStatusCheck.
func (r *Reconciler) ReconcileOne(ctx context.Context, id uuid.UUID) (*models.Collab, error) {
	c, err := r.reconcile(ctx, id, immediateMaxAge)
	if errors.Is(err, errFetch) {
		return nil, fmt.Errorf("%w: %v", collabs.ErrProviderUnavailable, err)
	}
	return c, err
}

var errFetch = errors.New("fetch signals")

// reconcile fetches fresh signals for one collab, applies the state machine
// and writes the result conditionally, re-reading on conflicts.
func (r *Reconciler) reconcile(ctx context.Context, id uuid.UUID, maxAge time.Duration) (*models.Collab, error) {
	ctx, span := r.tracer.Start(ctx, "reconcile.collab", trace.WithAttributes(attribute.String("collab.id", id.String())))
	defer span.End()

	for attempt := 0; ; attempt++ {
		c, err := r.store.FindByID(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		if c.Status.Terminal() {
			return c, nil
		}
		obs, err := r.observe(ctx, c, maxAge)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "fetch signals")
			r.markChecked(ctx, c)
			return nil, fmt.Errorf("%w: %v", errFetch, err)
		}
		from := c.Status
		d := collabs.Apply(c, obs, r.now())
		err = r.store.Update(ctx, c)
		if errors.Is(err, collabs.ErrConflict) && attempt < updateRetries-1 {
			continue
		}
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("update collab: %w", err)
		}
		span.SetAttributes(attribute.String("collab.status", string(c.Status)))
		if d.Changed(from) {
			r.logger.Info("collab status changed",
				zap.String("collab_id", id.String()),
				zap.String("from", string(from)),
				zap.String("to", string(c.Status)),
				zap.String("rule", d.Rule.String()),
			)
		}
		if r.notifier != nil {
			r.notifier.CollabChanged(ctx, c)
		}
		return c, nil
	}
}

// markChecked stamps LastStatusCheck after a failed fetch so the collab waits
// for its next due time. Status and signals keep their last observed values.
func (r *Reconciler) markChecked(ctx context.Context, c *models.Collab) {
	now := r.now()
	c.LastStatusCheck = &now
	err := r.store.Update(ctx, c)
	if err != nil && !errors.Is(err, collabs.ErrConflict) {
		r.logger.Warn("record failed check", zap.String("collab_id", c.ID.String()), zap.Error(err))
	}
}

// observe fetches the creator's signal and one per occupied slot. Any failed
// fetch fails the whole observation.
func (r *Reconciler) observe(ctx context.Context, c *models.Collab, maxAge time.Duration) (collabs.Observation, error) {
	var obs collabs.Observation
	creator, err := r.fetch(ctx, c.CreatorLink, maxAge)
	if err != nil {
		return obs, fmt.Errorf("creator: %w", err)
	}
	obs.Creator = creator
	for i, slot := range c.Slots {
		if slot == nil {
			continue
		}
		s, err := r.fetch(ctx, slot.Link, maxAge)
		if err != nil {
			return obs, fmt.Errorf("slot %d: %w", i+1, err)
		}
		obs.Partners = append(obs.Partners, s)
	}
	return obs, nil
}

// fetch returns an invalid signal for links without a video id.
func (r *Reconciler) fetch(ctx context.Context, link string, maxAge time.Duration) (models.StreamSignal, error) {
	videoID := r.provider.ExtractID(link)
	if videoID == "" {
		return models.StreamSignal{}, nil
	}
	return r.provider.CheckStatus(ctx, videoID, maxAge)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
