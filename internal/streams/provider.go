package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/aura-webinar/collab/internal/models"
)

// ErrUnavailable means the status source could not be reached or answered
// with an error. The broadcast's state is unknown, not invalid.
var ErrUnavailable = errors.New("stream status unavailable")

// DefaultTimeout bounds a single fetch.
const DefaultTimeout = 10 * time.Second

// Fetcher loads a fresh signal from the source of truth.
type Fetcher interface {
	FetchSignal(ctx context.Context, videoID string) (models.StreamSignal, error)
}

// Provider answers status checks from cache when fresh enough and otherwise
// fetches with a bounded timeout. Concurrent fetches of one id are collapsed.
type Provider struct {
	fetcher Fetcher
	cache   Cache
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
	group   singleflight.Group
}

// NewProvider creates a provider. A nil cache disables caching.
func NewProvider(fetcher Fetcher, cache Cache, timeout time.Duration, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Provider{fetcher: fetcher, cache: cache, timeout: timeout, logger: logger, now: time.Now}
}

// CheckStatus returns the signal for videoID. A cached signal is used when it
// was checked less than maxAge ago; maxAge <= 0 always fetches. Fetch
// failures and timeouts return an error wrapping ErrUnavailable.
func (p *Provider) CheckStatus(ctx context.Context, videoID string, maxAge time.Duration) (models.StreamSignal, error) {
	if maxAge > 0 && p.cache != nil {
		s, ok, err := p.cache.Get(ctx, videoID)
		if err != nil {
			p.logger.Warn("stream cache read failed", zap.String("video_id", videoID), zap.Error(err))
		}
		if ok && s.CheckedAt != nil && p.now().Sub(*s.CheckedAt) < maxAge {
			return s, nil
		}
	}

	v, err, _ := p.group.Do(videoID, func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		s, err := p.fetcher.FetchSignal(fetchCtx, videoID)
		if err != nil {
			return nil, err
		}
		checked := p.now()
		s.CheckedAt = &checked
		if p.cache != nil {
			if err := p.cache.Set(fetchCtx, videoID, s); err != nil {
				p.logger.Warn("stream cache write failed", zap.String("video_id", videoID), zap.Error(err))
			}
		}
		return s, nil
	})
	if err != nil {
		return models.StreamSignal{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, videoID, err)
	}
	return v.(models.StreamSignal), nil
}

// ExtractID returns the video id of a YouTube link.
func (p *Provider) ExtractID(link string) string { return ExtractID(link) }

// IsValidURL reports whether link is a YouTube link with a video id.
func (p *Provider) IsValidURL(link string) bool { return IsValidURL(link) }
