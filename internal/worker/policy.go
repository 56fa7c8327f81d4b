package worker

import (
	"time"

	"github.com/aura-webinar/collab/internal/models"
)

// Due intervals by time remaining until the creator's scheduled start.
const (
	IntervalUnscheduled = 10 * time.Minute
	IntervalStarting    = 5 * time.Minute
	IntervalSoonOpen    = 10 * time.Minute
	IntervalToday       = 10 * time.Minute
	IntervalTomorrow    = time.Hour
	IntervalLater       = 2 * time.Hour

	// DefaultInProgressInterval applies to in_progress collabs regardless of schedule.
	DefaultInProgressInterval = 2 * time.Minute
)

// DueInterval returns how long after its last check c should be checked again.
func DueInterval(c *models.Collab, now time.Time, inProgress time.Duration) time.Duration {
	if c.Status == models.CollabInProgress {
		return inProgress
	}
	start := c.CreatorSignal.ScheduledStartTime
	if start == nil {
		return IntervalUnscheduled
	}
	switch delta := start.Sub(now); {
	case delta <= 0:
		return IntervalStarting
	case delta < time.Hour:
		if c.Status == models.CollabOpen {
			return IntervalSoonOpen
		}
		return IntervalStarting
	case delta < 12*time.Hour:
		return IntervalToday
	case delta < 24*time.Hour:
		return IntervalTomorrow
	default:
		return IntervalLater
	}
}

// IsDue reports whether c has gone unchecked for at least its due interval.
// A collab that was never checked is always due.
func IsDue(c *models.Collab, now time.Time, inProgress time.Duration) bool {
	if c.LastStatusCheck == nil {
		return true
	}
	return now.Sub(*c.LastStatusCheck) >= DueInterval(c, now, inProgress)
}

// cacheAge is the signal age a reconciliation accepts from the provider cache.
func cacheAge(c *models.Collab, now time.Time, inProgress time.Duration) time.Duration {
	if c.Status == models.CollabInProgress {
		return time.Minute
	}
	return DueInterval(c, now, inProgress)
}
