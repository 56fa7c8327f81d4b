package models

import (
	"time"

	"github.com/google/uuid"
)

// CollabStatus is the lifecycle state of a collab session.
type CollabStatus string

const (
	CollabOpen       CollabStatus = "open"
	CollabSettingUp  CollabStatus = "setting_up"
	CollabInProgress CollabStatus = "in_progress"
	CollabEnded      CollabStatus = "ended"
	CollabCancelled  CollabStatus = "cancelled"
)

// Terminal reports whether the status can never change again.
func (s CollabStatus) Terminal() bool {
	return s == CollabEnded || s == CollabCancelled
}

// Valid reports whether s is a known status.
func (s CollabStatus) Valid() bool {
	switch s {
	case CollabOpen, CollabSettingUp, CollabInProgress, CollabEnded, CollabCancelled:
		return true
	}
	return false
}

// ActiveStatuses are the statuses the reconciler keeps polling.
var ActiveStatuses = []CollabStatus{CollabOpen, CollabSettingUp, CollabInProgress}

// TerminalStatuses are the statuses eligible for garbage collection.
var TerminalStatuses = []CollabStatus{CollabEnded, CollabCancelled}

// CollabType is the kind of content the collab is about.
type CollabType string

const (
	TypeRegular  CollabType = "regular"
	TypeGaming   CollabType = "gaming"
	TypeCosplay  CollabType = "cosplay"
	TypeTalkshow CollabType = "karaoke_talkshow"
)

// Valid reports whether t is a known collab type.
func (t CollabType) Valid() bool {
	switch t {
	case TypeRegular, TypeGaming, TypeCosplay, TypeTalkshow:
		return true
	}
	return false
}

const (
	// SlotCount is the number of partner positions on a collab.
	SlotCount = 3
	// MaxWaitingList is the capacity of the candidate waiting list.
	MaxWaitingList = 10
)

// StreamSignal is a point-in-time snapshot of an external broadcast.
type StreamSignal struct {
	IsValid            bool       `json:"is_valid"`
	IsLive             bool       `json:"is_live"`
	IsWaitingRoom      bool       `json:"is_waiting_room"`
	ViewCount          int64      `json:"view_count"`
	LikeCount          int64      `json:"like_count"`
	CommentCount       int64      `json:"comment_count"`
	Title              string     `json:"title"`
	Thumbnail          string     `json:"thumbnail"`
	ScheduledStartTime *time.Time `json:"scheduled_start_time,omitempty"`
	CheckedAt          *time.Time `json:"checked_at,omitempty"`
}

// Ended reports whether the broadcast is neither live nor waiting to start.
func (s StreamSignal) Ended() bool {
	return !s.IsLive && !s.IsWaitingRoom
}

// PartnerSlot is one partner position on a collab.
type PartnerSlot struct {
	UserID      uuid.UUID     `json:"user_id"`
	Link        string        `json:"link"`
	Description string        `json:"description"`
	Signal      *StreamSignal `json:"signal,omitempty"`
	JoinedAt    time.Time     `json:"joined_at"`
}

// WaitingEntry is a pending request to join a collab.
type WaitingEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	RequestedAt time.Time `json:"requested_at"`
}

// Collab is a matchmaking record binding one creator and up to two partners
// around a shared broadcast window. It is persisted as a single document.
type Collab struct {
	ID              uuid.UUID               `json:"id"`
	CreatorID       uuid.UUID               `json:"creator_id"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
	Type            CollabType              `json:"type"`
	MaxPartners     int                     `json:"max_partners"`
	Status          CollabStatus            `json:"status"`
	CreatorLink     string                  `json:"creator_link"`
	CreatorSignal   StreamSignal            `json:"creator_signal"`
	Slots           [SlotCount]*PartnerSlot `json:"slots"`
	WaitingList     []WaitingEntry          `json:"waiting_list"`
	TimeRemaining   *int64                  `json:"time_remaining"` // ms until creator's scheduled start
	TotalViews      int64                   `json:"total_views"`
	TotalLikes      int64                   `json:"total_likes"`
	TotalComments   int64                   `json:"total_comments"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	EndedAt         *time.Time              `json:"ended_at,omitempty"`
	LastStatusCheck *time.Time              `json:"last_status_check,omitempty"`
	Version         int64                   `json:"version"`
}

// Participants returns the creator followed by every partner in slot order.
func (c *Collab) Participants() []uuid.UUID {
	ids := []uuid.UUID{c.CreatorID}
	for _, s := range c.Slots {
		if s != nil {
			ids = append(ids, s.UserID)
		}
	}
	return ids
}

// LiveViewers sums the current viewer counts across every broadcast.
func (c *Collab) LiveViewers() int64 {
	total := c.CreatorSignal.ViewCount
	for _, s := range c.Slots {
		if s != nil && s.Signal != nil {
			total += s.Signal.ViewCount
		}
	}
	return total
}

// SetTimeRemaining derives TimeRemaining from the creator's scheduled start.
// Only positive durations are kept.
func (c *Collab) SetTimeRemaining(now time.Time) {
	c.TimeRemaining = nil
	if start := c.CreatorSignal.ScheduledStartTime; start != nil {
		if ms := start.Sub(now).Milliseconds(); ms > 0 {
			c.TimeRemaining = &ms
		}
	}
}
