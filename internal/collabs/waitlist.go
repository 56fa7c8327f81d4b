package collabs

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/models"
)

// ScheduleTolerance is the allowed gap between a candidate's scheduled start
// and the creator's.
const ScheduleTolerance = 5 * time.Minute

// CheckCanQueue validates that candidate may be appended to the waiting list.
func CheckCanQueue(c *models.Collab, candidate uuid.UUID) error {
	if candidate == c.CreatorID {
		return ErrSelfJoin
	}
	if pendingIndex(c, candidate) >= 0 {
		return ErrAlreadyPending
	}
	if SlotOf(c, candidate) != 0 {
		return ErrAlreadyPartner
	}
	if len(c.WaitingList) >= models.MaxWaitingList {
		return ErrListFull
	}
	return nil
}

// CheckSchedule returns ErrScheduleMismatch unless both start times are known
// and within ScheduleTolerance of each other.
func CheckSchedule(creatorStart, candidateStart *time.Time) error {
	if creatorStart == nil || candidateStart == nil {
		return ErrScheduleMismatch
	}
	diff := creatorStart.Sub(*candidateStart)
	if diff < 0 {
		diff = -diff
	}
	if diff > ScheduleTolerance {
		return ErrScheduleMismatch
	}
	return nil
}

// Enqueue appends a waiting entry after CheckCanQueue passes.
func Enqueue(c *models.Collab, candidate uuid.UUID, link, description string, now time.Time) (models.WaitingEntry, error) {
	if err := CheckCanQueue(c, candidate); err != nil {
		return models.WaitingEntry{}, err
	}
	entry := models.WaitingEntry{
		ID:          uuid.New(),
		UserID:      candidate,
		Description: description,
		Link:        link,
		RequestedAt: now,
	}
	c.WaitingList = append(c.WaitingList, entry)
	return entry, nil
}

// AcceptEntry moves a waiting entry into the next free slot.
//
// When the collab is already full the whole list is cleared and
// ErrSessionFull returned; the caller must persist that change. Reaching
// capacity with this accept also clears the remaining entries.
func AcceptEntry(c *models.Collab, entryID uuid.UUID, now time.Time) (int, error) {
	if IsFull(c) {
		c.WaitingList = nil
		return 0, ErrSessionFull
	}
	idx := entryIndex(c, entryID)
	if idx < 0 {
		return 0, ErrEntryNotFound
	}
	entry := c.WaitingList[idx]
	slot, ok := NextFreeSlot(c)
	if !ok {
		return 0, ErrSessionFull
	}
	if err := AssignSlot(c, slot, entry.UserID, entry.Link, entry.Description, now); err != nil {
		return 0, err
	}
	c.WaitingList = append(c.WaitingList[:idx:idx], c.WaitingList[idx+1:]...)
	if IsFull(c) {
		c.WaitingList = nil
	}
	return slot, nil
}

// RejectEntry removes a waiting entry.
func RejectEntry(c *models.Collab, entryID uuid.UUID) (models.WaitingEntry, error) {
	idx := entryIndex(c, entryID)
	if idx < 0 {
		return models.WaitingEntry{}, ErrEntryNotFound
	}
	entry := c.WaitingList[idx]
	c.WaitingList = append(c.WaitingList[:idx:idx], c.WaitingList[idx+1:]...)
	return entry, nil
}

// dropPending removes candidate's entry if present.
func dropPending(c *models.Collab, candidate uuid.UUID) {
	if idx := pendingIndex(c, candidate); idx >= 0 {
		c.WaitingList = append(c.WaitingList[:idx:idx], c.WaitingList[idx+1:]...)
	}
}

func entryIndex(c *models.Collab, entryID uuid.UUID) int {
	for i, w := range c.WaitingList {
		if w.ID == entryID {
			return i
		}
	}
	return -1
}

func pendingIndex(c *models.Collab, userID uuid.UUID) int {
	for i, w := range c.WaitingList {
		if w.UserID == userID {
			return i
		}
	}
	return -1
}
