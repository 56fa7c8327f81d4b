package collabs

import (
	"time"

	"github.com/google/uuid"

	"github.com/aura-webinar/collab/internal/models"
)

// PartnerCount returns the number of occupied partner slots (0-3).
func PartnerCount(c *models.Collab) int {
	n := 0
	for _, s := range c.Slots {
		if s != nil {
			n++
		}
	}
	return n
}

// IsFull reports whether the collab has reached its partner capacity.
func IsFull(c *models.Collab) bool {
	return PartnerCount(c) >= c.MaxPartners
}

// NextFreeSlot returns the lowest empty slot number (1-based), or false when
// the collab is full. The fixed order makes serialized concurrent joins land
// predictably.
func NextFreeSlot(c *models.Collab) (int, bool) {
	if IsFull(c) {
		return 0, false
	}
	for i, s := range c.Slots {
		if s == nil {
			return i + 1, true
		}
	}
	return 0, false
}

// SlotOf returns the 1-based slot held by userID, or 0.
func SlotOf(c *models.Collab, userID uuid.UUID) int {
	for i, s := range c.Slots {
		if s != nil && s.UserID == userID {
			return i + 1
		}
	}
	return 0
}

// AssignSlot places userID into slot (1-based).
func AssignSlot(c *models.Collab, slot int, userID uuid.UUID, link, description string, now time.Time) error {
	if slot < 1 || slot > models.SlotCount {
		return invalidf("slot %d out of range", slot)
	}
	if userID == c.CreatorID {
		return ErrSelfJoin
	}
	if SlotOf(c, userID) != 0 {
		return ErrAlreadyPartner
	}
	if c.Slots[slot-1] != nil {
		return ErrSlotOccupied
	}
	c.Slots[slot-1] = &models.PartnerSlot{
		UserID:      userID,
		Link:        link,
		Description: description,
		JoinedAt:    now,
	}
	return nil
}
