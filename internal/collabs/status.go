package collabs

import (
	"time"

	"github.com/aura-webinar/collab/internal/models"
)

// Observation is the fresh set of signals for one reconciliation of a collab.
// Partners holds one entry per occupied slot.
type Observation struct {
	Creator  models.StreamSignal
	Partners []models.StreamSignal
}

// Rule identifies which evaluation step produced a Decision.
type Rule int

const (
	RuleNone Rule = iota
	RuleCreatorInvalid
	RuleNoPartners
	RuleAllEnded
	RuleLive
	RuleReady
	RuleWaiting
	RuleNoShow
)

func (r Rule) String() string {
	switch r {
	case RuleCreatorInvalid:
		return "creator_invalid"
	case RuleNoPartners:
		return "no_partners"
	case RuleAllEnded:
		return "all_ended"
	case RuleLive:
		return "live"
	case RuleReady:
		return "ready"
	case RuleWaiting:
		return "waiting"
	case RuleNoShow:
		return "no_show"
	}
	return "none"
}

// Totals are the cross-broadcast engagement sums recorded when a collab ends.
type Totals struct {
	Views    int64
	Likes    int64
	Comments int64
}

// Decision is the outcome of evaluating an Observation.
type Decision struct {
	Next   models.CollabStatus
	Rule   Rule
	Totals *Totals // set when Next is ended
}

// Changed reports whether the decision moves the collab to a new status.
func (d Decision) Changed(from models.CollabStatus) bool {
	return d.Next != from
}

var transitions = map[models.CollabStatus][]models.CollabStatus{
	models.CollabOpen:       {models.CollabSettingUp, models.CollabInProgress, models.CollabCancelled},
	models.CollabSettingUp:  {models.CollabInProgress, models.CollabCancelled},
	models.CollabInProgress: {models.CollabEnded},
}

// CanTransition reports whether from -> to is allowed. Staying put is always allowed.
func CanTransition(from, to models.CollabStatus) bool {
	if from == to {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Decide computes the next status for a collab in status cur with the given
// partner capacity. It is a pure function of its inputs.
//
// Rules are evaluated in order and the first match wins. A target the
// transition table forbids becomes a no-op, except that a setting_up collab
// whose broadcasts all ended without going live is cancelled.
func Decide(cur models.CollabStatus, maxPartners int, obs Observation) Decision {
	if cur.Terminal() {
		return Decision{Next: cur}
	}
	d := evaluate(cur, maxPartners, obs)
	if CanTransition(cur, d.Next) {
		return d
	}
	if d.Next == models.CollabEnded && CanTransition(cur, models.CollabCancelled) {
		return Decision{Next: models.CollabCancelled, Rule: RuleNoShow}
	}
	return Decision{Next: cur}
}

func evaluate(cur models.CollabStatus, maxPartners int, obs Observation) Decision {
	creator := obs.Creator
	partners := len(obs.Partners)

	if cur == models.CollabOpen && (!creator.IsValid || (!creator.IsLive && !creator.IsWaitingRoom)) {
		return Decision{Next: models.CollabCancelled, Rule: RuleCreatorInvalid}
	}

	allEnded := creator.Ended()
	for _, p := range obs.Partners {
		if !p.Ended() {
			allEnded = false
		}
	}

	if partners == 0 && (creator.IsLive || allEnded) {
		return Decision{Next: models.CollabCancelled, Rule: RuleNoPartners}
	}

	if allEnded {
		return Decision{Next: models.CollabEnded, Rule: RuleAllEnded, Totals: sumTotals(obs)}
	}

	live := creator.IsLive
	if cur == models.CollabInProgress {
		for _, p := range obs.Partners {
			live = live || p.IsLive
		}
	}
	if live && partners >= 1 {
		return Decision{Next: models.CollabInProgress, Rule: RuleLive}
	}

	if creator.IsWaitingRoom {
		if partners >= maxPartners {
			return Decision{Next: models.CollabSettingUp, Rule: RuleReady}
		}
		return Decision{Next: models.CollabOpen, Rule: RuleWaiting}
	}

	return Decision{Next: cur}
}

func sumTotals(obs Observation) *Totals {
	t := &Totals{}
	add := func(s models.StreamSignal) {
		if !s.IsValid {
			return
		}
		t.Views += s.ViewCount
		t.Likes += s.LikeCount
		t.Comments += s.CommentCount
	}
	add(obs.Creator)
	for _, p := range obs.Partners {
		add(p)
	}
	return t
}

// Apply records obs on c, evaluates Decide and applies the outcome. Partner
// signals are assigned to occupied slots in slot order. startedAt is set once;
// endedAt is set on entering a terminal status.
func Apply(c *models.Collab, obs Observation, now time.Time) Decision {
	d := Decide(c.Status, c.MaxPartners, obs)
	if c.Status.Terminal() {
		return d
	}

	c.CreatorSignal = obs.Creator
	i := 0
	for _, slot := range c.Slots {
		if slot == nil || i >= len(obs.Partners) {
			continue
		}
		sig := obs.Partners[i]
		slot.Signal = &sig
		i++
	}
	c.SetTimeRemaining(now)
	c.LastStatusCheck = &now
	c.UpdatedAt = now

	if !d.Changed(c.Status) {
		return d
	}
	c.Status = d.Next
	switch d.Next {
	case models.CollabInProgress:
		if c.StartedAt == nil {
			c.StartedAt = &now
		}
	case models.CollabEnded, models.CollabCancelled:
		c.EndedAt = &now
		c.WaitingList = nil
		if d.Totals != nil {
			c.TotalViews = d.Totals.Views
			c.TotalLikes = d.Totals.Likes
			c.TotalComments = d.Totals.Comments
		}
	}
	return d
}
