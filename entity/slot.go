package entity

import (
	"time"

	"recloud/lib/clock"
)

// Slot user history states.
const (
	SlotUserActive      = "active"
	SlotUserRemoved     = "removed"
	SlotUserSelfRemoved = "self_removed"
)

// CooldownDays is the lockout after a recipient is removed from a slot
// before that slot can go through the removal flow again.
const CooldownDays = 7

// SlotUserEntry records one occupant of a slot over its lifetime.
type SlotUserEntry struct {
	Username   string `json:"username" bson:"username"`
	AssignedAt string `json:"assigned_at" bson:"assigned_at"`
	Status     string `json:"status" bson:"status"`
	RemovedAt  string `json:"removed_at,omitempty" bson:"removed_at,omitempty"`
}

// Slot is a delegation right owned by a Premium user. An empty ExpiresAt
// means the slot is permanent. Expired slots are filtered at read time,
// never purged from the document.
type Slot struct {
	Id              string          `json:"id" bson:"id"`
	Source          string          `json:"source" bson:"source"`
	CreatedAt       string          `json:"created_at" bson:"created_at"`
	ExpiresAt       string          `json:"expires_at,omitempty" bson:"expires_at,omitempty"`
	AssignedTo      string          `json:"assigned_to,omitempty" bson:"assigned_to,omitempty"`
	UsersHistory    []SlotUserEntry `json:"users_history" bson:"users_history"`
	LastUpdate      string          `json:"last_update" bson:"last_update"`
	LastRemovalTime string          `json:"last_removal_time,omitempty" bson:"last_removal_time,omitempty"`
}

// Expired reports whether the slot's expiry has passed. Permanent slots
// and slots with an unreadable expiry never expire (fail open).
func (s *Slot) Expired(now time.Time) bool {
	if s.ExpiresAt == "" {
		return false
	}
	expiresAt, err := clock.Parse(s.ExpiresAt)
	if err != nil {
		return false
	}
	return now.After(expiresAt)
}

// CooldownDaysLeft returns how many more days the slot is locked after its
// last removal, or 0 when the slot is free to reassign. A malformed
// removal timestamp does not block removal.
func (s *Slot) CooldownDaysLeft(now time.Time) int {
	if s.LastRemovalTime == "" {
		return 0
	}
	since, err := clock.DaysSince(now, s.LastRemovalTime)
	if err != nil {
		return 0
	}
	if since >= CooldownDays {
		return 0
	}
	return CooldownDays - since
}

// MarkRemoved closes the active history entry for username with the given
// state and clears the assignment. The cooldown anchor is stamped only for
// owner-initiated removals; self-removal does not start a cooldown.
func (s *Slot) MarkRemoved(username, state string) {
	now := clock.Now()
	for i := range s.UsersHistory {
		entry := &s.UsersHistory[i]
		if entry.Username == username && entry.Status == SlotUserActive {
			entry.Status = state
			entry.RemovedAt = now
		}
	}
	s.AssignedTo = ""
	s.LastUpdate = now
	if state == SlotUserRemoved {
		s.LastRemovalTime = now
	}
}

// Assign records username as the slot's current occupant.
func (s *Slot) Assign(username string) {
	now := clock.Now()
	s.AssignedTo = username
	s.LastUpdate = now
	s.UsersHistory = append(s.UsersHistory, SlotUserEntry{
		Username:   username,
		AssignedAt: now,
		Status:     SlotUserActive,
	})
}
