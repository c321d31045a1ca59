package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlotExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	assert.False(t, (&Slot{}).Expired(now))
	assert.False(t, (&Slot{ExpiresAt: ts(now.Add(time.Hour))}).Expired(now))
	assert.True(t, (&Slot{ExpiresAt: ts(now.Add(-time.Hour))}).Expired(now))
	assert.False(t, (&Slot{ExpiresAt: "broken"}).Expired(now))
}

func TestCooldownDaysLeft(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		lastRemoval string
		want        int
	}{
		{"never removed", "", 0},
		{"removed today", ts(now), 7},
		{"removed three days ago", ts(now.AddDate(0, 0, -3)), 4},
		{"removed seven days ago", ts(now.AddDate(0, 0, -7)), 0},
		{"malformed timestamp", "yesterday-ish", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slot := &Slot{LastRemovalTime: tt.lastRemoval}
			assert.Equal(t, tt.want, slot.CooldownDaysLeft(now))
		})
	}
}

func TestMarkRemoved(t *testing.T) {
	slot := &Slot{
		AssignedTo: "alice",
		UsersHistory: []SlotUserEntry{
			{Username: "bob", Status: SlotUserRemoved},
			{Username: "alice", Status: SlotUserActive},
		},
	}

	slot.MarkRemoved("alice", SlotUserRemoved)

	assert.Empty(t, slot.AssignedTo)
	assert.Equal(t, SlotUserRemoved, slot.UsersHistory[1].Status)
	assert.NotEmpty(t, slot.UsersHistory[1].RemovedAt)
	assert.NotEmpty(t, slot.LastRemovalTime)
}

func TestMarkRemovedSelfRemovalSkipsCooldown(t *testing.T) {
	slot := &Slot{
		AssignedTo: "alice",
		UsersHistory: []SlotUserEntry{
			{Username: "alice", Status: SlotUserActive},
		},
	}

	slot.MarkRemoved("alice", SlotUserSelfRemoved)

	assert.Empty(t, slot.AssignedTo)
	assert.Equal(t, SlotUserSelfRemoved, slot.UsersHistory[0].Status)
	assert.Empty(t, slot.LastRemovalTime)
}

func TestAssign(t *testing.T) {
	slot := &Slot{}
	slot.Assign("carol")

	assert.Equal(t, "carol", slot.AssignedTo)
	assert.Len(t, slot.UsersHistory, 1)
	assert.Equal(t, SlotUserActive, slot.UsersHistory[0].Status)
	assert.NotEmpty(t, slot.UsersHistory[0].AssignedAt)
}
