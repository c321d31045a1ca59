package entity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(t time.Time) string {
	return t.Format("2006-01-02 15:04:05")
}

func TestHasValidPremium(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		user User
		want bool
	}{
		{
			name: "admin always valid",
			user: User{Status: StatusStandard, IsAdmin: true},
			want: true,
		},
		{
			name: "standard never valid",
			user: User{Status: StatusStandard},
			want: false,
		},
		{
			name: "aligned is not premium on its own",
			user: User{Status: StatusAligned},
			want: false,
		},
		{
			name: "premium without expiry is permanent",
			user: User{Status: StatusPremium},
			want: true,
		},
		{
			name: "premium before expiry",
			user: User{Status: StatusPremium, PremiumExpiresAt: ts(now.Add(time.Hour))},
			want: true,
		},
		{
			name: "premium past expiry",
			user: User{Status: StatusPremium, PremiumExpiresAt: ts(now.Add(-time.Hour))},
			want: false,
		},
		{
			name: "unparseable expiry fails open",
			user: User{Status: StatusPremium, PremiumExpiresAt: "not-a-date"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.user.HasValidPremium(now))
		})
	}
}

func TestPremiumExpired(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	expired := User{Status: StatusPremium, PremiumExpiresAt: ts(now.Add(-time.Minute))}
	assert.True(t, expired.PremiumExpired(now))
	assert.Equal(t, StatusStandard, expired.EffectiveStatus(now))

	// a malformed timestamp must not demote anyone
	broken := User{Status: StatusPremium, PremiumExpiresAt: "garbage"}
	assert.False(t, broken.PremiumExpired(now))
	assert.Equal(t, StatusPremium, broken.EffectiveStatus(now))

	standard := User{Status: StatusStandard, PremiumExpiresAt: ts(now.Add(-time.Minute))}
	assert.False(t, standard.PremiumExpired(now))
}

func TestAvailableSlots(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	user := User{
		Friends: []string{"alice"},
		SlotsInfo: []*Slot{
			{Id: "s0"}, // paired with alice by position
			{Id: "s1", ExpiresAt: ts(now.Add(-time.Hour))},
			{Id: "s2"},
			{Id: "s3", ExpiresAt: ts(now.Add(time.Hour))},
		},
	}

	assert.Equal(t, 2, user.AvailableSlots(now))
	assert.Len(t, user.ValidSlots(now), 3)
}

func TestFriendIndexCaseInsensitive(t *testing.T) {
	user := User{Friends: []string{"Alice", "bob"}}

	assert.Equal(t, 0, user.FriendIndex("alice"))
	assert.Equal(t, 1, user.FriendIndex("BOB"))
	assert.Equal(t, -1, user.FriendIndex("carol"))
	assert.True(t, user.HasFriend("ALICE"))
}

func TestForceDisconnectDevices(t *testing.T) {
	user := User{
		LauncherConnected: true,
		LastConnection:    "2026-03-10 11:00:00",
		ActiveDevices: []*Device{
			{DeviceId: "d1"},
			{DeviceId: "d2", Disconnected: true},
		},
		Devices: []*Device{{DeviceId: "d1"}},
	}

	user.ForceDisconnectDevices("premium_lost")

	assert.False(t, user.LauncherConnected)
	assert.Empty(t, user.LastConnection)
	assert.Nil(t, user.Devices)
	// records stay on the active list so polling clients see the flag
	for _, device := range user.ActiveDevices {
		assert.True(t, device.Disconnected)
		assert.True(t, device.ForceDisconnect)
		assert.Equal(t, "premium_lost", device.DisconnectReason)
	}
}
