package entity

import (
	"net/http"
	"strings"
	"time"

	"recloud/lib/clock"
	"recloud/lib/validate"
)

// Status is the stored entitlement level of an account.
// Stored status is never trusted on its own: every read path re-validates
// expiry via HasValidPremium / the entitlement reconciler.
type Status string

const (
	StatusStandard Status = "Standard"
	StatusPremium  Status = "Premium"
	StatusAligned  Status = "Premium (Aligned)" // granted through another user's slot
	StatusAdmin    Status = "Admin"
)

// HistoryEntry is one line of a user's append-only premium audit log.
type HistoryEntry struct {
	Date    string `json:"date" bson:"date"`
	Action  string `json:"action" bson:"action"`
	Details string `json:"details" bson:"details"`
}

// GameSession is one launcher play session report.
type GameSession struct {
	GameId    string `json:"game_id" bson:"game_id"`
	GameName  string `json:"game_name" bson:"game_name"`
	GameImage string `json:"game_image" bson:"game_image"`
	Timestamp string `json:"timestamp" bson:"timestamp"`
	Duration  string `json:"duration" bson:"duration"`
	Date      string `json:"date" bson:"date"`
}

// User is an account with its full entitlement state.
//
// Friends and SlotsInfo are positionally coupled: the recipient at
// Friends[i] occupies the i-th slot of SlotsInfo in storage order. Slot
// assignment and removal rely on this index convention, not on an id join.
type User struct {
	Id       string `json:"id" bson:"id" validate:"required"`
	Username string `json:"username" bson:"username" validate:"required"`
	Email    string `json:"email" bson:"email" validate:"omitempty,email"`
	Password string `json:"-" bson:"password"`
	Token    string `json:"-" bson:"token"`
	JoinDate string `json:"join_date" bson:"join_date"`

	Status           Status `json:"status" bson:"status"`
	IsAdmin          bool   `json:"is_admin" bson:"is_admin"`
	PremiumExpiresAt string `json:"premium_expires_at,omitempty" bson:"premium_expires_at,omitempty"`
	PremiumSource    string `json:"premium_source,omitempty" bson:"premium_source,omitempty"`
	AlignedBy        string `json:"aligned_by,omitempty" bson:"aligned_by,omitempty"`

	Slots          int            `json:"slots" bson:"slots"`
	SlotsInfo      []*Slot        `json:"slots_info,omitempty" bson:"slots_info,omitempty"`
	Friends        []string       `json:"friends" bson:"friends"`
	PremiumHistory []HistoryEntry `json:"premium_history,omitempty" bson:"premium_history,omitempty"`

	LauncherCode        string         `json:"launcher_code,omitempty" bson:"launcher_code,omitempty"`
	LauncherConnected   bool           `json:"launcher_connected" bson:"launcher_connected"`
	LastConnection      string         `json:"last_connection,omitempty" bson:"last_connection,omitempty"`
	LastConnectedDevice string         `json:"last_connected_device,omitempty" bson:"last_connected_device,omitempty"`
	UniqueId            string         `json:"unique_id" bson:"unique_id"`
	PrimaryDevice       *PrimaryDevice `json:"primary_device,omitempty" bson:"primary_device,omitempty"`
	ActiveDevices       []*Device      `json:"active_devices,omitempty" bson:"active_devices,omitempty"`
	Devices             []*Device      `json:"devices,omitempty" bson:"devices,omitempty"`
	DeviceResetHistory  []DeviceReset  `json:"device_reset_history,omitempty" bson:"device_reset_history,omitempty"`

	GamesPlayed   int           `json:"games_played" bson:"games_played"`
	TotalPlayTime string        `json:"total_play_time" bson:"total_play_time"`
	GameSessions  []GameSession `json:"game_sessions,omitempty" bson:"game_sessions,omitempty"`
	LastSession   *GameSession  `json:"last_session,omitempty" bson:"last_session,omitempty"`
}

func (u *User) Bind(_ *http.Request) error {
	return validate.Struct(u)
}

// HasValidPremium reports whether the account currently holds a valid
// premium entitlement. Admins always qualify. An unparseable expiry
// timestamp counts as valid: a data error must not lock a user out.
func (u *User) HasValidPremium(now time.Time) bool {
	if u.IsAdmin {
		return true
	}
	if u.Status != StatusPremium {
		return false
	}
	if u.PremiumExpiresAt == "" {
		return true
	}
	expiresAt, err := clock.Parse(u.PremiumExpiresAt)
	if err != nil {
		return true
	}
	return !now.After(expiresAt)
}

// PremiumExpired reports whether a stored Premium status has passed its
// expiry. False for permanent premium and for malformed expiry strings.
func (u *User) PremiumExpired(now time.Time) bool {
	if u.Status != StatusPremium || u.PremiumExpiresAt == "" {
		return false
	}
	expiresAt, err := clock.Parse(u.PremiumExpiresAt)
	if err != nil {
		return false
	}
	return now.After(expiresAt)
}

// EffectiveStatus recomputes the status a reader should act on,
// downgrading a stored Premium whose expiry has passed. Alignment
// staleness needs the owner's document and is resolved by the reconciler.
func (u *User) EffectiveStatus(now time.Time) Status {
	if u.PremiumExpired(now) {
		return StatusStandard
	}
	return u.Status
}

// HasPremiumAccess reports whether the stored status grants launcher
// access. Callers reconcile the user first so the stored status is fresh.
func (u *User) HasPremiumAccess() bool {
	switch u.Status {
	case StatusPremium, StatusAligned, StatusAdmin:
		return true
	}
	return false
}

func (u *User) AppendHistory(action, details string) {
	u.PremiumHistory = append(u.PremiumHistory, HistoryEntry{
		Date:    clock.Now(),
		Action:  action,
		Details: details,
	})
}

// HasFriend reports whether username occupies one of the user's slots.
// Comparison is case-insensitive, matching username uniqueness rules.
func (u *User) HasFriend(username string) bool {
	return u.FriendIndex(username) >= 0
}

func (u *User) FriendIndex(username string) int {
	for i, f := range u.Friends {
		if strings.EqualFold(f, username) {
			return i
		}
	}
	return -1
}

// AvailableSlots counts slots that are neither expired nor already paired
// with a friends entry. Slot i is taken iff i < len(Friends).
func (u *User) AvailableSlots(now time.Time) int {
	available := 0
	assigned := len(u.Friends)
	for i, slot := range u.SlotsInfo {
		if i < assigned {
			continue
		}
		if slot.Expired(now) {
			continue
		}
		available++
	}
	return available
}

// ValidSlots returns the slots that have not expired, in storage order.
func (u *User) ValidSlots(now time.Time) []*Slot {
	valid := make([]*Slot, 0, len(u.SlotsInfo))
	for _, slot := range u.SlotsInfo {
		if slot.Expired(now) {
			continue
		}
		valid = append(valid, slot)
	}
	return valid
}

// ForceDisconnectDevices marks every active device for forced disconnect,
// clears the historical device list and drops the live connection flag.
// Active device records are kept so polling clients can read the flag.
func (u *User) ForceDisconnectDevices(reason string) {
	now := clock.Now()
	for _, device := range u.ActiveDevices {
		device.Disconnected = true
		device.ForceDisconnect = true
		device.DisconnectReason = reason
		device.DisconnectedAt = now
	}
	u.Devices = nil
	u.LauncherConnected = false
	u.LastConnection = ""
}
