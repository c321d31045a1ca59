// Package devices manages launcher bindings: the primary-device lock-in,
// connection lifecycle, forced disconnect polling and play session
// reporting. The first device to bind a launcher code becomes primary;
// every later connection from another device is refused until the owner
// resets the binding, at most once per rolling week.
package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"recloud/entity"
	"recloud/lib/clock"
	"recloud/lib/keylock"
	"recloud/lib/sl"
)

const resetWindowDays = 7

var (
	ErrInvalidCode      = errors.New("invalid launcher code")
	ErrUserNotFound     = errors.New("user not found")
	ErrNoPremium        = errors.New("premium status required")
	ErrNotPrimaryDevice = errors.New("this launcher code is locked to another device")
	ErrDeviceNotFound   = errors.New("device not found")
	ErrNoPrimaryDevice  = errors.New("no primary device registered")
)

// ResetTooSoonError reports a primary reset attempted inside the
// 7-day window.
type ResetTooSoonError struct {
	DaysLeft int
}

func (e *ResetTooSoonError) Error() string {
	return fmt.Sprintf("primary device can be reset in %d day(s)", e.DaysLeft)
}

type UserStore interface {
	UserById(id string) (*entity.User, error)
	UserByLauncherCode(code string) (*entity.User, error)
	SaveUsers(users []*entity.User) error
}

// Entitlement reconciles a possibly stale stored status before the
// manager answers for it.
type Entitlement interface {
	ReconcileUser(ctx context.Context, user *entity.User) (*entity.User, error)
}

// Catalog resolves game metadata for session records.
type Catalog interface {
	Game(ctx context.Context, id string) (entity.Game, bool)
}

type Manager struct {
	store       UserStore
	entitlement Entitlement
	catalog     Catalog
	locks       *keylock.KeyLock
	log         *slog.Logger
}

func New(store UserStore, entitlement Entitlement, catalog Catalog, locks *keylock.KeyLock, log *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		entitlement: entitlement,
		catalog:     catalog,
		locks:       locks,
		log:         log.With(sl.Module("devices")),
	}
}

// ConnectResult is what a launcher gets back on a successful bind.
type ConnectResult struct {
	Username             string        `json:"username"`
	Status               entity.Status `json:"status"`
	StatusExpires        string        `json:"status_expires"`
	PremiumExpiresInDays int           `json:"premium_expires_in_days,omitempty"`
	DeviceId             string        `json:"device_id"`
	UniqueId             string        `json:"unique_id"`
}

// Connect binds a launcher to the account owning the code. The stored
// status is reconciled first, so an expired premium refuses the
// connection instead of honoring stale data.
func (m *Manager) Connect(ctx context.Context, code, deviceId, deviceName, deviceOs string) (*ConnectResult, error) {
	user, err := m.store.UserByLauncherCode(code)
	if err != nil {
		return nil, ErrInvalidCode
	}
	user, err = m.entitlement.ReconcileUser(ctx, user)
	if err != nil {
		m.log.Error("connect: reconcile", sl.Err(err), sl.User(user.Username))
	}
	if !user.HasPremiumAccess() {
		return nil, ErrNoPremium
	}
	if deviceId == "" {
		deviceId = entity.NewDeviceId()
	}

	unlock := m.locks.Lock(user.Id)
	defer unlock()

	user, err = m.store.UserById(user.Id)
	if err != nil {
		return nil, ErrUserNotFound
	}

	now := clock.Now()
	if user.PrimaryDevice == nil {
		user.PrimaryDevice = &entity.PrimaryDevice{
			DeviceId:     deviceId,
			DeviceName:   deviceName,
			DeviceOs:     deviceOs,
			RegisteredAt: now,
		}
		m.log.Info("primary device registered", sl.User(user.Username), slog.String("device", deviceId))
	} else if user.PrimaryDevice.DeviceId != deviceId {
		return nil, ErrNotPrimaryDevice
	}

	upsertDevice(user, deviceId, deviceName, deviceOs, now)
	user.LauncherConnected = true
	user.LastConnection = now
	user.LastConnectedDevice = deviceName

	if err = m.store.SaveUsers([]*entity.User{user}); err != nil {
		return nil, err
	}
	return m.connectResult(user, deviceId), nil
}

func (m *Manager) connectResult(user *entity.User, deviceId string) *ConnectResult {
	result := &ConnectResult{
		Username:      user.Username,
		Status:        user.Status,
		StatusExpires: "0",
		DeviceId:      deviceId,
		UniqueId:      user.UniqueId,
	}
	if user.PremiumExpiresAt != "" {
		result.StatusExpires = user.PremiumExpiresAt
		if days, err := clock.DaysUntil(time.Now(), user.PremiumExpiresAt); err == nil && days > 0 {
			result.PremiumExpiresInDays = days
		}
	}
	return result
}

// upsertDevice records a connection on both the live active_devices view
// and the historical devices view, reviving a previous record for the
// same id and clearing its disconnect flags.
func upsertDevice(user *entity.User, deviceId, deviceName, deviceOs, now string) {
	user.ActiveDevices = upsertInto(user.ActiveDevices, deviceId, deviceName, deviceOs, now)
	user.Devices = upsertInto(user.Devices, deviceId, deviceName, deviceOs, now)
}

func upsertInto(list []*entity.Device, deviceId, deviceName, deviceOs, now string) []*entity.Device {
	for _, device := range list {
		if device.DeviceId != deviceId {
			continue
		}
		device.DeviceName = deviceName
		device.DeviceOs = deviceOs
		device.LastConnection = now
		device.Disconnected = false
		device.ForceDisconnect = false
		device.DisconnectReason = ""
		device.DisconnectedAt = ""
		device.CodeChanged = false
		return list
	}
	return append(list, &entity.Device{
		DeviceId:        deviceId,
		DeviceName:      deviceName,
		DeviceOs:        deviceOs,
		FirstConnection: now,
		LastConnection:  now,
	})
}

// StatusResult answers a launcher status poll.
type StatusResult struct {
	Status               entity.Status `json:"status"`
	StatusExpires        string        `json:"status_expires"`
	PremiumExpiresInDays int           `json:"premium_expires_in_days,omitempty"`
	HasPremium           bool          `json:"has_premium"`
}

// CheckStatus reports the account's live entitlement. Reconciliation runs
// first so a poll never echoes an already expired status.
func (m *Manager) CheckStatus(ctx context.Context, userId string) (*StatusResult, error) {
	user, err := m.store.UserById(userId)
	if err != nil {
		return nil, ErrUserNotFound
	}
	user, err = m.entitlement.ReconcileUser(ctx, user)
	if err != nil {
		m.log.Error("status: reconcile", sl.Err(err), sl.User(user.Username))
	}

	result := &StatusResult{
		Status:        user.Status,
		StatusExpires: "0",
		HasPremium:    user.HasPremiumAccess(),
	}
	if user.PremiumExpiresAt != "" {
		result.StatusExpires = user.PremiumExpiresAt
		if days, derr := clock.DaysUntil(time.Now(), user.PremiumExpiresAt); derr == nil && days > 0 {
			result.PremiumExpiresInDays = days
		}
	}
	return result, nil
}

// ConnectionState is what a connected launcher polls for.
type ConnectionState struct {
	Connected       bool   `json:"connected"`
	ForceDisconnect bool   `json:"force_disconnect"`
	Reason          string `json:"reason,omitempty"`
	CodeChanged     bool   `json:"code_changed,omitempty"`
}

// CheckConnection tells a device whether it is still welcome. The
// account is reconciled first: disconnection is driven by this poll, so
// an expired premium must surface here, not on some later sweep. A
// device unknown to the account reads as disconnected rather than an
// error.
func (m *Manager) CheckConnection(ctx context.Context, userId, deviceId string) (*ConnectionState, error) {
	user, err := m.store.UserById(userId)
	if err != nil {
		return nil, ErrUserNotFound
	}
	user, err = m.entitlement.ReconcileUser(ctx, user)
	if err != nil {
		m.log.Error("connection: reconcile", sl.Err(err), sl.User(user.Username))
	}
	for _, device := range user.ActiveDevices {
		if device.DeviceId != deviceId {
			continue
		}
		return &ConnectionState{
			Connected:       !device.Disconnected,
			ForceDisconnect: device.ForceDisconnect,
			Reason:          device.DisconnectReason,
			CodeChanged:     device.CodeChanged,
		}, nil
	}
	return &ConnectionState{Connected: false}, nil
}

// Disconnect marks a voluntary device disconnect. The record stays on the
// list, only flagged.
func (m *Manager) Disconnect(ctx context.Context, userId, deviceId string) error {
	unlock := m.locks.Lock(userId)
	defer unlock()

	user, err := m.store.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}

	found := false
	now := clock.Now()
	for _, device := range user.ActiveDevices {
		if device.DeviceId != deviceId {
			continue
		}
		device.Disconnected = true
		device.DisconnectedAt = now
		found = true
	}
	if !found {
		return ErrDeviceNotFound
	}

	if user.PrimaryDevice != nil && user.PrimaryDevice.DeviceId == deviceId {
		user.LauncherConnected = false
		user.LastConnection = ""
	}
	return m.store.SaveUsers([]*entity.User{user})
}

// ResetPrimary clears the primary binding so the next connecting device
// claims it. Allowed once per seven days, tracked in the reset history.
func (m *Manager) ResetPrimary(ctx context.Context, userId string) error {
	unlock := m.locks.Lock(userId)
	defer unlock()

	user, err := m.store.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}
	if user.PrimaryDevice == nil {
		return ErrNoPrimaryDevice
	}

	now := time.Now()
	if last := lastReset(user); last != "" {
		days, derr := clock.DaysSince(now, last)
		if derr == nil && days < resetWindowDays {
			return &ResetTooSoonError{DaysLeft: resetWindowDays - days}
		}
	}

	user.DeviceResetHistory = append(user.DeviceResetHistory, entity.DeviceReset{
		Date:       clock.Format(now),
		DeviceId:   user.PrimaryDevice.DeviceId,
		DeviceName: user.PrimaryDevice.DeviceName,
		Action:     "primary_device_reset",
	})
	user.PrimaryDevice = nil
	user.ForceDisconnectDevices("primary_device_reset")

	if err = m.store.SaveUsers([]*entity.User{user}); err != nil {
		return err
	}
	m.log.Info("primary device reset", sl.User(user.Username))
	return nil
}

func lastReset(user *entity.User) string {
	if len(user.DeviceResetHistory) == 0 {
		return ""
	}
	return user.DeviceResetHistory[len(user.DeviceResetHistory)-1].Date
}

// RegenerateCode issues a new launcher code and severs every connected
// device, flagging code_changed so polling launchers know why.
func (m *Manager) RegenerateCode(ctx context.Context, userId string) (string, error) {
	unlock := m.locks.Lock(userId)
	defer unlock()

	user, err := m.store.UserById(userId)
	if err != nil {
		return "", ErrUserNotFound
	}

	user.LauncherCode = entity.NewLauncherCode()
	user.ForceDisconnectDevices("launcher_code_changed")
	for _, device := range user.ActiveDevices {
		device.CodeChanged = true
	}

	if err = m.store.SaveUsers([]*entity.User{user}); err != nil {
		return "", err
	}
	m.log.Info("launcher code regenerated", sl.User(user.Username))
	return user.LauncherCode, nil
}

// ListDevices returns the account's devices for display: the primary
// binding merged with the active list, newest connection first.
func (m *Manager) ListDevices(ctx context.Context, userId string) ([]*entity.Device, error) {
	user, err := m.store.UserById(userId)
	if err != nil {
		return nil, ErrUserNotFound
	}

	primaryId := ""
	if user.PrimaryDevice != nil {
		primaryId = user.PrimaryDevice.DeviceId
	}

	devices := make([]*entity.Device, 0, len(user.ActiveDevices)+1)
	seen := make(map[string]bool)
	for _, device := range user.ActiveDevices {
		view := *device
		view.IsPrimary = device.DeviceId == primaryId
		view.IsActive = !device.Disconnected
		devices = append(devices, &view)
		seen[device.DeviceId] = true
	}
	// a primary that never appeared on the active list still shows up
	if user.PrimaryDevice != nil && !seen[primaryId] {
		devices = append(devices, &entity.Device{
			DeviceId:        primaryId,
			DeviceName:      user.PrimaryDevice.DeviceName,
			DeviceOs:        user.PrimaryDevice.DeviceOs,
			FirstConnection: user.PrimaryDevice.RegisteredAt,
			LastConnection:  user.PrimaryDevice.RegisteredAt,
			IsPrimary:       true,
		})
	}

	sort.SliceStable(devices, func(i, j int) bool {
		return devices[i].LastConnection > devices[j].LastConnection
	})
	return devices, nil
}

// SessionReport is a launcher's play session submission. DeviceId is
// optional; when present the reporting device's connection timestamp is
// refreshed.
type SessionReport struct {
	GameId          string `json:"game_id" validate:"required"`
	DeviceId        string `json:"device_id,omitempty"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=0"`
}

// UpdateSession records a finished play session: bumps the games counter,
// adds the duration to the h/m total and appends a session entry with
// catalog metadata when the game is known.
func (m *Manager) UpdateSession(ctx context.Context, userId string, report SessionReport) error {
	unlock := m.locks.Lock(userId)
	defer unlock()

	user, err := m.store.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}

	name := "Game " + report.GameId
	image := ""
	if m.catalog != nil {
		if game, ok := m.catalog.Game(ctx, report.GameId); ok {
			name = game.Name
			image = game.Image
		}
	}

	now := time.Now()
	session := entity.GameSession{
		GameId:    report.GameId,
		GameName:  name,
		GameImage: image,
		Timestamp: clock.Format(now),
		Duration:  formatPlayTime(report.DurationMinutes),
		Date:      now.Format(clock.DateLayout),
	}

	// games_played counts distinct games, not sessions
	if !playedBefore(user, report.GameId) {
		user.GamesPlayed++
	}
	user.TotalPlayTime = addPlayTime(user.TotalPlayTime, report.DurationMinutes)
	user.GameSessions = append(user.GameSessions, session)
	user.LastSession = &session

	if report.DeviceId != "" {
		stampDeviceConnection(user, report.DeviceId, clock.Format(now))
	}

	return m.store.SaveUsers([]*entity.User{user})
}

// stampDeviceConnection refreshes the connection timestamp on the device
// matching deviceId. An unknown device id is ignored; the session itself
// is still recorded.
func stampDeviceConnection(user *entity.User, deviceId, stamp string) {
	for i := range user.ActiveDevices {
		if user.ActiveDevices[i].DeviceId == deviceId {
			user.ActiveDevices[i].LastConnection = stamp
		}
	}
	for i := range user.Devices {
		if user.Devices[i].DeviceId == deviceId {
			user.Devices[i].LastConnection = stamp
		}
	}
}

func playedBefore(user *entity.User, gameId string) bool {
	for _, session := range user.GameSessions {
		if session.GameId == gameId {
			return true
		}
	}
	return false
}

// addPlayTime adds minutes to an "Xh Ym" total. A blank or malformed
// total restarts the counter instead of failing the session write.
func addPlayTime(total string, minutes int) string {
	var h, m int
	if total != "" {
		if _, err := fmt.Sscanf(total, "%dh %dm", &h, &m); err != nil {
			h, m = 0, 0
		}
	}
	return formatPlayTime(h*60 + m + minutes)
}

func formatPlayTime(minutes int) string {
	if minutes < 0 {
		minutes = 0
	}
	return fmt.Sprintf("%dh %dm", minutes/60, minutes%60)
}
