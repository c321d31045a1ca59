package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recloud/entity"
	"recloud/lib/clock"
	"recloud/lib/keylock"
)

type memStore struct {
	users     map[string]*entity.User
	saveCalls int
}

var _ UserStore = (*memStore)(nil)

func newMemStore(users ...*entity.User) *memStore {
	s := &memStore{users: make(map[string]*entity.User)}
	for _, u := range users {
		s.users[u.Id] = u
	}
	return s
}

func (s *memStore) Users() ([]*entity.User, error) {
	list := make([]*entity.User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, u)
	}
	return list, nil
}

func (s *memStore) UserById(id string) (*entity.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func (s *memStore) UserByUsername(username string) (*entity.User, error) {
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memStore) SaveUsers(users []*entity.User) error {
	s.saveCalls++
	for _, u := range users {
		s.users[u.Id] = u
	}
	return nil
}

// snapshotStore hands out independent document copies the way a real
// store does. The hook commits a write right after the first listing or
// username lookup, modeling a mutation landing between candidate
// resolution and lock acquisition.
type snapshotStore struct {
	mu     sync.Mutex
	users  map[string]*entity.User
	onRead func()
}

var _ UserStore = (*snapshotStore)(nil)

func newSnapshotStore(users ...*entity.User) *snapshotStore {
	s := &snapshotStore{users: make(map[string]*entity.User)}
	for _, u := range users {
		s.users[u.Id] = cloneUser(u)
	}
	return s
}

func (s *snapshotStore) put(u *entity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Id] = cloneUser(u)
}

func (s *snapshotStore) fireHook() func() {
	hook := s.onRead
	s.onRead = nil
	return hook
}

func (s *snapshotStore) Users() ([]*entity.User, error) {
	s.mu.Lock()
	list := make([]*entity.User, 0, len(s.users))
	for _, u := range s.users {
		list = append(list, cloneUser(u))
	}
	hook := s.fireHook()
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return list, nil
}

func (s *snapshotStore) UserById(id string) (*entity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return cloneUser(u), nil
}

func (s *snapshotStore) UserByUsername(username string) (*entity.User, error) {
	s.mu.Lock()
	var found *entity.User
	for _, u := range s.users {
		if strings.EqualFold(u.Username, username) {
			found = cloneUser(u)
			break
		}
	}
	hook := s.fireHook()
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	if found == nil {
		return nil, errors.New("not found")
	}
	return found, nil
}

func (s *snapshotStore) SaveUsers(users []*entity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.users[u.Id] = cloneUser(u)
	}
	return nil
}

func cloneUser(u *entity.User) *entity.User {
	c := *u
	c.Friends = append([]string(nil), u.Friends...)
	c.PremiumHistory = append([]entity.HistoryEntry(nil), u.PremiumHistory...)
	c.SlotsInfo = make([]*entity.Slot, len(u.SlotsInfo))
	for i, slot := range u.SlotsInfo {
		copied := *slot
		copied.UsersHistory = append([]entity.SlotUserEntry(nil), slot.UsersHistory...)
		c.SlotsInfo[i] = &copied
	}
	c.ActiveDevices = cloneDevices(u.ActiveDevices)
	c.Devices = cloneDevices(u.Devices)
	return &c
}

func cloneDevices(devices []*entity.Device) []*entity.Device {
	if devices == nil {
		return nil
	}
	out := make([]*entity.Device, len(devices))
	for i, d := range devices {
		copied := *d
		out[i] = &copied
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func expiredOwner(friends ...string) *entity.User {
	return &entity.User{
		Id:               "owner",
		Username:         "Owner",
		Status:           entity.StatusPremium,
		PremiumExpiresAt: clock.Format(time.Now().AddDate(0, 0, -8)),
		Friends:          friends,
	}
}

func alignedTo(id, username, owner string) *entity.User {
	return &entity.User{
		Id:        id,
		Username:  username,
		Status:    entity.StatusAligned,
		AlignedBy: owner,
	}
}

func TestSweepCascadesInOneBatch(t *testing.T) {
	store := newMemStore(
		expiredOwner("alice", "bob"),
		alignedTo("u-alice", "alice", "Owner"),
		alignedTo("u-bob", "bob", "Owner"),
		&entity.User{Id: "bystander", Username: "carol", Status: entity.StatusPremium},
	)
	svc := New(store, keylock.New(), testLogger())

	svc.Sweep(context.Background())

	assert.Equal(t, 1, store.saveCalls)

	owner := store.users["owner"]
	assert.Equal(t, entity.StatusStandard, owner.Status)
	assert.Empty(t, owner.PremiumExpiresAt)
	assert.Empty(t, owner.Friends)
	assert.False(t, owner.LauncherConnected)

	for _, id := range []string{"u-alice", "u-bob"} {
		dep := store.users[id]
		assert.Equal(t, entity.StatusStandard, dep.Status, id)
		assert.Empty(t, dep.AlignedBy, id)
		require.NotEmpty(t, dep.PremiumHistory, id)
		assert.Contains(t, dep.PremiumHistory[len(dep.PremiumHistory)-1].Details, "Alignment from Owner")
	}

	// permanent premium is untouched
	assert.Equal(t, entity.StatusPremium, store.users["bystander"].Status)
}

func TestSweepSkipsDependentAlignedElsewhere(t *testing.T) {
	store := newMemStore(
		expiredOwner("alice"),
		alignedTo("u-alice", "alice", "SomeoneElse"),
	)
	svc := New(store, keylock.New(), testLogger())

	svc.Sweep(context.Background())

	assert.Equal(t, entity.StatusAligned, store.users["u-alice"].Status)
	assert.Equal(t, "SomeoneElse", store.users["u-alice"].AlignedBy)
}

func TestSweepNoExpiredUsersWritesNothing(t *testing.T) {
	store := newMemStore(
		&entity.User{Id: "u1", Username: "alice", Status: entity.StatusPremium},
		&entity.User{Id: "u2", Username: "bob", Status: entity.StatusStandard},
	)
	svc := New(store, keylock.New(), testLogger())

	svc.Sweep(context.Background())

	assert.Zero(t, store.saveCalls)
}

func TestSweepIsIdempotent(t *testing.T) {
	store := newMemStore(expiredOwner("alice"), alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	svc.Sweep(context.Background())
	historyLen := len(store.users["owner"].PremiumHistory)

	svc.Sweep(context.Background())

	assert.Equal(t, 1, store.saveCalls)
	assert.Len(t, store.users["owner"].PremiumHistory, historyLen)
}

func TestReconcileUserDemotesLazily(t *testing.T) {
	store := newMemStore(expiredOwner("alice"), alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	got, err := svc.ReconcileUser(context.Background(), store.users["owner"])
	require.NoError(t, err)

	assert.Equal(t, entity.StatusStandard, got.Status)
	assert.Equal(t, entity.StatusStandard, store.users["u-alice"].Status)
	assert.Equal(t, 1, store.saveCalls)
}

func TestReconcileUserLeavesValidPremiumAlone(t *testing.T) {
	user := &entity.User{
		Id:               "u1",
		Username:         "alice",
		Status:           entity.StatusPremium,
		PremiumExpiresAt: clock.Format(time.Now().AddDate(0, 0, 3)),
	}
	store := newMemStore(user)
	svc := New(store, keylock.New(), testLogger())

	got, err := svc.ReconcileUser(context.Background(), user)
	require.NoError(t, err)

	assert.Same(t, user, got)
	assert.Equal(t, entity.StatusPremium, got.Status)
	assert.Zero(t, store.saveCalls)
}

func TestDemoteByAdmin(t *testing.T) {
	owner := &entity.User{
		Id:       "owner",
		Username: "Owner",
		Status:   entity.StatusPremium,
		Friends:  []string{"alice"},
	}
	store := newMemStore(owner, alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	err := svc.Demote(context.Background(), "owner", "Status changed by admin.")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusStandard, store.users["owner"].Status)
	assert.Equal(t, entity.StatusStandard, store.users["u-alice"].Status)
	require.NotEmpty(t, store.users["owner"].PremiumHistory)
	assert.Contains(t, store.users["owner"].PremiumHistory[0].Details, "Status changed by admin.")
}

func TestSweepReloadsAccountsUnderLock(t *testing.T) {
	store := newSnapshotStore(expiredOwner("alice"), alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	// the dependent gets their own premium after the sweep's listing but
	// before its locks; the cascade must see the fresh document
	expiry := clock.Format(time.Now().AddDate(0, 0, 30))
	store.onRead = func() {
		upgraded := &entity.User{
			Id: "u-alice", Username: "alice",
			Status:           entity.StatusPremium,
			PremiumExpiresAt: expiry,
		}
		store.put(upgraded)
	}

	svc.Sweep(context.Background())

	saved, err := store.UserById("u-alice")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPremium, saved.Status)
	assert.Equal(t, expiry, saved.PremiumExpiresAt)

	owner, err := store.UserById("owner")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStandard, owner.Status)
}

func TestReconcileUserReloadsDependentsUnderLock(t *testing.T) {
	owner := expiredOwner("alice")
	store := newSnapshotStore(owner, alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	expiry := clock.Format(time.Now().AddDate(0, 0, 30))
	store.onRead = func() {
		upgraded := &entity.User{
			Id: "u-alice", Username: "alice",
			Status:           entity.StatusPremium,
			PremiumExpiresAt: expiry,
		}
		store.put(upgraded)
	}

	got, err := svc.ReconcileUser(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, entity.StatusStandard, got.Status)

	saved, err := store.UserById("u-alice")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPremium, saved.Status)
	assert.Equal(t, expiry, saved.PremiumExpiresAt)
}

func TestDemoteReloadsDependentsUnderLock(t *testing.T) {
	owner := &entity.User{
		Id:       "owner",
		Username: "Owner",
		Status:   entity.StatusPremium,
		Friends:  []string{"alice"},
	}
	store := newSnapshotStore(owner, alignedTo("u-alice", "alice", "Owner"))
	svc := New(store, keylock.New(), testLogger())

	expiry := clock.Format(time.Now().AddDate(0, 0, 30))
	store.onRead = func() {
		upgraded := &entity.User{
			Id: "u-alice", Username: "alice",
			Status:           entity.StatusPremium,
			PremiumExpiresAt: expiry,
		}
		store.put(upgraded)
	}

	err := svc.Demote(context.Background(), "owner", "Status changed by admin.")
	require.NoError(t, err)

	saved, err := store.UserById("u-alice")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPremium, saved.Status)
	assert.Equal(t, expiry, saved.PremiumExpiresAt)
	assert.Equal(t, entity.StatusStandard, store.users["owner"].Status)
}

func TestDemoteUnknownUser(t *testing.T) {
	svc := New(newMemStore(), keylock.New(), testLogger())

	err := svc.Demote(context.Background(), "ghost", "because")
	assert.Error(t, err)
}
