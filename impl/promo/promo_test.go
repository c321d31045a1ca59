package promo

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recloud/entity"
	"recloud/internal/database"
	"recloud/lib/clock"
	"recloud/lib/keylock"
)

type memUsers struct {
	users map[string]*entity.User
	order []string
}

var _ UserStore = (*memUsers)(nil)

func (s *memUsers) UserById(id string) (*entity.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return u, nil
}

func (s *memUsers) SaveUsers(users []*entity.User) error {
	for _, u := range users {
		s.users[u.Id] = u
		s.order = append(s.order, "user:"+u.Id)
	}
	return nil
}

type memPromos struct {
	promos map[string]*entity.PromoCode
	order  *[]string
}

var _ PromoStore = (*memPromos)(nil)

func (s *memPromos) PromoCodes() ([]*entity.PromoCode, error) {
	list := make([]*entity.PromoCode, 0, len(s.promos))
	for _, p := range s.promos {
		list = append(list, p)
	}
	return list, nil
}

func (s *memPromos) PromoById(id string) (*entity.PromoCode, error) {
	p, ok := s.promos[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	return p, nil
}

func (s *memPromos) PromoByCode(code string) (*entity.PromoCode, error) {
	for _, p := range s.promos {
		if strings.EqualFold(p.Code, code) {
			return p, nil
		}
	}
	return nil, database.ErrNotFound
}

func (s *memPromos) InsertPromos(codes []*entity.PromoCode) error {
	for _, p := range codes {
		s.promos[p.Id] = p
	}
	return nil
}

func (s *memPromos) SavePromo(promo *entity.PromoCode) error {
	s.promos[promo.Id] = promo
	if s.order != nil {
		*s.order = append(*s.order, "promo:"+promo.Id)
	}
	return nil
}

func (s *memPromos) DeletePromo(id string) error {
	delete(s.promos, id)
	return nil
}

func (s *memPromos) DeletePromoGroup(group string, usedOnly bool) (int64, error) {
	var deleted int64
	for id, p := range s.promos {
		if p.Group != group {
			continue
		}
		if usedOnly && !p.UsesExhausted() {
			continue
		}
		delete(s.promos, id)
		deleted++
	}
	return deleted, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newEngine(users *memUsers, promos *memPromos) *Engine {
	promos.order = &users.order
	return New(users, promos, keylock.New(), testLogger())
}

func standardUser(id, username string) *entity.User {
	return &entity.User{Id: id, Username: username, Status: entity.StatusStandard}
}

func TestRedeemGrantsPremiumAndSlots(t *testing.T) {
	user := standardUser("u1", "alice")
	promo := &entity.PromoCode{
		Id:              "p1",
		Code:            "WELCOME2026XYZ",
		GivesPremium:    true,
		PremiumDuration: entity.DurationMonth,
		Slots:           2,
		SlotsDuration:   entity.DurationPermanent,
	}
	users := &memUsers{users: map[string]*entity.User{"u1": user}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{"p1": promo}}
	e := newEngine(users, promos)

	err := e.Redeem(context.Background(), "u1", "WELCOME2026XYZ")
	require.NoError(t, err)

	assert.Equal(t, entity.StatusPremium, user.Status)
	assert.Equal(t, "Promo Code: WELCOME2026XYZ", user.PremiumSource)
	assert.NotEmpty(t, user.PremiumExpiresAt)
	assert.Equal(t, 2, user.Slots)
	require.Len(t, user.SlotsInfo, 2)
	assert.Equal(t, "Promo code: WELCOME2026XYZ", user.SlotsInfo[0].Source)
	assert.Empty(t, user.SlotsInfo[0].ExpiresAt)

	assert.Equal(t, 1, promo.UsesCount)
	require.Len(t, promo.RedeemedBy, 1)
	assert.Equal(t, "u1", promo.RedeemedBy[0].Id)
	assert.True(t, promo.RedeemedBy[0].PremiumGiven)
	assert.Equal(t, 2, promo.RedeemedBy[0].SlotsGiven)

	// the user document is committed before the code document
	require.Len(t, users.order, 2)
	assert.Equal(t, []string{"user:u1", "promo:p1"}, users.order)
}

func TestRedeemValidationOrder(t *testing.T) {
	expired := clock.Format(time.Now().AddDate(0, 0, -1))

	tests := []struct {
		name    string
		promo   *entity.PromoCode
		code    string
		wantErr error
	}{
		{
			name:    "unknown code",
			promo:   &entity.PromoCode{Id: "p1", Code: "REAL"},
			code:    "NOPE",
			wantErr: ErrCodeNotFound,
		},
		{
			name: "expired wins over exhausted",
			promo: &entity.PromoCode{
				Id: "p1", Code: "OLD", ExpiresAt: expired,
				UsesLimit: 1, UsesCount: 1,
			},
			code:    "OLD",
			wantErr: ErrCodeExpired,
		},
		{
			name: "exhausted wins over already redeemed",
			promo: &entity.PromoCode{
				Id: "p1", Code: "FULL",
				UsesLimit: 1, UsesCount: 1,
				RedeemedBy: []entity.Redemption{{Id: "u1"}},
			},
			code:    "FULL",
			wantErr: ErrUsesLimitReached,
		},
		{
			name: "already redeemed",
			promo: &entity.PromoCode{
				Id: "p1", Code: "ONCE",
				RedeemedBy: []entity.Redemption{{Id: "u1"}},
			},
			code:    "ONCE",
			wantErr: ErrAlreadyRedeemed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &memUsers{users: map[string]*entity.User{"u1": standardUser("u1", "alice")}}
			promos := &memPromos{promos: map[string]*entity.PromoCode{tt.promo.Id: tt.promo}}
			e := newEngine(users, promos)

			err := e.Redeem(context.Background(), "u1", tt.code)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRedeemTwiceCreditsOnce(t *testing.T) {
	user := standardUser("u1", "alice")
	promo := &entity.PromoCode{Id: "p1", Code: "TWICE", Slots: 1, SlotsDuration: entity.DurationPermanent}
	users := &memUsers{users: map[string]*entity.User{"u1": user}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{"p1": promo}}
	e := newEngine(users, promos)

	require.NoError(t, e.Redeem(context.Background(), "u1", "TWICE"))
	err := e.Redeem(context.Background(), "u1", "TWICE")

	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
	assert.Equal(t, 1, user.Slots)
	assert.Equal(t, 1, promo.UsesCount)
}

func TestRedeemSlotsPruneExpired(t *testing.T) {
	user := standardUser("u1", "alice")
	user.SlotsInfo = []*entity.Slot{
		{Id: "old", ExpiresAt: clock.Format(time.Now().Add(-time.Hour))},
		{Id: "keep"},
	}
	user.Slots = 2
	promo := &entity.PromoCode{Id: "p1", Code: "SLOTS", Slots: 1, SlotsDuration: entity.DurationWeek}
	users := &memUsers{users: map[string]*entity.User{"u1": user}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{"p1": promo}}
	e := newEngine(users, promos)

	require.NoError(t, e.Redeem(context.Background(), "u1", "SLOTS"))

	assert.Equal(t, 2, user.Slots)
	require.Len(t, user.SlotsInfo, 2)
	assert.Equal(t, "keep", user.SlotsInfo[0].Id)
	assert.NotEmpty(t, user.SlotsInfo[1].ExpiresAt)
}

func TestRedeemUnknownUser(t *testing.T) {
	users := &memUsers{users: map[string]*entity.User{}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{
		"p1": {Id: "p1", Code: "CODE"},
	}}
	e := newEngine(users, promos)

	err := e.Redeem(context.Background(), "ghost", "CODE")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCreate(t *testing.T) {
	users := &memUsers{users: map[string]*entity.User{}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{}}
	e := newEngine(users, promos)

	promo, err := e.Create(context.Background(), CreateParams{
		Description:  "launch promo",
		GivesPremium: true,
		Group:        "launch",
		CreatedBy:    "admin",
	})
	require.NoError(t, err)

	assert.Len(t, promo.Code, 14)
	assert.NotEmpty(t, promo.Id)
	assert.Equal(t, "launch", promo.Group)
	assert.Contains(t, promos.promos, promo.Id)
	for _, r := range promo.Code {
		assert.Contains(t, codeAlphabet, string(r))
	}
}

func TestBulkCreate(t *testing.T) {
	users := &memUsers{users: map[string]*entity.User{}}
	promos := &memPromos{promos: map[string]*entity.PromoCode{}}
	e := newEngine(users, promos)

	codes, err := e.BulkCreate(context.Background(), CreateParams{Group: "wave1"}, 5)
	require.NoError(t, err)

	assert.Len(t, codes, 5)
	assert.Len(t, promos.promos, 5)

	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestBulkCreateCountBounds(t *testing.T) {
	e := newEngine(
		&memUsers{users: map[string]*entity.User{}},
		&memPromos{promos: map[string]*entity.PromoCode{}},
	)

	for _, count := range []int{0, -1, 101} {
		_, err := e.BulkCreate(context.Background(), CreateParams{}, count)
		assert.ErrorIs(t, err, ErrInvalidCount, "count %d", count)
	}
}

func TestDeleteGroupUsedOnly(t *testing.T) {
	promos := &memPromos{promos: map[string]*entity.PromoCode{
		"p1": {Id: "p1", Group: "wave1", UsesLimit: 1, UsesCount: 1},
		"p2": {Id: "p2", Group: "wave1", UsesLimit: 1, UsesCount: 0},
		"p3": {Id: "p3", Group: "wave2", UsesLimit: 1, UsesCount: 1},
	}}
	e := newEngine(&memUsers{users: map[string]*entity.User{}}, promos)

	deleted, err := e.DeleteGroup(context.Background(), "wave1", true)
	require.NoError(t, err)

	assert.Equal(t, int64(1), deleted)
	assert.NotContains(t, promos.promos, "p1")
	assert.Contains(t, promos.promos, "p2")
	assert.Contains(t, promos.promos, "p3")
}
