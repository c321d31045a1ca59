// Package promo implements promo-code redemption and the admin lifecycle
// of codes. A redemption runs Lookup -> Validate -> Apply -> Record: the
// user document is saved before the code document, and redeemed_by is
// re-checked under lock so a crash between the two writes can never
// credit a user twice.
package promo

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"recloud/entity"
	"recloud/internal/database"
	"recloud/lib/clock"
	"recloud/lib/keylock"
	"recloud/lib/sl"
)

const (
	codeLength     = 14
	codeAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	maxBulkCount   = 100
	uniqueAttempts = 10
)

var (
	ErrCodeNotFound     = errors.New("promo code not found or already used")
	ErrCodeExpired      = errors.New("promo code has expired")
	ErrUsesLimitReached = errors.New("promo code has reached its usage limit")
	ErrAlreadyRedeemed  = errors.New("you have already used this promo code")
	ErrUserNotFound     = errors.New("user not found")
	ErrInvalidCount     = errors.New("count must be between 1 and 100")
	ErrCodeGeneration   = errors.New("failed to generate a unique promo code")
)

type UserStore interface {
	UserById(id string) (*entity.User, error)
	SaveUsers(users []*entity.User) error
}

type PromoStore interface {
	PromoCodes() ([]*entity.PromoCode, error)
	PromoById(id string) (*entity.PromoCode, error)
	PromoByCode(code string) (*entity.PromoCode, error)
	InsertPromos(codes []*entity.PromoCode) error
	SavePromo(promo *entity.PromoCode) error
	DeletePromo(id string) error
	DeletePromoGroup(group string, usedOnly bool) (int64, error)
}

type Engine struct {
	users  UserStore
	promos PromoStore
	locks  *keylock.KeyLock
	log    *slog.Logger
}

func New(users UserStore, promos PromoStore, locks *keylock.KeyLock, log *slog.Logger) *Engine {
	return &Engine{
		users:  users,
		promos: promos,
		locks:  locks,
		log:    log.With(sl.Module("promo")),
	}
}

// Redeem applies the code's benefits to the user. Validation order is
// fixed: existence, expiry, usage limit, prior redemption — the first
// failure wins.
func (e *Engine) Redeem(ctx context.Context, userId, code string) error {
	promo, err := e.promos.PromoByCode(code)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrCodeNotFound
		}
		return err
	}
	if err = validate(promo, userId); err != nil {
		return err
	}

	unlock := e.locks.Lock(userId, "promo:"+promo.Id)
	defer unlock()

	user, err := e.users.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}
	// Re-read and re-validate under lock: a concurrent or interrupted
	// redemption may have recorded this user already.
	promo, err = e.promos.PromoById(promo.Id)
	if err != nil {
		return ErrCodeNotFound
	}
	if err = validate(promo, userId); err != nil {
		return err
	}

	now := time.Now()
	if promo.GivesPremium {
		applyPremium(user, promo, now)
	}
	if promo.Slots > 0 {
		applySlots(user, promo, now)
	}

	// User first, promo second: if the process dies between the writes,
	// the next attempt fails the redeemed_by re-check at worst after the
	// promo write, or retries cleanly before it.
	if err = e.users.SaveUsers([]*entity.User{user}); err != nil {
		e.log.Error("redeem: save user", sl.Err(err), sl.User(user.Username))
		return err
	}

	promo.UsesCount++
	promo.RedeemedBy = append(promo.RedeemedBy, entity.Redemption{
		Id:           user.Id,
		Username:     user.Username,
		RedeemedAt:   clock.Format(now),
		PremiumGiven: promo.GivesPremium,
		SlotsGiven:   promo.Slots,
	})
	if err = e.promos.SavePromo(promo); err != nil {
		e.log.Error("redeem: save promo", sl.Err(err), slog.String("code", promo.Code))
		return err
	}

	e.log.Info("promo redeemed", sl.User(user.Username), slog.String("code", promo.Code))
	return nil
}

func validate(promo *entity.PromoCode, userId string) error {
	if promo.Expired(time.Now()) {
		return ErrCodeExpired
	}
	if promo.UsesExhausted() {
		return ErrUsesLimitReached
	}
	if promo.RedeemedByUser(userId) {
		return ErrAlreadyRedeemed
	}
	return nil
}

// applyPremium overwrites any prior premium state with the code's grant.
func applyPremium(user *entity.User, promo *entity.PromoCode, now time.Time) {
	user.Status = entity.StatusPremium
	user.PremiumSource = "Promo Code: " + promo.Code

	expiry := promo.PremiumDuration.ExpiryFrom(now)
	user.PremiumExpiresAt = expiry
	if expiry != "" {
		user.AppendHistory("Premium Activated",
			fmt.Sprintf("Activated via promo code '%s'. Expires on %s", promo.Code, expiry))
	} else {
		user.AppendHistory("Premium Activated",
			fmt.Sprintf("Activated via promo code '%s'. Never expires.", promo.Code))
	}
}

// applySlots appends the granted slots, then prunes any expired slot from
// the whole list and recounts.
func applySlots(user *entity.User, promo *entity.PromoCode, now time.Time) {
	expiry := promo.SlotsDuration.ExpiryFrom(now)
	if expiry != "" {
		user.AppendHistory(fmt.Sprintf("%d Slots Added", promo.Slots),
			fmt.Sprintf("Added via promo code '%s'. Expires on %s", promo.Code, expiry))
	} else {
		user.AppendHistory(fmt.Sprintf("%d Slots Added", promo.Slots),
			fmt.Sprintf("Added via promo code '%s'. Never expires.", promo.Code))
	}

	timestamp := clock.Format(now)
	for i := 0; i < promo.Slots; i++ {
		user.SlotsInfo = append(user.SlotsInfo, &entity.Slot{
			Id:         uuid.NewString(),
			Source:     "Promo code: " + promo.Code,
			CreatedAt:  timestamp,
			ExpiresAt:  expiry,
			LastUpdate: timestamp,
		})
	}

	user.SlotsInfo = user.ValidSlots(now)
	user.Slots = len(user.SlotsInfo)
}

// CreateParams describes a code to mint. Zero UsesLimit means unlimited.
type CreateParams struct {
	Description     string
	UsesLimit       int
	ExpiresAt       string
	GivesPremium    bool
	PremiumDuration entity.Duration
	Slots           int
	SlotsDuration   entity.Duration
	Group           string
	CreatedBy       string
}

// Create mints one promo code with a generated unique code string.
func (e *Engine) Create(ctx context.Context, params CreateParams) (*entity.PromoCode, error) {
	existing, err := e.existingCodes()
	if err != nil {
		return nil, err
	}
	code, err := uniqueCode(existing)
	if err != nil {
		return nil, err
	}
	promo := newPromo(code, params)
	if err = e.promos.InsertPromos([]*entity.PromoCode{promo}); err != nil {
		return nil, err
	}
	e.log.Info("promo created", slog.String("code", promo.Code), slog.String("group", promo.Group))
	return promo, nil
}

// BulkCreate mints between 1 and 100 codes in one insert.
func (e *Engine) BulkCreate(ctx context.Context, params CreateParams, count int) ([]string, error) {
	if count < 1 || count > maxBulkCount {
		return nil, ErrInvalidCount
	}
	existing, err := e.existingCodes()
	if err != nil {
		return nil, err
	}

	promos := make([]*entity.PromoCode, 0, count)
	codes := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, cerr := uniqueCode(existing)
		if cerr != nil {
			return nil, cerr
		}
		existing[code] = true
		promos = append(promos, newPromo(code, params))
		codes = append(codes, code)
	}
	if err = e.promos.InsertPromos(promos); err != nil {
		return nil, err
	}
	e.log.Info("promo codes created", slog.Int("count", count), slog.String("group", params.Group))
	return codes, nil
}

func (e *Engine) List(ctx context.Context) ([]*entity.PromoCode, error) {
	return e.promos.PromoCodes()
}

func (e *Engine) Get(ctx context.Context, id string) (*entity.PromoCode, error) {
	promo, err := e.promos.PromoById(id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrCodeNotFound
	}
	return promo, err
}

func (e *Engine) Delete(ctx context.Context, id string) error {
	return e.promos.DeletePromo(id)
}

// DeleteGroup removes a whole group, or only its fully used codes.
func (e *Engine) DeleteGroup(ctx context.Context, group string, usedOnly bool) (int64, error) {
	deleted, err := e.promos.DeletePromoGroup(group, usedOnly)
	if err != nil {
		return 0, err
	}
	e.log.Info("promo group deleted", slog.String("group", group),
		slog.Bool("used_only", usedOnly), slog.Int64("deleted", deleted))
	return deleted, nil
}

func (e *Engine) existingCodes() (map[string]bool, error) {
	promos, err := e.promos.PromoCodes()
	if err != nil {
		return nil, err
	}
	existing := make(map[string]bool, len(promos))
	for _, p := range promos {
		existing[p.Code] = true
	}
	return existing, nil
}

func newPromo(code string, params CreateParams) *entity.PromoCode {
	return &entity.PromoCode{
		Id:              uuid.NewString(),
		Code:            code,
		Description:     params.Description,
		UsesLimit:       params.UsesLimit,
		ExpiresAt:       params.ExpiresAt,
		GivesPremium:    params.GivesPremium,
		PremiumDuration: params.PremiumDuration,
		Slots:           params.Slots,
		SlotsDuration:   params.SlotsDuration,
		Group:           params.Group,
		CreatedAt:       clock.Now(),
		CreatedBy:       params.CreatedBy,
		RedeemedBy:      []entity.Redemption{},
	}
}

func uniqueCode(existing map[string]bool) (string, error) {
	for i := 0; i < uniqueAttempts; i++ {
		code := randomCode(codeLength)
		if !existing[code] {
			return code, nil
		}
	}
	return "", ErrCodeGeneration
}

func randomCode(length int) string {
	buf := make([]byte, length)
	_, _ = rand.Read(buf)
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out)
}
