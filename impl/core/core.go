// Package core is the application facade: account lifecycle, admin user
// management and delegation to the entitlement, slot, promo, device and
// cache services. HTTP handlers depend on this package only.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"

	"recloud/entity"
	"recloud/impl/devices"
	"recloud/impl/promo"
	"recloud/lib/clock"
	"recloud/lib/password"
	"recloud/lib/sl"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{3,20}$`)

var (
	ErrUsernameTaken      = errors.New("username already exists")
	ErrEmailTaken         = errors.New("email already exists")
	ErrInvalidUsername    = errors.New("username must be 3-20 characters and contain only letters, numbers, and underscores")
	ErrInvalidPassword    = errors.New("password must be at least 8 characters")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrAdminProtected     = errors.New("cannot delete an admin user")
)

type Database interface {
	Users() ([]*entity.User, error)
	UserById(id string) (*entity.User, error)
	UserByUsername(username string) (*entity.User, error)
	UserByEmail(email string) (*entity.User, error)
	UserByLauncherCode(code string) (*entity.User, error)
	InsertUser(user *entity.User) error
	SaveUsers(users []*entity.User) error
	DeleteUser(id string) error
}

type AuthService interface {
	UserByToken(token string) (*entity.User, error)
}

type EntitlementService interface {
	ReconcileUser(ctx context.Context, user *entity.User) (*entity.User, error)
	Demote(ctx context.Context, userId, reason string) error
}

type SlotService interface {
	Add(ctx context.Context, ownerId, recipientUsername string) error
	Remove(ctx context.Context, ownerId, recipientUsername string) error
	DisalignSelf(ctx context.Context, userId string) error
}

type PromoService interface {
	Redeem(ctx context.Context, userId, code string) error
	Create(ctx context.Context, params promo.CreateParams) (*entity.PromoCode, error)
	BulkCreate(ctx context.Context, params promo.CreateParams, count int) ([]string, error)
	List(ctx context.Context) ([]*entity.PromoCode, error)
	Delete(ctx context.Context, id string) error
	DeleteGroup(ctx context.Context, group string, usedOnly bool) (int64, error)
}

type DeviceService interface {
	Connect(ctx context.Context, code, deviceId, deviceName, deviceOs string) (*devices.ConnectResult, error)
	CheckStatus(ctx context.Context, userId string) (*devices.StatusResult, error)
	CheckConnection(ctx context.Context, userId, deviceId string) (*devices.ConnectionState, error)
	Disconnect(ctx context.Context, userId, deviceId string) error
	ResetPrimary(ctx context.Context, userId string) error
	RegenerateCode(ctx context.Context, userId string) (string, error)
	ListDevices(ctx context.Context, userId string) ([]*entity.Device, error)
	UpdateSession(ctx context.Context, userId string, report devices.SessionReport) error
}

type CacheService interface {
	Stats(ctx context.Context) entity.SiteStats
	Catalog(ctx context.Context, tier entity.AccessTier) entity.Catalog
	Search(ctx context.Context, query, access string, limit int) []entity.Game
	GameDetail(ctx context.Context, id string) (entity.Game, entity.AccessTier, bool)
	DailyStats(ctx context.Context, date string) entity.DayStats
	PeriodStats(ctx context.Context, days int) entity.PeriodStats
}

type Core struct {
	db          Database
	auth        AuthService
	entitlement EntitlementService
	slots       SlotService
	promo       PromoService
	devices     DeviceService
	cache       CacheService
	log         *slog.Logger
}

type Services struct {
	Auth        AuthService
	Entitlement EntitlementService
	Slots       SlotService
	Promo       PromoService
	Devices     DeviceService
	Cache       CacheService
}

func New(db Database, svc Services, log *slog.Logger) *Core {
	return &Core{
		db:          db,
		auth:        svc.Auth,
		entitlement: svc.Entitlement,
		slots:       svc.Slots,
		promo:       svc.Promo,
		devices:     svc.Devices,
		cache:       svc.Cache,
		log:         log.With(sl.Module("core")),
	}
}

func (c *Core) AuthenticateByToken(token string) (*entity.User, error) {
	if c.auth == nil {
		return nil, fmt.Errorf("auth service not connected")
	}
	return c.auth.UserByToken(token)
}

type RegisterParams struct {
	Username string
	Email    string
	Password string
}

// Register creates a standard account. Standard users get no launcher
// code; one is issued when they gain premium.
func (c *Core) Register(ctx context.Context, params RegisterParams) (*entity.User, error) {
	if !usernamePattern.MatchString(params.Username) {
		return nil, ErrInvalidUsername
	}
	if len(params.Password) < 8 {
		return nil, ErrInvalidPassword
	}
	if _, err := c.db.UserByUsername(params.Username); err == nil {
		return nil, ErrUsernameTaken
	}
	if _, err := c.db.UserByEmail(params.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := password.Hash(params.Password)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	user := &entity.User{
		Id:            id,
		Username:      params.Username,
		Email:         params.Email,
		Password:      hash,
		Token:         uuid.NewString(),
		JoinDate:      time.Now().Format(clock.DateLayout),
		Status:        entity.StatusStandard,
		UniqueId:      entity.NewUniqueId(id),
		TotalPlayTime: "0h 0m",
		Friends:       []string{},
	}
	if err = user.Bind(nil); err != nil {
		return nil, err
	}
	if err = c.db.InsertUser(user); err != nil {
		return nil, err
	}
	c.log.Info("user registered", sl.User(user.Username))
	return user, nil
}

// Login checks credentials and returns the account with its API token.
// Failures are uniform so probing cannot tell a bad username from a bad
// password.
func (c *Core) Login(ctx context.Context, username, pass string) (*entity.User, error) {
	user, err := c.db.UserByUsername(username)
	if err != nil {
		return nil, ErrInvalidCredentials
	}
	if !password.Compare(user.Password, pass) {
		return nil, ErrInvalidCredentials
	}
	if user.Token == "" {
		user.Token = uuid.NewString()
		if err = c.db.SaveUsers([]*entity.User{user}); err != nil {
			return nil, err
		}
	}
	return user, nil
}

// Profile returns a user with their entitlement reconciled, so a profile
// read never shows an expired premium as active.
func (c *Core) Profile(ctx context.Context, userId string) (*entity.User, error) {
	user, err := c.db.UserById(userId)
	if err != nil {
		return nil, ErrUserNotFound
	}
	user, err = c.entitlement.ReconcileUser(ctx, user)
	if err != nil {
		c.log.Error("profile: reconcile", sl.Err(err), sl.User(user.Username))
	}
	return user, nil
}

func (c *Core) Users(ctx context.Context) ([]*entity.User, error) {
	return c.db.Users()
}

type AdminUserParams struct {
	Username string
	Email    string
	Password string
	Status   entity.Status
	IsAdmin  bool
}

// AdminCreateUser creates an account with an explicit status. Premium and
// admin accounts get a launcher code immediately.
func (c *Core) AdminCreateUser(ctx context.Context, params AdminUserParams) (*entity.User, error) {
	if !usernamePattern.MatchString(params.Username) {
		return nil, ErrInvalidUsername
	}
	if _, err := c.db.UserByUsername(params.Username); err == nil {
		return nil, ErrUsernameTaken
	}
	if _, err := c.db.UserByEmail(params.Email); err == nil {
		return nil, ErrEmailTaken
	}

	hash, err := password.Hash(params.Password)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	user := &entity.User{
		Id:            id,
		Username:      params.Username,
		Email:         params.Email,
		Password:      hash,
		Token:         uuid.NewString(),
		JoinDate:      time.Now().Format(clock.DateLayout),
		Status:        params.Status,
		IsAdmin:       params.IsAdmin,
		UniqueId:      entity.NewUniqueId(id),
		TotalPlayTime: "0h 0m",
		Friends:       []string{},
	}
	if params.Status == entity.StatusPremium || params.Status == entity.StatusAdmin {
		user.LauncherCode = entity.NewLauncherCode()
	}
	if err = user.Bind(nil); err != nil {
		return nil, err
	}
	if err = c.db.InsertUser(user); err != nil {
		return nil, err
	}
	c.log.Info("user created by admin", sl.User(user.Username), slog.String("status", string(user.Status)))
	return user, nil
}

// AdminUpdateUser edits an account. A downgrade to Standard runs the full
// demotion cascade; an upgrade from Standard issues a launcher code.
func (c *Core) AdminUpdateUser(ctx context.Context, userId string, params AdminUserParams) error {
	if !usernamePattern.MatchString(params.Username) {
		return ErrInvalidUsername
	}
	user, err := c.db.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}
	if other, uerr := c.db.UserByUsername(params.Username); uerr == nil && other.Id != userId {
		return ErrUsernameTaken
	}
	if other, eerr := c.db.UserByEmail(params.Email); eerr == nil && other.Id != userId {
		return ErrEmailTaken
	}

	wasElevated := user.Status == entity.StatusPremium || user.Status == entity.StatusAdmin ||
		user.Status == entity.StatusAligned
	if wasElevated && params.Status == entity.StatusStandard {
		if err = c.entitlement.Demote(ctx, userId, "Status changed by admin."); err != nil {
			return err
		}
		if user, err = c.db.UserById(userId); err != nil {
			return ErrUserNotFound
		}
	}
	if user.Status == entity.StatusStandard &&
		(params.Status == entity.StatusPremium || params.Status == entity.StatusAdmin) {
		user.LauncherCode = entity.NewLauncherCode()
	}

	user.Username = params.Username
	user.Email = params.Email
	user.Status = params.Status
	user.IsAdmin = params.IsAdmin
	if params.Password != "" {
		hash, herr := password.Hash(params.Password)
		if herr != nil {
			return herr
		}
		user.Password = hash
	}
	return c.db.SaveUsers([]*entity.User{user})
}

func (c *Core) AdminDeleteUser(ctx context.Context, userId string) error {
	user, err := c.db.UserById(userId)
	if err != nil {
		return ErrUserNotFound
	}
	if user.IsAdmin {
		return ErrAdminProtected
	}
	if err = c.db.DeleteUser(userId); err != nil {
		return err
	}
	c.log.Info("user deleted by admin", sl.User(user.Username))
	return nil
}

// slot operations

func (c *Core) AddSlotFriend(ctx context.Context, ownerId, username string) error {
	return c.slots.Add(ctx, ownerId, username)
}

func (c *Core) RemoveSlotFriend(ctx context.Context, ownerId, username string) error {
	return c.slots.Remove(ctx, ownerId, username)
}

func (c *Core) LeaveSlot(ctx context.Context, userId string) error {
	return c.slots.DisalignSelf(ctx, userId)
}

// promo operations

func (c *Core) RedeemPromo(ctx context.Context, userId, code string) error {
	return c.promo.Redeem(ctx, userId, code)
}

func (c *Core) PromoCodes(ctx context.Context) ([]*entity.PromoCode, error) {
	return c.promo.List(ctx)
}

func (c *Core) CreatePromo(ctx context.Context, params promo.CreateParams) (*entity.PromoCode, error) {
	return c.promo.Create(ctx, params)
}

func (c *Core) BulkCreatePromos(ctx context.Context, params promo.CreateParams, count int) ([]string, error) {
	return c.promo.BulkCreate(ctx, params, count)
}

func (c *Core) DeletePromo(ctx context.Context, id string) error {
	return c.promo.Delete(ctx, id)
}

func (c *Core) DeletePromoGroup(ctx context.Context, group string, usedOnly bool) (int64, error) {
	return c.promo.DeleteGroup(ctx, group, usedOnly)
}

// launcher and device operations

// ResolveLauncher maps a launcher code to its account. The error is
// uniform so code probing cannot enumerate accounts.
func (c *Core) ResolveLauncher(ctx context.Context, code string) (*entity.User, error) {
	user, err := c.db.UserByLauncherCode(code)
	if err != nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (c *Core) ConnectLauncher(ctx context.Context, code, deviceId, deviceName, deviceOs string) (*devices.ConnectResult, error) {
	return c.devices.Connect(ctx, code, deviceId, deviceName, deviceOs)
}

func (c *Core) LauncherStatus(ctx context.Context, userId string) (*devices.StatusResult, error) {
	return c.devices.CheckStatus(ctx, userId)
}

func (c *Core) LauncherConnection(ctx context.Context, userId, deviceId string) (*devices.ConnectionState, error) {
	return c.devices.CheckConnection(ctx, userId, deviceId)
}

func (c *Core) DisconnectDevice(ctx context.Context, userId, deviceId string) error {
	return c.devices.Disconnect(ctx, userId, deviceId)
}

func (c *Core) ResetPrimaryDevice(ctx context.Context, userId string) error {
	return c.devices.ResetPrimary(ctx, userId)
}

func (c *Core) RegenerateLauncherCode(ctx context.Context, userId string) (string, error) {
	return c.devices.RegenerateCode(ctx, userId)
}

func (c *Core) Devices(ctx context.Context, userId string) ([]*entity.Device, error) {
	return c.devices.ListDevices(ctx, userId)
}

func (c *Core) ReportSession(ctx context.Context, userId string, report devices.SessionReport) error {
	return c.devices.UpdateSession(ctx, userId, report)
}

// cached content

func (c *Core) SiteStats(ctx context.Context) entity.SiteStats {
	return c.cache.Stats(ctx)
}

func (c *Core) Games(ctx context.Context, tier entity.AccessTier) entity.Catalog {
	return c.cache.Catalog(ctx, tier)
}

func (c *Core) SearchGames(ctx context.Context, query, access string, limit int) []entity.Game {
	return c.cache.Search(ctx, query, access, limit)
}

func (c *Core) GameDetails(ctx context.Context, id string) (entity.Game, entity.AccessTier, bool) {
	return c.cache.GameDetail(ctx, id)
}

func (c *Core) DailyGameStats(ctx context.Context, date string) entity.DayStats {
	return c.cache.DailyStats(ctx, date)
}

func (c *Core) PeriodGameStats(ctx context.Context, days int) entity.PeriodStats {
	return c.cache.PeriodStats(ctx, days)
}
