// Package admin implements the administrative API: user management and
// the promo code lifecycle. All routes here sit behind the admin
// middleware.
package admin

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/entity"
	"recloud/impl/core"
	"recloud/impl/promo"
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
	"recloud/lib/validate"
)

type Core interface {
	Users(ctx context.Context) ([]*entity.User, error)
	AdminCreateUser(ctx context.Context, params core.AdminUserParams) (*entity.User, error)
	AdminUpdateUser(ctx context.Context, userId string, params core.AdminUserParams) error
	AdminDeleteUser(ctx context.Context, userId string) error

	PromoCodes(ctx context.Context) ([]*entity.PromoCode, error)
	CreatePromo(ctx context.Context, params promo.CreateParams) (*entity.PromoCode, error)
	BulkCreatePromos(ctx context.Context, params promo.CreateParams, count int) ([]string, error)
	DeletePromo(ctx context.Context, id string) error
	DeletePromoGroup(ctx context.Context, group string, usedOnly bool) (int64, error)
}

type userRequest struct {
	Username string `json:"username" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password"`
	Status   string `json:"status" validate:"required,oneof=Standard Premium 'Premium (Aligned)' Admin"`
	IsAdmin  bool   `json:"is_admin"`
}

func (r *userRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

func (r *userRequest) params() core.AdminUserParams {
	return core.AdminUserParams{
		Username: r.Username,
		Email:    r.Email,
		Password: r.Password,
		Status:   entity.Status(r.Status),
		IsAdmin:  r.IsAdmin,
	}
}

func Users(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		users, err := handler.Users(r.Context())
		if err != nil {
			logger.Error("list users", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Failed to list users"))
			return
		}
		render.JSON(w, r, response.Ok(users))
	}
}

func CreateUser(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		var req userRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		user, err := handler.AdminCreateUser(r.Context(), req.params())
		if err != nil {
			logger.Warn("create user", sl.Err(err))
			renderUserError(w, r, err)
			return
		}
		logger.With(slog.String("created", user.Username)).Debug("user created")

		render.Status(r, 201)
		render.JSON(w, r, response.Ok(user))
	}
}

func UpdateUser(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		userId := chi.URLParam(r, "id")

		var req userRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		if err := handler.AdminUpdateUser(r.Context(), userId, req.params()); err != nil {
			logger.Warn("update user", sl.Err(err), slog.String("target", userId))
			renderUserError(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

func DeleteUser(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		userId := chi.URLParam(r, "id")

		if err := handler.AdminDeleteUser(r.Context(), userId); err != nil {
			logger.Warn("delete user", sl.Err(err), slog.String("target", userId))
			renderUserError(w, r, err)
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

type promoRequest struct {
	Description     string `json:"description"`
	UsesLimit       int    `json:"uses_limit" validate:"min=0"`
	ExpiresAt       string `json:"expires_at"`
	GivesPremium    bool   `json:"gives_premium"`
	PremiumDuration int    `json:"premium_duration" validate:"min=0,max=7"`
	Slots           int    `json:"slots" validate:"min=0"`
	SlotsDuration   int    `json:"slots_duration" validate:"min=0,max=7"`
	Group           string `json:"group"`
	Count           int    `json:"count"`
}

func (r *promoRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

func (r *promoRequest) params(createdBy string) promo.CreateParams {
	return promo.CreateParams{
		Description:     r.Description,
		UsesLimit:       r.UsesLimit,
		ExpiresAt:       r.ExpiresAt,
		GivesPremium:    r.GivesPremium,
		PremiumDuration: entity.Duration(r.PremiumDuration),
		Slots:           r.Slots,
		SlotsDuration:   entity.Duration(r.SlotsDuration),
		Group:           r.Group,
		CreatedBy:       createdBy,
	}
}

func Promos(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		codes, err := handler.PromoCodes(r.Context())
		if err != nil {
			logger.Error("list promo codes", sl.Err(err))
			render.Status(r, 500)
			render.JSON(w, r, response.Error("Failed to list promo codes"))
			return
		}
		render.JSON(w, r, response.Ok(codes))
	}
}

// CreatePromo mints one code, or a batch when count is above one.
func CreatePromo(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		caller := cont.GetUser(r.Context())

		var req promoRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		if req.Count > 1 {
			codes, err := handler.BulkCreatePromos(r.Context(), req.params(caller.Username), req.Count)
			if err != nil {
				logger.Warn("bulk create promos", sl.Err(err))
				render.Status(r, 400)
				render.JSON(w, r, response.Error(err.Error()))
				return
			}
			logger.With(slog.Int("count", len(codes))).Debug("promo codes created")
			render.Status(r, 201)
			render.JSON(w, r, response.Ok(codes))
			return
		}

		code, err := handler.CreatePromo(r.Context(), req.params(caller.Username))
		if err != nil {
			logger.Warn("create promo", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.Status(r, 201)
		render.JSON(w, r, response.Ok(code))
	}
}

func DeletePromo(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		promoId := chi.URLParam(r, "id")

		if err := handler.DeletePromo(r.Context(), promoId); err != nil {
			logger.Warn("delete promo", sl.Err(err), slog.String("promo", promoId))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

// DeletePromoGroup removes a group; used_only=true keeps codes that still
// have uses left.
func DeletePromoGroup(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		group := chi.URLParam(r, "group")
		usedOnly, _ := strconv.ParseBool(r.URL.Query().Get("used_only"))

		deleted, err := handler.DeletePromoGroup(r.Context(), group, usedOnly)
		if err != nil {
			logger.Warn("delete promo group", sl.Err(err), slog.String("group", group))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.JSON(w, r, response.Ok(map[string]int64{"deleted": deleted}))
	}
}

func handlerLog(log *slog.Logger, r *http.Request) *slog.Logger {
	caller := cont.GetUser(r.Context())
	return log.With(
		sl.Module("http.handlers.admin"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user", caller.Username),
	)
}

func renderUserError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrUserNotFound):
		render.Status(r, 404)
	case errors.Is(err, core.ErrUsernameTaken), errors.Is(err, core.ErrEmailTaken):
		render.Status(r, 409)
	case errors.Is(err, core.ErrAdminProtected):
		render.Status(r, 403)
	default:
		render.Status(r, 400)
	}
	render.JSON(w, r, response.Error(err.Error()))
}
