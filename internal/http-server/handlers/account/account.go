package account

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/entity"
	"recloud/impl/core"
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
	"recloud/lib/validate"
)

type Core interface {
	Register(ctx context.Context, params core.RegisterParams) (*entity.User, error)
	Login(ctx context.Context, username, password string) (*entity.User, error)
	Profile(ctx context.Context, userId string) (*entity.User, error)
}

type registerRequest struct {
	Username        string `json:"username" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
}

func (r *registerRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (r *loginRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

type authResponse struct {
	Id       string        `json:"id"`
	Username string        `json:"username"`
	Status   entity.Status `json:"status"`
	IsAdmin  bool          `json:"is_admin"`
	Token    string        `json:"token"`
}

func Register(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.account")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req registerRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		user, err := handler.Register(r.Context(), core.RegisterParams{
			Username: req.Username,
			Email:    req.Email,
			Password: req.Password,
		})
		if err != nil {
			logger.Warn("register", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger.With(slog.String("user", user.Username)).Debug("user registered")

		render.Status(r, 201)
		render.JSON(w, r, response.Ok(authResponse{
			Id:       user.Id,
			Username: user.Username,
			Status:   user.Status,
			IsAdmin:  user.IsAdmin,
			Token:    user.Token,
		}))
	}
}

func Login(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.account")

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req loginRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		user, err := handler.Login(r.Context(), req.Username, req.Password)
		if err != nil {
			logger.Warn("login failed", slog.String("user", req.Username))
			render.Status(r, 401)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		render.JSON(w, r, response.Ok(authResponse{
			Id:       user.Id,
			Username: user.Username,
			Status:   user.Status,
			IsAdmin:  user.IsAdmin,
			Token:    user.Token,
		}))
	}
}

// Profile returns the caller's account with entitlement freshly
// reconciled.
func Profile(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.account")
		caller := cont.GetUser(r.Context())

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", caller.Username),
		)

		user, err := handler.Profile(r.Context(), caller.Id)
		if err != nil {
			logger.Error("profile", sl.Err(err))
			render.Status(r, 404)
			render.JSON(w, r, response.Error("User not found"))
			return
		}

		render.JSON(w, r, response.Ok(user))
	}
}
