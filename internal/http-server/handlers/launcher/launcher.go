// Package launcher holds the endpoints the desktop launcher calls. These
// routes authenticate by launcher code, not by API token, and their
// not-found answers are uniform so codes cannot be probed.
package launcher

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/entity"
	"recloud/impl/devices"
	"recloud/lib/api/response"
	"recloud/lib/sl"
	"recloud/lib/validate"
)

type Core interface {
	ResolveLauncher(ctx context.Context, code string) (*entity.User, error)
	ConnectLauncher(ctx context.Context, code, deviceId, deviceName, deviceOs string) (*devices.ConnectResult, error)
	LauncherStatus(ctx context.Context, userId string) (*devices.StatusResult, error)
	LauncherConnection(ctx context.Context, userId, deviceId string) (*devices.ConnectionState, error)
	DisconnectDevice(ctx context.Context, userId, deviceId string) error
	ReportSession(ctx context.Context, userId string, report devices.SessionReport) error
}

type connectRequest struct {
	Code       string `json:"code" validate:"required"`
	DeviceId   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	DeviceOs   string `json:"device_os"`
}

func (r *connectRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

func Connect(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		var req connectRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger = logger.With(sl.Secret("code", req.Code), slog.String("device", req.DeviceId))

		result, err := handler.ConnectLauncher(r.Context(), req.Code, req.DeviceId, req.DeviceName, req.DeviceOs)
		if err != nil {
			logger.Warn("launcher connect", sl.Err(err))
			switch {
			case errors.Is(err, devices.ErrInvalidCode):
				render.Status(r, 404)
			case errors.Is(err, devices.ErrNoPremium), errors.Is(err, devices.ErrNotPrimaryDevice):
				render.Status(r, 403)
			default:
				render.Status(r, 400)
			}
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger.With(slog.String("user", result.Username)).Debug("launcher connected")

		render.JSON(w, r, response.Ok(result))
	}
}

func Status(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		user, ok := resolve(w, r, logger, handler)
		if !ok {
			return
		}

		result, err := handler.LauncherStatus(r.Context(), user.Id)
		if err != nil {
			logger.Error("launcher status", sl.Err(err))
			render.Status(r, 404)
			render.JSON(w, r, response.Error("User not found"))
			return
		}
		render.JSON(w, r, response.Ok(result))
	}
}

func Connection(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		user, ok := resolve(w, r, logger, handler)
		if !ok {
			return
		}
		deviceId := r.URL.Query().Get("device_id")

		state, err := handler.LauncherConnection(r.Context(), user.Id, deviceId)
		if err != nil {
			logger.Error("launcher connection", sl.Err(err))
			render.Status(r, 404)
			render.JSON(w, r, response.Error("User not found"))
			return
		}
		render.JSON(w, r, response.Ok(state))
	}
}

type deviceRequest struct {
	DeviceId string `json:"device_id" validate:"required"`
}

func (r *deviceRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

func Disconnect(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		user, ok := resolve(w, r, logger, handler)
		if !ok {
			return
		}

		var req deviceRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		if err := handler.DisconnectDevice(r.Context(), user.Id, req.DeviceId); err != nil {
			logger.Warn("launcher disconnect", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

// Session records a finished play session reported by the launcher.
func Session(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		user, ok := resolve(w, r, logger, handler)
		if !ok {
			return
		}

		var report devices.SessionReport
		if err := render.DecodeJSON(r.Body, &report); err != nil {
			logger.Warn("decode request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		if err := validate.Struct(&report); err != nil {
			logger.Warn("validate request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		if err := handler.ReportSession(r.Context(), user.Id, report); err != nil {
			logger.Warn("report session", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

func handlerLog(log *slog.Logger, r *http.Request) *slog.Logger {
	return log.With(
		sl.Module("http.handlers.launcher"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
	)
}

func resolve(w http.ResponseWriter, r *http.Request, logger *slog.Logger, handler Core) (*entity.User, bool) {
	code := chi.URLParam(r, "code")
	user, err := handler.ResolveLauncher(r.Context(), code)
	if err != nil {
		logger.Warn("unknown launcher code")
		render.Status(r, 404)
		render.JSON(w, r, response.Error("User not found"))
		return nil, false
	}
	return user, true
}
