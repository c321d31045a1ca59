package device

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
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
)

type Core interface {
	Devices(ctx context.Context, userId string) ([]*entity.Device, error)
	DisconnectDevice(ctx context.Context, userId, deviceId string) error
	ResetPrimaryDevice(ctx context.Context, userId string) error
	RegenerateLauncherCode(ctx context.Context, userId string) (string, error)
}

// List returns the caller's devices, primary first by sort order of last
// connection.
func List(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		caller := cont.GetUser(r.Context())

		list, err := handler.Devices(r.Context(), caller.Id)
		if err != nil {
			logger.Error("list devices", sl.Err(err))
			render.Status(r, 404)
			render.JSON(w, r, response.Error("User not found"))
			return
		}
		render.JSON(w, r, response.Ok(list))
	}
}

func Disconnect(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		caller := cont.GetUser(r.Context())
		deviceId := chi.URLParam(r, "id")

		if err := handler.DisconnectDevice(r.Context(), caller.Id, deviceId); err != nil {
			logger.Warn("disconnect device", sl.Err(err), slog.String("device", deviceId))
			if errors.Is(err, devices.ErrDeviceNotFound) {
				render.Status(r, 404)
			} else {
				render.Status(r, 400)
			}
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		render.JSON(w, r, response.Ok(nil))
	}
}

// ResetPrimary releases the primary-device binding, once per seven days.
func ResetPrimary(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		caller := cont.GetUser(r.Context())

		if err := handler.ResetPrimaryDevice(r.Context(), caller.Id); err != nil {
			logger.Warn("reset primary device", sl.Err(err))
			var tooSoon *devices.ResetTooSoonError
			switch {
			case errors.As(err, &tooSoon):
				render.Status(r, 409)
			case errors.Is(err, devices.ErrNoPrimaryDevice):
				render.Status(r, 404)
			default:
				render.Status(r, 400)
			}
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger.Debug("primary device reset")

		render.JSON(w, r, response.Ok(nil))
	}
}

func RegenerateCode(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)
		caller := cont.GetUser(r.Context())

		code, err := handler.RegenerateLauncherCode(r.Context(), caller.Id)
		if err != nil {
			logger.Error("regenerate launcher code", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger.Debug("launcher code regenerated")

		render.JSON(w, r, response.Ok(map[string]string{"launcher_code": code}))
	}
}

func handlerLog(log *slog.Logger, r *http.Request) *slog.Logger {
	caller := cont.GetUser(r.Context())
	return log.With(
		sl.Module("http.handlers.device"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user", caller.Username),
	)
}
