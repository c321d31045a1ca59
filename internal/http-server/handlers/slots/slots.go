package slots

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/impl/slots"
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
	"recloud/lib/validate"
)

type Core interface {
	AddSlotFriend(ctx context.Context, ownerId, username string) error
	RemoveSlotFriend(ctx context.Context, ownerId, username string) error
	LeaveSlot(ctx context.Context, userId string) error
}

type friendRequest struct {
	Username string `json:"username" validate:"required"`
}

func (r *friendRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

// Add assigns the caller's first free slot to the named user.
func Add(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		var req friendRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger = logger.With(slog.String("recipient", req.Username))

		caller := cont.GetUser(r.Context())
		if err := handler.AddSlotFriend(r.Context(), caller.Id, req.Username); err != nil {
			logger.Warn("add slot friend", sl.Err(err))
			renderSlotError(w, r, err)
			return
		}
		logger.Debug("slot assigned")

		render.JSON(w, r, response.Ok(nil))
	}
}

// Remove frees the slot held by the named user and starts its cooldown.
func Remove(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		var req friendRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger = logger.With(slog.String("recipient", req.Username))

		caller := cont.GetUser(r.Context())
		if err := handler.RemoveSlotFriend(r.Context(), caller.Id, req.Username); err != nil {
			logger.Warn("remove slot friend", sl.Err(err))
			renderSlotError(w, r, err)
			return
		}
		logger.Debug("slot freed")

		render.JSON(w, r, response.Ok(nil))
	}
}

// Leave lets an aligned user give up their granted premium. No cooldown
// starts on the owner's slot.
func Leave(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := handlerLog(log, r)

		caller := cont.GetUser(r.Context())
		if err := handler.LeaveSlot(r.Context(), caller.Id); err != nil {
			logger.Warn("leave slot", sl.Err(err))
			renderSlotError(w, r, err)
			return
		}
		logger.Debug("alignment released")

		render.JSON(w, r, response.Ok(nil))
	}
}

func handlerLog(log *slog.Logger, r *http.Request) *slog.Logger {
	caller := cont.GetUser(r.Context())
	return log.With(
		sl.Module("http.handlers.slots"),
		slog.String("request_id", middleware.GetReqID(r.Context())),
		slog.String("user", caller.Username),
	)
}

func renderSlotError(w http.ResponseWriter, r *http.Request, err error) {
	var cooldown *slots.CooldownError
	switch {
	case errors.As(err, &cooldown):
		render.Status(r, 409)
	case errors.Is(err, slots.ErrRecipientNotFound), errors.Is(err, slots.ErrOwnerNotFound):
		render.Status(r, 404)
	case errors.Is(err, slots.ErrNoAvailableSlots),
		errors.Is(err, slots.ErrAlreadyAligned),
		errors.Is(err, slots.ErrNotInSlot),
		errors.Is(err, slots.ErrNotAligned):
		render.Status(r, 409)
	default:
		render.Status(r, 400)
	}
	render.JSON(w, r, response.Error(err.Error()))
}
