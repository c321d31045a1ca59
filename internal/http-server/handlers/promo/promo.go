package promo

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/impl/promo"
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
	"recloud/lib/validate"
)

type Core interface {
	RedeemPromo(ctx context.Context, userId, code string) error
}

type redeemRequest struct {
	Code string `json:"code" validate:"required"`
}

func (r *redeemRequest) Bind(_ *http.Request) error {
	return validate.Struct(r)
}

// Redeem applies a promo code to the caller's account.
func Redeem(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.promo")
		caller := cont.GetUser(r.Context())

		logger := log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", caller.Username),
		)

		var req redeemRequest
		if err := render.Bind(r, &req); err != nil {
			logger.Warn("bind request", sl.Err(err))
			render.Status(r, 400)
			render.JSON(w, r, response.Error(err.Error()))
			return
		}

		if err := handler.RedeemPromo(r.Context(), caller.Id, req.Code); err != nil {
			logger.Warn("redeem promo", sl.Err(err))
			switch {
			case errors.Is(err, promo.ErrCodeNotFound):
				render.Status(r, 404)
			case errors.Is(err, promo.ErrCodeExpired),
				errors.Is(err, promo.ErrUsesLimitReached),
				errors.Is(err, promo.ErrAlreadyRedeemed):
				render.Status(r, 409)
			default:
				render.Status(r, 400)
			}
			render.JSON(w, r, response.Error(err.Error()))
			return
		}
		logger.Debug("promo redeemed")

		render.JSON(w, r, response.Ok(nil))
	}
}
