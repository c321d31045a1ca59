// Package content serves the cached catalog and statistics. These
// handlers never fail on upstream errors; the cache always hands back a
// value.
package content

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/entity"
	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
)

type Core interface {
	SiteStats(ctx context.Context) entity.SiteStats
	Games(ctx context.Context, tier entity.AccessTier) entity.Catalog
	SearchGames(ctx context.Context, query, access string, limit int) []entity.Game
	GameDetails(ctx context.Context, id string) (entity.Game, entity.AccessTier, bool)
	DailyGameStats(ctx context.Context, date string) entity.DayStats
	PeriodGameStats(ctx context.Context, days int) entity.PeriodStats
}

func Stats(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, response.Ok(handler.SiteStats(r.Context())))
	}
}

// Games returns the catalog half the caller's tier allows. Premium and
// admin accounts see the combined catalog.
func Games(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		mod := sl.Module("http.handlers.content")
		caller := cont.GetUser(r.Context())

		tier := entity.TierFree
		if caller.HasPremiumAccess() {
			tier = entity.TierPremium
		}
		log.With(
			mod,
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("user", caller.Username),
			slog.String("tier", string(tier)),
		).Debug("catalog served")

		render.JSON(w, r, response.Ok(handler.Games(r.Context(), tier)))
	}
}

type searchResult struct {
	Query   string        `json:"query"`
	Access  string        `json:"access"`
	Count   int           `json:"count"`
	Results []entity.Game `json:"results"`
}

// Search filters the catalog by name. The query is required; access
// narrows the tier and limit caps the result count.
func Search(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		if query == "" {
			render.Status(r, 400)
			render.JSON(w, r, response.Error("search query is required"))
			return
		}
		access := r.URL.Query().Get("access")
		if access == "" {
			access = "all"
		}
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

		results := handler.SearchGames(r.Context(), query, access, limit)
		log.With(
			sl.Module("http.handlers.content"),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("query", query),
			slog.Int("count", len(results)),
		).Debug("catalog searched")

		render.JSON(w, r, response.Ok(searchResult{
			Query:   query,
			Access:  access,
			Count:   len(results),
			Results: results,
		}))
	}
}

type gameDetail struct {
	entity.Game
	AccessType entity.AccessTier `json:"access_type"`
}

// Detail serves a single catalog entry with the tier it belongs to.
func Detail(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		game, tier, ok := handler.GameDetails(r.Context(), id)
		if !ok {
			render.Status(r, 404)
			render.JSON(w, r, response.Error("game not found"))
			return
		}

		render.JSON(w, r, response.Ok(gameDetail{Game: game, AccessType: tier}))
	}
}

func DailyStats(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		date := r.URL.Query().Get("date")
		render.JSON(w, r, response.Ok(handler.DailyGameStats(r.Context(), date)))
	}
}

// PeriodStats serves the aggregated window; anything but 30 is a week.
func PeriodStats(log *slog.Logger, handler Core) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days, _ := strconv.Atoi(r.URL.Query().Get("days"))
		render.JSON(w, r, response.Ok(handler.PeriodGameStats(r.Context(), days)))
	}
}
