package admin

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"recloud/lib/api/cont"
	"recloud/lib/api/response"
	"recloud/lib/sl"
)

// New guards admin-only routes. Runs after authenticate, which has
// already placed the user in the context.
func New(log *slog.Logger) func(next http.Handler) http.Handler {
	mod := sl.Module("middleware.admin")

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			user := cont.GetUser(r.Context())
			if !user.IsAdmin {
				log.With(mod, slog.String("user", user.Username)).Warn("admin route denied")
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, response.Error("Admin access required"))
				return
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}
