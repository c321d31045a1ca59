package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"recloud/internal/config"
	"recloud/internal/http-server/handlers/account"
	"recloud/internal/http-server/handlers/admin"
	"recloud/internal/http-server/handlers/content"
	"recloud/internal/http-server/handlers/device"
	"recloud/internal/http-server/handlers/errors"
	"recloud/internal/http-server/handlers/launcher"
	promoh "recloud/internal/http-server/handlers/promo"
	slotsh "recloud/internal/http-server/handlers/slots"
	adminmw "recloud/internal/http-server/middleware/admin"
	"recloud/internal/http-server/middleware/authenticate"
	"recloud/internal/http-server/middleware/timeout"
	"recloud/lib/sl"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	account.Core
	admin.Core
	content.Core
	device.Core
	launcher.Core
	promoh.Core
	slotsh.Core
}

func New(conf *config.Config, log *slog.Logger, handler Handler) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(timeout.Timeout(10))
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(render.SetContentType(render.ContentTypeJSON))

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	router.Route("/v1", func(rootApi chi.Router) {
		rootApi.Post("/auth/register", account.Register(log, handler))
		rootApi.Post("/auth/login", account.Login(log, handler))
		rootApi.Get("/stats", content.Stats(log, handler))

		// launcher clients authenticate by code, not token
		rootApi.Route("/launcher", func(lr chi.Router) {
			lr.Post("/connect", launcher.Connect(log, handler))
			lr.Route("/{code}", func(cr chi.Router) {
				cr.Get("/status", launcher.Status(log, handler))
				cr.Get("/connection", launcher.Connection(log, handler))
				cr.Post("/disconnect", launcher.Disconnect(log, handler))
				cr.Post("/session", launcher.Session(log, handler))
			})
		})

		rootApi.Group(func(protected chi.Router) {
			protected.Use(authenticate.New(log, handler))

			protected.Route("/account", func(ar chi.Router) {
				ar.Get("/profile", account.Profile(log, handler))
				ar.Post("/promo/redeem", promoh.Redeem(log, handler))

				ar.Route("/slots", func(sr chi.Router) {
					sr.Post("/add", slotsh.Add(log, handler))
					sr.Post("/remove", slotsh.Remove(log, handler))
					sr.Post("/leave", slotsh.Leave(log, handler))
				})

				ar.Route("/devices", func(dr chi.Router) {
					dr.Get("/", device.List(log, handler))
					dr.Post("/reset-primary", device.ResetPrimary(log, handler))
					dr.Post("/regenerate-code", device.RegenerateCode(log, handler))
					dr.Post("/{id}/disconnect", device.Disconnect(log, handler))
				})
			})

			protected.Route("/games", func(gr chi.Router) {
				gr.Get("/", content.Games(log, handler))
				gr.Get("/search", content.Search(log, handler))
				gr.Get("/stats/daily", content.DailyStats(log, handler))
				gr.Get("/stats/period", content.PeriodStats(log, handler))
				gr.Get("/{id}", content.Detail(log, handler))
			})

			protected.Route("/admin", func(adr chi.Router) {
				adr.Use(adminmw.New(log))

				adr.Route("/users", func(ur chi.Router) {
					ur.Get("/", admin.Users(log, handler))
					ur.Post("/", admin.CreateUser(log, handler))
					ur.Put("/{id}", admin.UpdateUser(log, handler))
					ur.Delete("/{id}", admin.DeleteUser(log, handler))
				})

				adr.Route("/promo", func(pr chi.Router) {
					pr.Get("/", admin.Promos(log, handler))
					pr.Post("/", admin.CreatePromo(log, handler))
					pr.Delete("/{id}", admin.DeletePromo(log, handler))
					pr.Delete("/group/{group}", admin.DeletePromoGroup(log, handler))
				})
			})
		})
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:      router,
		ErrorLog:     httpLog,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIp, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
