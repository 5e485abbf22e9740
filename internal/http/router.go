package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/micro-ha/ble-radar/internal/http/handlers"
)

// NewRouter builds the HTTP routing tree. metrics serves /metrics when set.
func NewRouter(api *handlers.API, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RecoverJSON)
	r.Use(RequestLogger(api))

	// The stream outlives the request timeout.
	r.Get("/api/stream", api.Stream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(20 * time.Second))

		r.Get("/healthz", api.Health)
		if metrics != nil {
			r.Method(http.MethodGet, "/metrics", metrics)
		}
		r.Route("/api", func(apiRouter chi.Router) {
			apiRouter.Get("/devices", api.ListDevices)
			apiRouter.Get("/devices/{address}", func(w http.ResponseWriter, r *http.Request) {
				api.GetDevice(w, r, chi.URLParam(r, "address"))
			})
			apiRouter.Patch("/devices/{address}", func(w http.ResponseWriter, r *http.Request) {
				api.PatchDevice(w, r, chi.URLParam(r, "address"))
			})
			apiRouter.Delete("/devices/{address}", func(w http.ResponseWriter, r *http.Request) {
				api.DeleteDevice(w, r, chi.URLParam(r, "address"))
			})

			apiRouter.Get("/profiles", api.ListProfiles)
			apiRouter.Post("/profiles", api.CreateProfile)
			apiRouter.Get("/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.GetProfile(w, r, chi.URLParam(r, "id"))
			})
			apiRouter.Put("/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.UpdateProfile(w, r, chi.URLParam(r, "id"))
			})
			apiRouter.Delete("/profiles/{id}", func(w http.ResponseWriter, r *http.Request) {
				api.DeleteProfile(w, r, chi.URLParam(r, "id"))
			})
			apiRouter.Get("/profiles/{id}/detects", func(w http.ResponseWriter, r *http.Request) {
				api.ListProfileDetects(w, r, chi.URLParam(r, "id"))
			})

			apiRouter.Get("/journal", api.ListJournal)
			apiRouter.Post("/scan", api.TriggerScan)
			apiRouter.Get("/planner", api.PlannerStatus)
		})
	})
	return r
}

// RunServer starts and gracefully stops HTTP server with context cancellation.
func RunServer(ctx context.Context, server *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
