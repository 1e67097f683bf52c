package rest

import (
	"net/http"

	mjolnirUtils "github.com/dfryer1193/mjolnir/utils"
	"github.com/go-chi/chi/v5"
	"github.com/mwhitfield/lockstep/internal/rest/handlers"
	"github.com/rs/zerolog/log"
)

func SetupRoutes(router *chi.Mux, migrationHandler *handlers.MigrationHandler) {
	router.Route("/migrations/v1", func(r chi.Router) {
		r.Get("/status", handle(migrationHandler.GetStatus))
		r.Get("/applied", handle(migrationHandler.GetApplied))
		r.Get("/pending", handle(migrationHandler.GetPending))
		r.Post("/run", handle(migrationHandler.Run))
	})
}

// handle adapts an ApiError-returning handler onto chi. Handlers write
// their own success responses; a returned error means nothing was written.
func handle(h func(http.ResponseWriter, *http.Request) *mjolnirUtils.ApiError) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if apiErr := h(w, r); apiErr != nil {
			log.Error().Interface("error", apiErr).Str("path", r.URL.Path).Msg("request failed")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}
}
