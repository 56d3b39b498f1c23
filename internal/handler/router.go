package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	checkinHandler "github.com/cheqin-app/backend/internal/handler/checkin"
	companionHandler "github.com/cheqin-app/backend/internal/handler/companion"
	middlewarePkg "github.com/cheqin-app/backend/internal/middleware"
	companionModel "github.com/cheqin-app/backend/internal/model/companion"
	checkinService "github.com/cheqin-app/backend/internal/service/checkin"
	"github.com/cheqin-app/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services. sessions may be nil when
// no realtime credential is configured; the check-in routes then answer 503.
func NewRouter(companions companionModel.Store, sessions *checkinService.Service) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		companionHandler.New(companions).RegisterRoutes(api)

		if sessions != nil {
			checkinHandler.New(sessions).RegisterRoutes(api)
		} else {
			api.Route("/checkin", func(c chi.Router) {
				c.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
					utils.RespondError(w, http.StatusServiceUnavailable, "realtime check-in is not configured")
				})
			})
		}
	})

	return r
}
