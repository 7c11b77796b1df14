package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/animgen/internal/api/middleware"
	"github.com/kiranshivaraju/animgen/internal/api/handler"
	"github.com/kiranshivaraju/animgen/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc
	Animations    handler.Animations
	Jobs          handler.Jobs
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.HealthHandler))

		r.Group(func(r chi.Router) {
			if deps.RateLimit != nil {
				r.Use(deps.RateLimit.Limit)
			}

			r.Route("/animations", func(r chi.Router) {
				r.Post("/", animationRoute(deps.Animations, handler.NewCreateAnimationHandler))
				r.Get("/", animationRoute(deps.Animations, handler.NewListAnimationsHandler))

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", animationRoute(deps.Animations, handler.NewGetAnimationHandler))
					r.Put("/", animationRoute(deps.Animations, handler.NewUpdateAnimationHandler))
					r.Delete("/", animationRoute(deps.Animations, handler.NewDeleteAnimationHandler))
					r.Get("/export", animationRoute(deps.Animations, handler.NewExportAnimationHandler))
					r.Put("/playhead", animationRoute(deps.Animations, handler.NewSetPlayheadHandler))
					r.Post("/render", jobRoute(deps.Jobs, handler.NewRenderHandler))
					r.Get("/status", jobRoute(deps.Jobs, handler.NewRenderStatusHandler))

					r.Post("/tracks", animationRoute(deps.Animations, handler.NewAddTrackHandler))
					r.Delete("/tracks/{trackID}", animationRoute(deps.Animations, handler.NewRemoveTrackHandler))
					r.Get("/tracks/{trackID}/keyframes", animationRoute(deps.Animations, handler.NewListKeyframesHandler))
					r.Put("/tracks/{trackID}/keyframes", animationRoute(deps.Animations, handler.NewUpsertKeyframeHandler))
					r.Delete("/tracks/{trackID}/keyframes", animationRoute(deps.Animations, handler.NewRemoveKeyframeHandler))
				})
			})

			r.Post("/characters", jobRoute(deps.Jobs, handler.NewCharacterHandler))

			r.Route("/jobs/{jobID}", func(r chi.Router) {
				r.Get("/", jobRoute(deps.Jobs, handler.NewGetJobHandler))
				r.Delete("/", jobRoute(deps.Jobs, handler.NewCancelJobHandler))
				r.Get("/wait", jobRoute(deps.Jobs, handler.NewWaitJobHandler))
			})
		})
	})

	return r
}

func animationRoute(svc handler.Animations, build func(handler.Animations) http.HandlerFunc) http.HandlerFunc {
	if svc == nil {
		return orNotImplemented(nil)
	}
	return build(svc)
}

func jobRoute(svc handler.Jobs, build func(handler.Jobs) http.HandlerFunc) http.HandlerFunc {
	if svc == nil {
		return orNotImplemented(nil)
	}
	return build(svc)
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
