package api

import (
	"net/http"

	"github.com/go-chi/chi"
	chimw "github.com/go-chi/chi/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"

	"github.com/natours/internal/middleware"
	"github.com/natours/internal/model"
)

// RouterConfig carries the pieces of the HTTP stack that live outside the
// handlers.
type RouterConfig struct {
	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	Log         *zap.Logger
	BodyLimit   int64
	// TrustProxy takes the client address from X-Forwarded-For or
	// X-Real-IP. Off, the rate limiter keys on the socket address.
	TrustProxy bool
}

// NewRouter creates a new HTTP router with all routes
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	auth := cfg.Auth
	protect := auth.Protect
	restrict := auth.RestrictTo

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if cfg.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.Logger(cfg.Log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS)
	r.Use(middleware.RequestTime)

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.NotFound)

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("list"),
		httpSwagger.DomID("swagger-ui"),
	))

	r.Route("/api", func(r chi.Router) {
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Handler)
		}
		r.Use(middleware.JSON)
		if cfg.BodyLimit > 0 {
			r.Use(middleware.BodyLimit(cfg.BodyLimit))
		}
		r.NotFound(h.NotFound)
		r.MethodNotAllowed(h.NotFound)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/health", h.Health)

			r.Route("/users", func(r chi.Router) {
				r.Post("/signup", h.Signup)
				r.Post("/login", h.Login)
				r.Post("/forgot-password", h.ForgotPassword)
				r.Patch("/reset-password/{token}", h.ResetPassword)

				r.Group(func(r chi.Router) {
					r.Use(protect)
					r.Get("/me", h.GetMe)
					r.Patch("/update-my-password", h.UpdatePassword)
					r.Patch("/update-me", h.UpdateMe)
					r.Delete("/delete-me", h.DeleteMe)

					r.Group(func(r chi.Router) {
						r.Use(restrict(model.RoleAdmin))
						r.Get("/", h.Users.GetAll)
						r.Post("/", h.CreateUser)
						r.Get("/{id}", h.Users.GetOne)
						r.Patch("/{id}", h.Users.UpdateOne)
						r.Delete("/{id}", h.Users.DeleteOne)
					})
				})
			})

			r.Route("/tours", func(r chi.Router) {
				r.With(AliasTopTours).Get("/top-5", h.GetAllTours)
				r.Get("/tour-stats", h.GetTourStats)
				r.With(protect, restrict(model.RoleAdmin, model.RoleLeadGuide, model.RoleGuide)).
					Get("/monthly-plan/{year}", h.GetMonthlyPlan)

				r.Get("/", h.GetAllTours)
				r.With(protect, restrict(model.RoleAdmin, model.RoleLeadGuide)).Post("/", h.CreateTour)
				r.Get("/{id}", h.GetTour)
				r.With(protect, restrict(model.RoleAdmin, model.RoleLeadGuide)).Patch("/{id}", h.UpdateTour)
				r.With(protect, restrict(model.RoleAdmin, model.RoleLeadGuide)).Delete("/{id}", h.DeleteTour)

				r.Route("/{tourId}/reviews", reviewRoutes(h, protect, restrict))
			})

			r.Route("/reviews", reviewRoutes(h, protect, restrict))
		})
	})

	return r
}

// reviewRoutes is mounted both at /reviews and under a tour.
func reviewRoutes(h *Handler, protect func(http.Handler) http.Handler, restrict func(...model.Role) func(http.Handler) http.Handler) func(chi.Router) {
	return func(r chi.Router) {
		r.Get("/", h.GetAllReviews)
		r.With(protect, restrict(model.RoleUser)).Post("/", h.CreateReview)
		r.Get("/{id}", h.GetReview)
		r.With(protect, restrict(model.RoleUser, model.RoleAdmin)).Patch("/{id}", h.UpdateReview)
		r.With(protect, restrict(model.RoleUser, model.RoleAdmin)).Delete("/{id}", h.DeleteReview)
	}
}
