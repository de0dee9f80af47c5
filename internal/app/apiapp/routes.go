package apiapp

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ivankudzin/anonmod/internal/transport/http/handlers"
)

type Dependencies struct {
	Moderation  handlers.ModerationService
	Levels      handlers.LevelReader
	Media       handlers.ContentDescriber
	Punishments handlers.PunishmentService
	Users       handlers.UserService
	Stats       handlers.StatsService
	Rates       handlers.RateStatusReader
	APIKey      string
	Logger      *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	itemsHandler := handlers.NewItemsHandler(deps.Moderation, deps.Levels, deps.Media)
	punishmentsHandler := handlers.NewPunishmentsHandler(deps.Punishments)
	adminHandler := handlers.NewAdminHandler(deps.Users, deps.Stats, deps.Rates)
	apiKeyMW := APIKeyMiddleware(deps.APIKey, deps.Logger)

	r.Get("/health", adminHandler.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(apiKeyMW)

		r.Route("/items", func(r chi.Router) {
			r.Post("/", itemsHandler.Submit)
			r.Get("/pending/count", itemsHandler.PendingCount)
			r.Get("/reject-reasons", itemsHandler.RejectReasons)
			r.Get("/{id}", itemsHandler.Get)
			r.Post("/{id}/decision", itemsHandler.Decide)
		})

		r.Route("/punishments", func(r chi.Router) {
			r.Post("/", punishmentsHandler.Impose)
			r.Get("/active", punishmentsHandler.ListActive)
			r.Get("/{subject}", punishmentsHandler.ListBySubject)
			r.Get("/{subject}/history", punishmentsHandler.History)
			r.Get("/{subject}/{kind}", punishmentsHandler.Status)
			r.Delete("/{subject}/{kind}", punishmentsHandler.Revoke)
		})

		r.Get("/users/{id}", adminHandler.User)
		r.Put("/users/{id}/level", adminHandler.SetLevel)
		r.Get("/users/{id}/audit", adminHandler.AuditTrail)

		r.Get("/moderators/leaderboard", adminHandler.Leaderboard)
		r.Get("/moderators/{id}/stats", adminHandler.ModeratorStats)

		r.Get("/analytics/daily", adminHandler.DailyAnalytics)
		r.Get("/analytics/system", adminHandler.SystemStats)

		r.Get("/ratelimit/{id}", adminHandler.RateLimitStatus)
	})
}
