package apiapp

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
	"github.com/ivankudzin/anonmod/internal/transport/http/handlers"
)

const (
	headerAPIKey  = "X-API-Key"
	headerActorID = "X-Actor-ID"
)

func ApplyMiddlewares(r chiRouter, log *zap.Logger) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(requestLogger(log))
}

// APIKeyMiddleware guards the admin surface with a static key. The optional
// X-Actor-ID names the user on whose behalf a mutation is made; capability
// checks run against that user in the services.
func APIKeyMiddleware(apiKey string, log *zap.Logger) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
					Code:    "ADMIN_API_DISABLED",
					Message: "admin api key is not configured",
				})
				return
			}

			provided := []byte(strings.TrimSpace(r.Header.Get(headerAPIKey)))
			if subtle.ConstantTimeCompare(provided, expected) != 1 {
				if log != nil {
					log.Debug("admin api key rejected", zap.String("path", r.URL.Path))
				}
				httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
					Code:    "UNAUTHORIZED",
					Message: "invalid api key",
				})
				return
			}

			ctx := r.Context()
			if raw := strings.TrimSpace(r.Header.Get(headerActorID)); raw != "" {
				actorID, err := strconv.ParseInt(raw, 10, 64)
				if err != nil || actorID <= 0 {
					httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{
						Code:    "VALIDATION_ERROR",
						Message: "invalid X-Actor-ID header",
					})
					return
				}
				ctx = handlers.WithActor(ctx, actorID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			if log != nil {
				log.Info("http_request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Duration("duration", time.Since(start)),
				)
			}
		})
	}
}

type chiRouter interface {
	Use(middlewares ...func(http.Handler) http.Handler)
}
