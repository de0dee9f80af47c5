package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
)

type actorKey struct{}

// WithActor stores the acting user id taken from X-Actor-ID.
func WithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func ActorFromContext(ctx context.Context) (int64, bool) {
	actorID, ok := ctx.Value(actorKey{}).(int64)
	return actorID, ok && actorID != 0
}

func requireActor(w http.ResponseWriter, r *http.Request) (int64, bool) {
	actorID, ok := ActorFromContext(r.Context())
	if !ok {
		writeBadRequest(w, "ACTOR_REQUIRED", "X-Actor-ID header is required")
		return 0, false
	}
	return actorID, true
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, err error) {
	httperrors.WriteError(w, err)
}

func pathInt64(r *http.Request, name string) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}
