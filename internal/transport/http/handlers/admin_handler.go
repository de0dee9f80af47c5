package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
	"github.com/ivankudzin/anonmod/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
)

type UserService interface {
	User(ctx context.Context, userID int64) (model.User, error)
	SetLevel(ctx context.Context, actorID, userID int64, level enums.Level) (model.User, error)
}

type StatsService interface {
	ModeratorStats(ctx context.Context, moderatorID int64) (model.ModeratorStats, error)
	Leaderboard(ctx context.Context, limit int) ([]model.ModeratorStats, error)
	DailyAnalytics(ctx context.Context, day string) (model.DailyAnalytics, error)
	SystemStats(ctx context.Context) (model.SystemStats, error)
	AuditTrail(ctx context.Context, subjectID int64, window time.Duration, limit int) ([]model.AuditEntry, error)
}

type RateStatusReader interface {
	Status(ctx context.Context, submitterID int64) (ratelimit.Snapshot, error)
}

type AdminHandler struct {
	users UserService
	stats StatsService
	rates RateStatusReader
}

func NewAdminHandler(users UserService, stats StatsService, rates RateStatusReader) *AdminHandler {
	return &AdminHandler{users: users, stats: stats, rates: rates}
}

func (h *AdminHandler) Health(w http.ResponseWriter, _ *http.Request) {
	httperrors.Write(w, http.StatusOK, dto.HealthResponse{OK: true})
}

func (h *AdminHandler) User(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid user id")
		return
	}

	user, err := h.users.User(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, userResponse(user))
}

func (h *AdminHandler) SetLevel(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	userID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid user id")
		return
	}

	var req dto.SetLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	level, err := enums.ParseLevel(req.Level)
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid level")
		return
	}

	user, err := h.users.SetLevel(r.Context(), actorID, userID, level)
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, userResponse(user))
}

func (h *AdminHandler) ModeratorStats(w http.ResponseWriter, r *http.Request) {
	moderatorID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid moderator id")
		return
	}

	stats, err := h.stats.ModeratorStats(r.Context(), moderatorID)
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, moderatorStatsResponse(stats))
}

func (h *AdminHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	items, err := h.stats.Leaderboard(r.Context(), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]dto.ModeratorStatsResponse, 0, len(items))
	for _, item := range items {
		out = append(out, moderatorStatsResponse(item))
	}
	httperrors.Write(w, http.StatusOK, dto.LeaderboardResponse{Items: out})
}

func (h *AdminHandler) DailyAnalytics(w http.ResponseWriter, r *http.Request) {
	analytics, err := h.stats.DailyAnalytics(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, analytics)
}

func (h *AdminHandler) SystemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.SystemStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, stats)
}

// AuditTrail serves GET /users/{id}/audit?days=N&limit=M.
func (h *AdminHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid user id")
		return
	}
	days := queryInt(r, "days", 30)
	if days <= 0 || days > 365 {
		writeBadRequest(w, "VALIDATION_ERROR", "days must be within 1..365")
		return
	}

	entries, err := h.stats.AuditTrail(r.Context(), userID, time.Duration(days)*24*time.Hour, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]dto.AuditEntryResponse, 0, len(entries))
	for _, entry := range entries {
		out = append(out, dto.AuditEntryResponse{
			ID:        entry.ID,
			ActorID:   entry.ActorID,
			Action:    string(entry.Action),
			Details:   entry.Details,
			CreatedAt: entry.CreatedAt,
		})
	}
	httperrors.Write(w, http.StatusOK, dto.AuditTrailResponse{UserID: userID, Items: out})
}

func (h *AdminHandler) RateLimitStatus(w http.ResponseWriter, r *http.Request) {
	submitterID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid submitter id")
		return
	}

	snapshot, err := h.rates.Status(r.Context(), submitterID)
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.RateLimitStatusResponse{
		SubmitterID:   submitterID,
		Used:          snapshot.Used,
		Limit:         snapshot.Limit,
		PeriodSec:     int64(snapshot.Period / time.Second),
		RetryAfterSec: ratelimit.CeilSeconds(snapshot.RetryAfter),
	})
}

func userResponse(user model.User) dto.UserResponse {
	return dto.UserResponse{
		ID:          user.ID,
		Level:       int(user.Level),
		LevelName:   user.Level.String(),
		DisplayName: user.DisplayName,
		CreatedAt:   user.CreatedAt,
		UpdatedAt:   user.UpdatedAt,
	}
}

func moderatorStatsResponse(stats model.ModeratorStats) dto.ModeratorStatsResponse {
	return dto.ModeratorStatsResponse{
		ModeratorID:    stats.ModeratorID,
		Approved:       stats.Approved,
		Rejected:       stats.Rejected,
		Reviewed:       stats.Reviewed,
		WarningsIssued: stats.WarningsIssued,
		AvgLatencySec:  stats.AvgLatency.Seconds(),
		UpdatedAt:      stats.UpdatedAt,
	}
}
