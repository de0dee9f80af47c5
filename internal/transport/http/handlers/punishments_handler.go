package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	punishsvc "github.com/ivankudzin/anonmod/internal/services/punishment"
	"github.com/ivankudzin/anonmod/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
)

const defaultActiveListLimit = 50

type PunishmentService interface {
	Impose(ctx context.Context, in punishsvc.ImposeInput) (punishsvc.ImposeResult, error)
	Revoke(ctx context.Context, in punishsvc.RevokeInput) (bool, error)
	ActiveOf(ctx context.Context, subjectID int64, kind enums.PunishmentKind) (model.Punishment, error)
	Active(ctx context.Context, subjectID int64) ([]model.Punishment, error)
	ListActive(ctx context.Context, afterID int64, limit int) ([]model.Punishment, error)
	History(ctx context.Context, subjectID int64) (map[enums.PunishmentKind]int64, error)
}

type PunishmentsHandler struct {
	punishments PunishmentService
}

func NewPunishmentsHandler(punishments PunishmentService) *PunishmentsHandler {
	return &PunishmentsHandler{punishments: punishments}
}

func (h *PunishmentsHandler) Impose(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req dto.ImposeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	kind, ok := enums.ParsePunishmentKind(req.Kind)
	if !ok || req.SubjectID <= 0 || req.DurationSec < 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid punishment")
		return
	}

	result, err := h.punishments.Impose(r.Context(), punishsvc.ImposeInput{
		SubjectID:   req.SubjectID,
		Kind:        kind,
		Reason:      strings.TrimSpace(req.Reason),
		Duration:    time.Duration(req.DurationSec) * time.Second,
		ModeratorID: actorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := dto.ImposeResponse{
		Punishment: punishmentResponse(result.Punishment),
		Warnings:   result.Warnings,
	}
	if result.Superseded != nil {
		p := punishmentResponse(*result.Superseded)
		resp.Superseded = &p
	}
	if result.Escalated != nil {
		p := punishmentResponse(*result.Escalated)
		resp.Escalated = &p
	}
	httperrors.Write(w, http.StatusCreated, resp)
}

func (h *PunishmentsHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	subjectID, kind, ok := subjectAndKind(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid subject or kind")
		return
	}

	revoked, err := h.punishments.Revoke(r.Context(), punishsvc.RevokeInput{
		SubjectID:   subjectID,
		Kind:        kind,
		ModeratorID: actorID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.RevokeResponse{Revoked: revoked})
}

func (h *PunishmentsHandler) Status(w http.ResponseWriter, r *http.Request) {
	subjectID, kind, ok := subjectAndKind(r)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid subject or kind")
		return
	}

	resp := dto.ActiveStatusResponse{SubjectID: subjectID, Kind: string(kind)}
	p, err := h.punishments.ActiveOf(r.Context(), subjectID, kind)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
	case err != nil:
		writeError(w, err)
		return
	default:
		view := punishmentResponse(p)
		resp.Active = true
		resp.Punishment = &view
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PunishmentsHandler) ListBySubject(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathInt64(r, "subject")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid subject id")
		return
	}

	items, err := h.punishments.Active(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.PunishmentListResponse{Items: punishmentResponses(items)})
}

func (h *PunishmentsHandler) History(w http.ResponseWriter, r *http.Request) {
	subjectID, ok := pathInt64(r, "subject")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid subject id")
		return
	}

	counts, err := h.punishments.History(r.Context(), subjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make(map[string]int64, 3)
	for _, kind := range []enums.PunishmentKind{enums.PunishmentKindMute, enums.PunishmentKindWarning, enums.PunishmentKindBan} {
		out[string(kind)] = counts[kind]
	}
	httperrors.Write(w, http.StatusOK, dto.PunishmentHistoryResponse{SubjectID: subjectID, Counts: out})
}

// ListActive pages through every live punishment by id.
func (h *PunishmentsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	var afterID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid after_id")
			return
		}
		afterID = parsed
	}
	limit := queryInt(r, "limit", defaultActiveListLimit)

	items, err := h.punishments.ListActive(r.Context(), afterID, limit)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := dto.PunishmentListResponse{Items: punishmentResponses(items)}
	if len(items) == limit {
		resp.NextID = items[len(items)-1].ID
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func subjectAndKind(r *http.Request) (int64, enums.PunishmentKind, bool) {
	subjectID, ok := pathInt64(r, "subject")
	if !ok {
		return 0, "", false
	}
	kind, ok := enums.ParsePunishmentKind(chi.URLParam(r, "kind"))
	if !ok {
		return 0, "", false
	}
	return subjectID, kind, true
}

func punishmentResponse(p model.Punishment) dto.PunishmentResponse {
	return dto.PunishmentResponse{
		ID:          p.ID,
		SubjectID:   p.SubjectID,
		Kind:        string(p.Kind),
		Reason:      p.Reason,
		ModeratorID: p.ModeratorID,
		DurationSec: int64(p.Duration / time.Second),
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
	}
}

func punishmentResponses(items []model.Punishment) []dto.PunishmentResponse {
	out := make([]dto.PunishmentResponse, 0, len(items))
	for _, p := range items {
		out = append(out, punishmentResponse(p))
	}
	return out
}
