package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	mediasvc "github.com/ivankudzin/anonmod/internal/services/media"
	modsvc "github.com/ivankudzin/anonmod/internal/services/moderation"
	"github.com/ivankudzin/anonmod/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
)

type ModerationService interface {
	Submit(ctx context.Context, in modsvc.SubmitInput) (int64, error)
	Get(ctx context.Context, id int64) (model.ModerationItem, error)
	Decide(ctx context.Context, in modsvc.DecideInput) (model.Outcome, error)
	PendingCount(ctx context.Context) (int64, error)
}

type LevelReader interface {
	Level(ctx context.Context, userID int64) (enums.Level, error)
}

type ContentDescriber interface {
	Describe(ctx context.Context, content model.Content) (mediasvc.View, error)
}

type ItemsHandler struct {
	items  ModerationService
	levels LevelReader
	media  ContentDescriber
}

func NewItemsHandler(items ModerationService, levels LevelReader, media ContentDescriber) *ItemsHandler {
	return &ItemsHandler{items: items, levels: levels, media: media}
}

func (h *ItemsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req dto.SubmitItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}
	if req.SubmitterID <= 0 || len(req.Content) == 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "submitter_id and content are required")
		return
	}

	content, err := model.DecodeContent(req.Content)
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid content")
		return
	}

	level, err := h.levels.Level(r.Context(), req.SubmitterID)
	if err != nil {
		writeError(w, err)
		return
	}

	itemID, err := h.items.Submit(r.Context(), modsvc.SubmitInput{
		SubmitterID:    req.SubmitterID,
		SubmitterLevel: level,
		DisplayName:    req.DisplayName,
		Content:        content,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusCreated, dto.SubmitItemResponse{ItemID: itemID})
}

func (h *ItemsHandler) Get(w http.ResponseWriter, r *http.Request) {
	itemID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	item, err := h.items.Get(r.Context(), itemID)
	if err != nil {
		writeError(w, err)
		return
	}

	view := dto.ContentView{
		Kind:    string(item.Content.Kind()),
		Caption: model.Caption(item.Content),
		FileRef: model.FileRef(item.Content),
	}
	if h.media != nil {
		described, err := h.media.Describe(r.Context(), item.Content)
		if err != nil {
			writeError(w, fmt.Errorf("describe content: %w: %w", apperr.ErrStoreUnavailable, err))
			return
		}
		view.URL = described.URL
		view.URLExpiresAt = described.URLExpiresAt
	}

	httperrors.Write(w, http.StatusOK, dto.ItemResponse{
		ID:             item.ID,
		SubmitterID:    item.SubmitterID,
		SubmitterLevel: item.SubmitterLevel.String(),
		Status:         string(item.Status),
		Content:        view,
		CreatedAt:      item.CreatedAt,
		ExpiresAt:      item.ExpiresAt,
	})
}

func (h *ItemsHandler) Decide(w http.ResponseWriter, r *http.Request) {
	actorID, ok := requireActor(w, r)
	if !ok {
		return
	}
	itemID, ok := pathInt64(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid item id")
		return
	}

	var req dto.DecisionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	in := modsvc.DecideInput{
		ItemID:      itemID,
		ModeratorID: actorID,
		Approve:     req.Approve,
		ReasonCode:  req.ReasonCode,
	}
	if req.Sanction != nil {
		kind, ok := enums.ParsePunishmentKind(req.Sanction.Kind)
		if !ok || req.Sanction.DurationSec < 0 {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid sanction")
			return
		}
		in.Sanction = &modsvc.SanctionRequest{
			Kind:     kind,
			Reason:   req.Sanction.Reason,
			Duration: time.Duration(req.Sanction.DurationSec) * time.Second,
		}
	}

	outcome, err := h.items.Decide(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := dto.DecisionResponse{
		ItemID:  outcome.ItemID,
		Outcome: string(outcome.Kind),
		Reason:  outcome.Reason,
	}
	if outcome.Sanction != nil {
		p := punishmentResponse(*outcome.Sanction)
		resp.Sanction = &p
	}
	if outcome.SanctionErr != nil {
		_, apiErr := httperrors.Status(outcome.SanctionErr)
		resp.SanctionErr = apiErr.Code
	}
	httperrors.Write(w, http.StatusOK, resp)
}

func (h *ItemsHandler) PendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := h.items.PendingCount(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	httperrors.Write(w, http.StatusOK, dto.PendingCountResponse{Pending: count})
}

func (h *ItemsHandler) RejectReasons(w http.ResponseWriter, _ *http.Request) {
	reasons := modsvc.ListRejectReasons()
	items := make([]dto.RejectReasonItem, 0, len(reasons))
	for _, reason := range reasons {
		items = append(items, dto.RejectReasonItem{
			ReasonCode: reason.ReasonCode,
			Label:      reason.Label,
			ReasonText: reason.ReasonText,
		})
	}
	httperrors.Write(w, http.StatusOK, dto.RejectReasonsResponse{Items: items})
}
