package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	mediasvc "github.com/ivankudzin/anonmod/internal/services/media"
	modsvc "github.com/ivankudzin/anonmod/internal/services/moderation"
	punishsvc "github.com/ivankudzin/anonmod/internal/services/punishment"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
	"github.com/ivankudzin/anonmod/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/anonmod/internal/transport/http/errors"
)

type moderationStub struct {
	submitted []modsvc.SubmitInput
	decided   []modsvc.DecideInput
	item      model.ModerationItem
	outcome   model.Outcome
	err       error
}

func (s *moderationStub) Submit(_ context.Context, in modsvc.SubmitInput) (int64, error) {
	s.submitted = append(s.submitted, in)
	if s.err != nil {
		return 0, s.err
	}
	return 41, nil
}

func (s *moderationStub) Get(_ context.Context, id int64) (model.ModerationItem, error) {
	if s.err != nil {
		return model.ModerationItem{}, s.err
	}
	item := s.item
	item.ID = id
	return item, nil
}

func (s *moderationStub) Decide(_ context.Context, in modsvc.DecideInput) (model.Outcome, error) {
	s.decided = append(s.decided, in)
	if s.err != nil {
		return model.Outcome{}, s.err
	}
	return s.outcome, nil
}

func (s *moderationStub) PendingCount(context.Context) (int64, error) {
	return 3, s.err
}

type levelStub map[int64]enums.Level

func (l levelStub) Level(_ context.Context, userID int64) (enums.Level, error) {
	return l[userID], nil
}

type describerStub struct{}

func (describerStub) Describe(_ context.Context, content model.Content) (mediasvc.View, error) {
	return mediasvc.View{Kind: content.Kind(), URL: "https://signed.local/x"}, nil
}

type punishmentStub struct {
	imposed []punishsvc.ImposeInput
	active  map[int64]model.Punishment
	list    []model.Punishment
	err     error
}

func (p *punishmentStub) Impose(_ context.Context, in punishsvc.ImposeInput) (punishsvc.ImposeResult, error) {
	p.imposed = append(p.imposed, in)
	if p.err != nil {
		return punishsvc.ImposeResult{}, p.err
	}
	return punishsvc.ImposeResult{Punishment: model.Punishment{ID: 1, SubjectID: in.SubjectID, Kind: in.Kind, Duration: in.Duration}}, nil
}

func (p *punishmentStub) Revoke(context.Context, punishsvc.RevokeInput) (bool, error) {
	return true, p.err
}

func (p *punishmentStub) ActiveOf(_ context.Context, subjectID int64, _ enums.PunishmentKind) (model.Punishment, error) {
	if found, ok := p.active[subjectID]; ok {
		return found, nil
	}
	return model.Punishment{}, fmt.Errorf("active punishment: %w", apperr.ErrNotFound)
}

func (p *punishmentStub) Active(context.Context, int64) ([]model.Punishment, error) {
	return p.list, p.err
}

func (p *punishmentStub) ListActive(_ context.Context, _ int64, limit int) ([]model.Punishment, error) {
	if len(p.list) > limit {
		return p.list[:limit], nil
	}
	return p.list, nil
}

func (p *punishmentStub) History(context.Context, int64) (map[enums.PunishmentKind]int64, error) {
	return map[enums.PunishmentKind]int64{enums.PunishmentKindWarning: 2}, nil
}

type rateStub struct{}

func (rateStub) Status(context.Context, int64) (ratelimit.Snapshot, error) {
	return ratelimit.Snapshot{Used: 5, Limit: 5, Period: time.Hour, RetryAfter: 1500 * time.Millisecond}, nil
}

func withURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func withActor(r *http.Request, actorID int64) *http.Request {
	return r.WithContext(WithActor(r.Context(), actorID))
}

func TestSubmitResolvesSubmitterLevel(t *testing.T) {
	items := &moderationStub{}
	handler := NewItemsHandler(items, levelStub{7: enums.LevelModerator}, nil)

	body := `{"submitter_id":7,"display_name":"anon","content":{"kind":"text","body":{"text":"hello"}}}`
	req := httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body))
	rr := httptest.NewRecorder()
	handler.Submit(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got=%d body=%s", rr.Code, rr.Body.String())
	}
	var resp dto.SubmitItemResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.ItemID != 41 {
		t.Fatalf("unexpected response %+v err %v", resp, err)
	}
	if len(items.submitted) != 1 || items.submitted[0].SubmitterLevel != enums.LevelModerator {
		t.Fatalf("unexpected submit input %+v", items.submitted)
	}
	if got, ok := items.submitted[0].Content.(model.TextContent); !ok || got.Text != "hello" {
		t.Fatalf("unexpected content %#v", items.submitted[0].Content)
	}
}

func TestSubmitRateLimitedSetsRetryAfter(t *testing.T) {
	items := &moderationStub{err: fmt.Errorf("submit: %w", apperr.RateLimited(90*time.Second+time.Millisecond))}
	handler := NewItemsHandler(items, levelStub{}, nil)

	body := `{"submitter_id":7,"content":{"kind":"text","body":{"text":"hello"}}}`
	rr := httptest.NewRecorder()
	handler.Submit(rr, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body)))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "91" {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	var resp httperrors.RateLimitError
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil || resp.RetryAfterSec != 91 || resp.Code != "RATE_LIMITED" {
		t.Fatalf("unexpected body %+v err %v", resp, err)
	}
}

func TestSubmitRejectsUnknownContentKind(t *testing.T) {
	items := &moderationStub{}
	handler := NewItemsHandler(items, levelStub{}, nil)

	body := `{"submitter_id":7,"content":{"kind":"poll","body":{}}}`
	rr := httptest.NewRecorder()
	handler.Submit(rr, httptest.NewRequest(http.MethodPost, "/items", strings.NewReader(body)))

	if rr.Code != http.StatusBadRequest || len(items.submitted) != 0 {
		t.Fatalf("unexpected status %d submitted=%d", rr.Code, len(items.submitted))
	}
}

func TestGetItemIncludesSignedURL(t *testing.T) {
	items := &moderationStub{item: model.ModerationItem{
		SubmitterID: 1,
		Status:      enums.ItemStatusPending,
		Content:     model.PhotoContent{FileRef: "s3:a.jpg", Caption: "c"},
	}}
	handler := NewItemsHandler(items, levelStub{}, describerStub{})

	req := withURLParams(httptest.NewRequest(http.MethodGet, "/items/9", nil), "id", "9")
	rr := httptest.NewRecorder()
	handler.Get(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var resp dto.ItemResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ID != 9 || resp.Content.Kind != "photo" || resp.Content.URL != "https://signed.local/x" || resp.Content.Caption != "c" {
		t.Fatalf("unexpected item %+v", resp)
	}
}

func TestGetItemMapsErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("get item: %w", apperr.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("get item: %w: %w", apperr.ErrStoreUnavailable, fmt.Errorf("dial tcp")), http.StatusServiceUnavailable},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		handler := NewItemsHandler(&moderationStub{err: tc.err}, levelStub{}, nil)
		req := withURLParams(httptest.NewRequest(http.MethodGet, "/items/9", nil), "id", "9")
		rr := httptest.NewRecorder()
		handler.Get(rr, req)

		if rr.Code != tc.status {
			t.Fatalf("%v: got status %d want %d", tc.err, rr.Code, tc.status)
		}
		if strings.Contains(rr.Body.String(), "dial tcp") {
			t.Fatalf("internal detail leaked: %s", rr.Body.String())
		}
	}
}

func TestDecideRequiresActor(t *testing.T) {
	items := &moderationStub{}
	handler := NewItemsHandler(items, levelStub{}, nil)

	req := withURLParams(httptest.NewRequest(http.MethodPost, "/items/9/decision", strings.NewReader(`{"approve":true}`)), "id", "9")
	rr := httptest.NewRecorder()
	handler.Decide(rr, req)

	if rr.Code != http.StatusBadRequest || len(items.decided) != 0 {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestDecideConflictAndSanction(t *testing.T) {
	items := &moderationStub{err: fmt.Errorf("decide: %w", apperr.ErrAlreadyDecided)}
	handler := NewItemsHandler(items, levelStub{}, nil)

	body := `{"approve":false,"reason_code":"SPAM","sanction":{"kind":"mute","reason":"spam","duration_sec":600}}`
	req := withActor(withURLParams(httptest.NewRequest(http.MethodPost, "/items/9/decision", strings.NewReader(body)), "id", "9"), 2)
	rr := httptest.NewRecorder()
	handler.Decide(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if len(items.decided) != 1 {
		t.Fatalf("expected one decide call")
	}
	in := items.decided[0]
	if in.ModeratorID != 2 || in.ItemID != 9 || in.Sanction == nil ||
		in.Sanction.Kind != enums.PunishmentKindMute || in.Sanction.Duration != 10*time.Minute {
		t.Fatalf("unexpected decide input %+v", in)
	}
}

func TestDecideReportsSanctionFailure(t *testing.T) {
	items := &moderationStub{outcome: model.Outcome{
		ItemID:      9,
		Kind:        model.OutcomeRejected,
		SanctionErr: fmt.Errorf("impose: %w", apperr.ErrForbidden),
	}}
	handler := NewItemsHandler(items, levelStub{}, nil)

	body := `{"approve":false,"sanction":{"kind":"BAN"}}`
	req := withActor(withURLParams(httptest.NewRequest(http.MethodPost, "/items/9/decision", strings.NewReader(body)), "id", "9"), 2)
	rr := httptest.NewRecorder()
	handler.Decide(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	var resp dto.DecisionResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Outcome != "REJECTED" || resp.SanctionErr != "FORBIDDEN" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestImposeAndStatus(t *testing.T) {
	punishments := &punishmentStub{active: map[int64]model.Punishment{
		5: {ID: 3, SubjectID: 5, Kind: enums.PunishmentKindBan},
	}}
	handler := NewPunishmentsHandler(punishments)

	body := `{"subject_id":5,"kind":"BAN","reason":"abuse","duration_sec":3600}`
	req := withActor(httptest.NewRequest(http.MethodPost, "/punishments", strings.NewReader(body)), 3)
	rr := httptest.NewRecorder()
	handler.Impose(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected impose status %d", rr.Code)
	}
	if len(punishments.imposed) != 1 || punishments.imposed[0].Duration != time.Hour || punishments.imposed[0].ModeratorID != 3 {
		t.Fatalf("unexpected impose input %+v", punishments.imposed)
	}

	for subject, active := range map[string]bool{"5": true, "6": false} {
		req := withURLParams(httptest.NewRequest(http.MethodGet, "/punishments/"+subject+"/ban", nil), "subject", subject, "kind", "ban")
		rr := httptest.NewRecorder()
		handler.Status(rr, req)

		var resp dto.ActiveStatusResponse
		if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if rr.Code != http.StatusOK || resp.Active != active {
			t.Fatalf("subject %s: status %d active %v", subject, rr.Code, resp.Active)
		}
	}
}

func TestImposeRejectsUnknownKind(t *testing.T) {
	handler := NewPunishmentsHandler(&punishmentStub{})
	req := withActor(httptest.NewRequest(http.MethodPost, "/punishments", strings.NewReader(`{"subject_id":5,"kind":"KICK"}`)), 3)
	rr := httptest.NewRecorder()
	handler.Impose(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}

func TestListActivePages(t *testing.T) {
	punishments := &punishmentStub{list: []model.Punishment{{ID: 1}, {ID: 2}, {ID: 3}}}
	handler := NewPunishmentsHandler(punishments)

	rr := httptest.NewRecorder()
	handler.ListActive(rr, httptest.NewRequest(http.MethodGet, "/punishments/active?limit=2", nil))

	var resp dto.PunishmentListResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Items) != 2 || resp.NextID != 2 {
		t.Fatalf("unexpected page %+v", resp)
	}
}

func TestHistoryFillsEveryKind(t *testing.T) {
	handler := NewPunishmentsHandler(&punishmentStub{})
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/punishments/5/history", nil), "subject", "5")
	rr := httptest.NewRecorder()
	handler.History(rr, req)

	var resp dto.PunishmentHistoryResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Counts) != 3 || resp.Counts["WARNING"] != 2 || resp.Counts["BAN"] != 0 {
		t.Fatalf("unexpected history %+v", resp)
	}
}

func TestRateLimitStatusRoundsUp(t *testing.T) {
	handler := NewAdminHandler(nil, nil, rateStub{})
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/ratelimit/7", nil), "id", "7")
	rr := httptest.NewRecorder()
	handler.RateLimitStatus(rr, req)

	var resp dto.RateLimitStatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Used != 5 || resp.PeriodSec != 3600 || resp.RetryAfterSec != 2 {
		t.Fatalf("unexpected status %+v", resp)
	}
}

type statsStub struct {
	StatsService
	window time.Duration
	limit  int
}

func (s *statsStub) AuditTrail(_ context.Context, subjectID int64, window time.Duration, limit int) ([]model.AuditEntry, error) {
	s.window, s.limit = window, limit
	return []model.AuditEntry{{
		ID:        3,
		ActorID:   9,
		SubjectID: &subjectID,
		Action:    enums.AuditActionPunishmentImposed,
		Details:   map[string]any{"kind": "MUTE"},
	}}, nil
}

func TestAuditTrailUsesWindowAndLimit(t *testing.T) {
	stats := &statsStub{}
	handler := NewAdminHandler(nil, stats, nil)
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/users/42/audit?days=7&limit=20", nil), "id", "42")
	rr := httptest.NewRecorder()
	handler.AuditTrail(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if stats.window != 7*24*time.Hour || stats.limit != 20 {
		t.Fatalf("unexpected query window=%v limit=%d", stats.window, stats.limit)
	}

	var resp dto.AuditTrailResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.UserID != 42 || len(resp.Items) != 1 || resp.Items[0].Action != "PUNISHMENT_IMPOSED" {
		t.Fatalf("unexpected trail %+v", resp)
	}
}

func TestAuditTrailRejectsLongWindow(t *testing.T) {
	handler := NewAdminHandler(nil, &statsStub{}, nil)
	req := withURLParams(httptest.NewRequest(http.MethodGet, "/users/42/audit?days=400", nil), "id", "42")
	rr := httptest.NewRecorder()
	handler.AuditTrail(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status %d", rr.Code)
	}
}
