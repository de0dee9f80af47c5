package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
)

type fakeStore struct {
	from, to time.Time
	limit    int
}

func (f *fakeStore) GetModerator(_ context.Context, moderatorID int64) (model.ModeratorStats, error) {
	return model.ModeratorStats{ModeratorID: moderatorID, Reviewed: 3}, nil
}

func (f *fakeStore) Leaderboard(_ context.Context, limit int) ([]model.ModeratorStats, error) {
	f.limit = limit
	return []model.ModeratorStats{{ModeratorID: 1, Reviewed: 9}}, nil
}

func (f *fakeStore) Daily(_ context.Context, from, to time.Time) (model.DailyAnalytics, error) {
	f.from, f.to = from, to
	return model.DailyAnalytics{Submitted: 4}, nil
}

func (f *fakeStore) DecisionTotals(context.Context) (int64, int64, error) {
	return 7, 2, nil
}

type fixedCounts struct{}

func (fixedCounts) Counts(context.Context) (int64, int64, error) { return 50, 4, nil }

func (fixedCounts) PendingCount(context.Context) (int64, error) { return 6, nil }

func (fixedCounts) CountActive(context.Context) (map[enums.PunishmentKind]int64, error) {
	return map[enums.PunishmentKind]int64{enums.PunishmentKindBan: 2}, nil
}

func TestDailyAnalyticsUsesLocalCalendarDay(t *testing.T) {
	store := &fakeStore{}
	svc, err := NewService(Dependencies{Store: store}, Config{Timezone: "Europe/Minsk"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	out, err := svc.DailyAnalytics(context.Background(), "2026-02-08")
	if err != nil {
		t.Fatalf("daily analytics: %v", err)
	}

	wantFrom := time.Date(2026, 2, 7, 21, 0, 0, 0, time.UTC)
	if !store.from.Equal(wantFrom) || !store.to.Equal(wantFrom.Add(24*time.Hour)) {
		t.Fatalf("unexpected range: %s .. %s", store.from, store.to)
	}
	if out.Submitted != 4 || out.Day.Format(dayLayout) != "2026-02-08" {
		t.Fatalf("unexpected analytics: %+v", out)
	}
}

func TestDailyAnalyticsDefaultsToToday(t *testing.T) {
	store := &fakeStore{}
	svc, err := NewService(Dependencies{Store: store}, Config{Timezone: "Europe/Minsk"})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 2, 8, 22, 30, 0, 0, time.UTC) } // 01:30 local on the 9th

	if _, err := svc.DailyAnalytics(context.Background(), ""); err != nil {
		t.Fatalf("daily analytics: %v", err)
	}
	if !store.from.Equal(time.Date(2026, 2, 8, 21, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected local today, got %s", store.from)
	}
}

func TestDailyAnalyticsRejectsBadDate(t *testing.T) {
	svc, err := NewService(Dependencies{Store: &fakeStore{}}, Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.DailyAnalytics(context.Background(), "08.02.2026"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLeaderboardDefaultLimitAndSystemStats(t *testing.T) {
	store := &fakeStore{}
	svc, err := NewService(Dependencies{
		Store:       store,
		Users:       fixedCounts{},
		Pending:     fixedCounts{},
		Punishments: fixedCounts{},
	}, Config{LeaderboardLimit: 5})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Leaderboard(ctx, 0); err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if store.limit != 5 {
		t.Fatalf("expected configured limit, got %d", store.limit)
	}

	sys, err := svc.SystemStats(ctx)
	if err != nil {
		t.Fatalf("system stats: %v", err)
	}
	if sys.TotalUsers != 50 || sys.Moderators != 4 || sys.PendingItems != 6 {
		t.Fatalf("unexpected user/pending stats: %+v", sys)
	}
	if sys.TotalApproved != 7 || sys.TotalRejected != 2 || sys.ActivePunishments["BAN"] != 2 {
		t.Fatalf("unexpected decision/punishment stats: %+v", sys)
	}
}

func TestNewServiceRejectsUnknownTimezone(t *testing.T) {
	if _, err := NewService(Dependencies{}, Config{Timezone: "Mars/Olympus"}); err == nil {
		t.Fatalf("expected timezone error")
	}
}

type fakeAudit struct {
	since time.Time
	limit int
	err   error
}

func (f *fakeAudit) ListBySubject(_ context.Context, subjectID int64, since time.Time, limit int) ([]model.AuditEntry, error) {
	f.since, f.limit = since, limit
	if f.err != nil {
		return nil, f.err
	}
	return []model.AuditEntry{{ID: 1, SubjectID: &subjectID}}, nil
}

func TestAuditTrailDefaultsWindow(t *testing.T) {
	audit := &fakeAudit{}
	svc, err := NewService(Dependencies{Audit: audit}, Config{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	entries, err := svc.AuditTrail(context.Background(), 42, 0, 10)
	if err != nil || len(entries) != 1 {
		t.Fatalf("audit trail: %v %v", entries, err)
	}
	if !audit.since.Equal(now.Add(-30*24*time.Hour)) || audit.limit != 10 {
		t.Fatalf("unexpected query since=%v limit=%d", audit.since, audit.limit)
	}

	if _, err := svc.AuditTrail(context.Background(), 0, time.Hour, 10); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	audit.err = errors.New("conn reset")
	if _, err := svc.AuditTrail(context.Background(), 42, time.Hour, 10); !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
}
