package moderation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ivankudzin/anonmod/internal/cache"
	"github.com/ivankudzin/anonmod/internal/domain/apperr"
	"github.com/ivankudzin/anonmod/internal/domain/enums"
	"github.com/ivankudzin/anonmod/internal/domain/model"
	pgrepo "github.com/ivankudzin/anonmod/internal/repo/postgres"
	redrepo "github.com/ivankudzin/anonmod/internal/repo/redis"
	"github.com/ivankudzin/anonmod/internal/services/punishment"
	"github.com/ivankudzin/anonmod/internal/services/ratelimit"
)

type memoryStore struct {
	mu        sync.Mutex
	nextID    int64
	items     map[int64]model.ModerationItem
	users     map[int64]struct{}
	reviewed  map[int64]int
	audits    []model.AuditEntry
	gets      int
	createErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		items:    make(map[int64]model.ModerationItem),
		users:    make(map[int64]struct{}),
		reviewed: make(map[int64]int),
	}
}

func (s *memoryStore) Create(_ context.Context, item model.ModerationItem, _ string, audit model.AuditEntry) (model.ModerationItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.createErr != nil {
		return model.ModerationItem{}, false, s.createErr
	}

	_, seen := s.users[item.SubmitterID]
	s.users[item.SubmitterID] = struct{}{}

	s.nextID++
	item.ID = s.nextID
	s.items[item.ID] = item
	s.audits = append(s.audits, audit)
	return item, !seen, nil
}

func (s *memoryStore) Get(_ context.Context, id int64) (model.ModerationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gets++
	item, ok := s.items[id]
	if !ok {
		return model.ModerationItem{}, pgrepo.ErrItemNotFound
	}
	return item, nil
}

func (s *memoryStore) ClaimDecision(_ context.Context, claim pgrepo.DecisionClaim, audit model.AuditEntry) (model.ModerationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[claim.ItemID]
	switch {
	case !ok:
		return model.ModerationItem{}, pgrepo.ErrItemNotFound
	case item.Status == enums.ItemStatusDecided:
		return model.ModerationItem{}, pgrepo.ErrItemAlreadyDecided
	case item.Status == enums.ItemStatusArchived, !item.ExpiresAt.After(claim.DecidedAt):
		return model.ModerationItem{}, pgrepo.ErrItemExpired
	}

	approved := claim.Approved
	moderatorID := claim.ModeratorID
	decidedAt := claim.DecidedAt
	item.Status = enums.ItemStatusDecided
	item.Approved = &approved
	item.ModeratorID = &moderatorID
	item.DecidedAt = &decidedAt
	s.items[item.ID] = item

	s.reviewed[claim.ModeratorID]++
	s.audits = append(s.audits, audit)
	return item, nil
}

func (s *memoryStore) ArchiveExpired(_ context.Context, now time.Time, limit int, audit func(model.ModerationItem) model.AuditEntry) ([]model.ModerationItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, 0, len(s.items))
	for id := range s.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var archived []model.ModerationItem
	for _, id := range ids {
		item := s.items[id]
		if item.Status != enums.ItemStatusPending || item.ExpiresAt.After(now) {
			continue
		}
		if len(archived) == limit {
			break
		}
		item.Status = enums.ItemStatusArchived
		s.items[id] = item
		archived = append(archived, item)
		s.audits = append(s.audits, audit(item))
	}
	return archived, nil
}

func (s *memoryStore) CountPending(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, item := range s.items {
		if item.Status == enums.ItemStatusPending && item.ExpiresAt.After(now) {
			count++
		}
	}
	return count, nil
}

func (s *memoryStore) totalReviewed() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.reviewed {
		total += n
	}
	return total
}

func (s *memoryStore) countAudits(actions ...enums.AuditAction) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range s.audits {
		for _, action := range actions {
			if entry.Action == action {
				count++
			}
		}
	}
	return count
}

type staticAccess struct {
	levels map[int64]enums.Level

	mu      sync.Mutex
	created []int64
}

func (a *staticAccess) Require(_ context.Context, userID int64, required enums.Level) (enums.Level, error) {
	level := a.levels[userID]
	if !level.AtLeast(required) {
		return level, apperr.ErrForbidden
	}
	return level, nil
}

func (a *staticAccess) ModeratorIDs(context.Context) ([]int64, error) {
	ids := make([]int64, 0, len(a.levels))
	for id, level := range a.levels {
		if level.AtLeast(enums.LevelModerator) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (a *staticAccess) UserCreated(_ context.Context, user model.User) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.created = append(a.created, user.ID)
}

type fakeSanctions struct {
	mu      sync.Mutex
	active  map[int64]enums.PunishmentKind
	imposed []punishment.ImposeInput
}

func (f *fakeSanctions) IsActive(_ context.Context, subjectID int64, kind enums.PunishmentKind) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active, ok := f.active[subjectID]
	return ok && active == kind, nil
}

func (f *fakeSanctions) Impose(_ context.Context, in punishment.ImposeInput) (punishment.ImposeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imposed = append(f.imposed, in)
	return punishment.ImposeResult{Punishment: model.Punishment{
		ID:          int64(len(f.imposed)),
		SubjectID:   in.SubjectID,
		Kind:        in.Kind,
		Reason:      in.Reason,
		ModeratorID: in.ModeratorID,
	}}, nil
}

type recordingTransport struct {
	mu        sync.Mutex
	delivered map[int64][]int64
	published []model.Content
	notified  []model.Outcome
}

func (t *recordingTransport) DeliverToModerators(_ context.Context, item model.ModerationItem, moderatorIDs []int64) []model.DeliveryAttempt {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.delivered == nil {
		t.delivered = make(map[int64][]int64)
	}
	t.delivered[item.ID] = append([]int64(nil), moderatorIDs...)

	attempts := make([]model.DeliveryAttempt, 0, len(moderatorIDs))
	for _, id := range moderatorIDs {
		attempts = append(attempts, model.DeliveryAttempt{ModeratorID: id})
	}
	return attempts
}

func (t *recordingTransport) NotifySubmitter(_ context.Context, _ int64, outcome model.Outcome) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notified = append(t.notified, outcome)
	return nil
}

func (t *recordingTransport) Publish(_ context.Context, content model.Content) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = append(t.published, content)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []enums.WebhookEvent
}

func (s *recordingSink) Dispatch(_ context.Context, event enums.WebhookEvent, _ any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc       *Service
	store     *memoryStore
	items     *cache.Tiered[model.ModerationItem]
	access    *staticAccess
	sanctions *fakeSanctions
	transport *recordingTransport
	events    *recordingSink
	clock     *testClock
	mr        *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &testClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
	f := &fixture{
		store: newMemoryStore(),
		access: &staticAccess{levels: map[int64]enums.Level{
			2:  enums.LevelModerator,
			3:  enums.LevelModerator,
			4:  enums.LevelSeniorModerator,
			99: enums.LevelOwner,
		}},
		sanctions: &fakeSanctions{active: make(map[int64]enums.PunishmentKind)},
		transport: &recordingTransport{},
		events:    &recordingSink{},
		clock:     clock,
		mr:        mr,
	}
	f.items = cache.NewTiered[model.ModerationItem](
		cache.Config{Name: "items"},
		redrepo.NewCacheRepo(client, "test:"),
		ItemCacheTTL(clock.Now, time.Hour),
		nil,
	)

	f.svc = NewService(Dependencies{
		Store: f.store,
		Items: f.items,
		Marks: redrepo.NewClaimRepo(client, "test:"),
		Limiter: ratelimit.NewLimiter(redrepo.NewRateRepo(client), ratelimit.Config{
			MaxSubmissions: 5,
			Period:         time.Hour,
			KeyPrefix:      "test:",
		}),
		Access:    f.access,
		Sanctions: f.sanctions,
		Transport: f.transport,
		Events:    f.events,
	}, Config{
		ItemTTL:       24 * time.Hour,
		MaxTextLength: 4096,
		SweepBatch:    2,
	})
	f.svc.now = clock.Now
	return f
}

func (f *fixture) submit(t *testing.T, submitterID int64, content model.Content) int64 {
	t.Helper()
	id, err := f.svc.Submit(context.Background(), SubmitInput{
		SubmitterID:    submitterID,
		SubmitterLevel: f.access.levels[submitterID],
		Content:        content,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func TestSubmitThenGetReturnsPendingItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	content := model.PhotoContent{FileRef: "tg:AgAC-1", Caption: "look"}
	id := f.submit(t, 2, content)

	item, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if item.Status != enums.ItemStatusPending {
		t.Fatalf("unexpected status %s", item.Status)
	}
	if got, ok := item.Content.(model.PhotoContent); !ok || got != content {
		t.Fatalf("content changed: %#v", item.Content)
	}

	f.items.Evict(itemKey(id))
	fromRedis, err := f.svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("get from redis: %v", err)
	}
	if got, ok := fromRedis.Content.(model.PhotoContent); !ok || got != content {
		t.Fatalf("content changed through redis: %#v", fromRedis.Content)
	}
	if f.store.gets != 0 {
		t.Fatalf("expected cache hits only, store was read %d times", f.store.gets)
	}

	recipients := f.transport.delivered[id]
	if len(recipients) != 3 || recipients[0] != 3 {
		t.Fatalf("submitter must be excluded from delivery, got %v", recipients)
	}
	if len(f.access.created) != 1 || f.access.created[0] != 2 {
		t.Fatalf("expected user created event for submitter, got %v", f.access.created)
	}
	if len(f.events.events) != 1 || f.events.events[0] != enums.WebhookMessageReceived {
		t.Fatalf("unexpected webhook events %v", f.events.events)
	}
	if f.store.countAudits(enums.AuditActionMessageSubmitted) != 1 {
		t.Fatalf("expected one submission audit entry")
	}
}

func TestSixthSubmissionIsRateLimited(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 5; i++ {
		f.submit(t, 50, model.TextContent{Text: "hello"})
	}

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		SubmitterID: 50,
		Content:     model.TextContent{Text: "one more"},
	})
	if !errors.Is(err, apperr.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	if wait, ok := apperr.RetryAfter(err); !ok || wait <= 0 {
		t.Fatalf("expected positive retry after, got %v", wait)
	}
	if len(f.store.items) != 5 {
		t.Fatalf("refused submission must not create an item, have %d", len(f.store.items))
	}
}

func TestSubmitRefusedWhileBanned(t *testing.T) {
	f := newFixture(t)
	f.sanctions.active[50] = enums.PunishmentKindBan

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		SubmitterID: 50,
		Content:     model.TextContent{Text: "hello"},
	})
	if !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if len(f.store.items) != 0 {
		t.Fatalf("banned submitter created an item")
	}
}

func TestSubmitRejectsUnknownContent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		SubmitterID: 50,
		Content:     model.TextContent{Text: "   "},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestSubmitStoreFailureReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.store.createErr = errors.New("connection refused")

	_, err := f.svc.Submit(context.Background(), SubmitInput{
		SubmitterID: 50,
		Content:     model.TextContent{Text: "hello"},
	})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Fatalf("expected store unavailable, got %v", err)
	}
	if f.mr.Exists("test:cache:item:1") {
		t.Fatalf("failed submission was cached")
	}

	f.store.createErr = nil
	for i := 0; i < 5; i++ {
		f.submit(t, 50, model.TextContent{Text: "hello"})
	}
}

func TestConcurrentDecideHasSingleWinner(t *testing.T) {
	f := newFixture(t)
	for id := int64(100); id < 110; id++ {
		f.access.levels[id] = enums.LevelModerator
	}
	itemID := f.submit(t, 50, model.TextContent{Text: "hello"})

	var (
		wg       sync.WaitGroup
		start    = make(chan struct{})
		mu       sync.Mutex
		wins     int
		conflict int
	)
	for id := int64(100); id < 110; id++ {
		wg.Add(1)
		go func(moderatorID int64) {
			defer wg.Done()
			<-start
			_, err := f.svc.Decide(context.Background(), DecideInput{
				ItemID:      itemID,
				ModeratorID: moderatorID,
				Approve:     moderatorID%2 == 0,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrAlreadyDecided):
				conflict++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	if wins != 1 || conflict != 9 {
		t.Fatalf("expected 1 winner and 9 conflicts, got %d and %d", wins, conflict)
	}
	if got := f.store.totalReviewed(); got != 1 {
		t.Fatalf("expected one reviewed decision, got %d", got)
	}
	if got := f.store.countAudits(enums.AuditActionMessageApproved, enums.AuditActionMessageRejected); got != 1 {
		t.Fatalf("expected one decision audit entry, got %d", got)
	}
	if len(f.transport.notified) != 1 {
		t.Fatalf("expected one submitter notification, got %d", len(f.transport.notified))
	}
}

func TestTwoModeratorsRaceApproveAndReject(t *testing.T) {
	f := newFixture(t)
	itemID := f.submit(t, 50, model.TextContent{Text: "hello"})

	type result struct {
		moderatorID int64
		outcome     model.Outcome
		err         error
	}
	results := make(chan result, 2)
	start := make(chan struct{})
	for _, in := range []DecideInput{
		{ItemID: itemID, ModeratorID: 2, Approve: true},
		{ItemID: itemID, ModeratorID: 3, Approve: false},
	} {
		go func(in DecideInput) {
			<-start
			outcome, err := f.svc.Decide(context.Background(), in)
			results <- result{moderatorID: in.ModeratorID, outcome: outcome, err: err}
		}(in)
	}
	close(start)

	var winner, loser result
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err == nil {
			winner = r
		} else {
			loser = r
		}
	}

	if winner.moderatorID == 0 || !errors.Is(loser.err, apperr.ErrAlreadyDecided) {
		t.Fatalf("expected one winner and one conflict, got winner=%+v loser=%+v", winner, loser)
	}
	if f.store.reviewed[winner.moderatorID] != 1 || f.store.reviewed[loser.moderatorID] != 0 {
		t.Fatalf("unexpected reviewed counters: %v", f.store.reviewed)
	}

	wantKind := model.OutcomeRejected
	if winner.moderatorID == 2 {
		wantKind = model.OutcomePublished
	}
	if winner.outcome.Kind != wantKind {
		t.Fatalf("unexpected outcome %s for moderator %d", winner.outcome.Kind, winner.moderatorID)
	}
}

func TestDecideRetryDoesNotDoubleCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	itemID := f.submit(t, 50, model.TextContent{Text: "hello"})

	outcome, err := f.svc.Decide(ctx, DecideInput{ItemID: itemID, ModeratorID: 2, Approve: true})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if outcome.Kind != model.OutcomePublished || len(f.transport.published) != 1 {
		t.Fatalf("approved item was not published: %+v", outcome)
	}

	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: itemID, ModeratorID: 2, Approve: true}); !errors.Is(err, apperr.ErrAlreadyDecided) {
		t.Fatalf("expected already decided from mark, got %v", err)
	}

	f.mr.FlushAll()
	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: itemID, ModeratorID: 3, Approve: false}); !errors.Is(err, apperr.ErrAlreadyDecided) {
		t.Fatalf("expected already decided from store, got %v", err)
	}

	if got := f.store.totalReviewed(); got != 1 {
		t.Fatalf("expected one reviewed decision, got %d", got)
	}
	if len(f.transport.published) != 1 {
		t.Fatalf("retry published again")
	}
}

func TestDecideCapabilityChecks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	itemID := f.submit(t, 50, model.TextContent{Text: "hello"})
	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: itemID, ModeratorID: 51, Approve: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("guest decided an item: %v", err)
	}

	own := f.submit(t, 3, model.TextContent{Text: "mine"})
	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: own, ModeratorID: 3, Approve: true}); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("moderator decided own item: %v", err)
	}

	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: 404, ModeratorID: 2, Approve: true}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if f.store.totalReviewed() != 0 {
		t.Fatalf("refused decisions touched stats")
	}
}

func TestDecideRejectionWithSanction(t *testing.T) {
	f := newFixture(t)
	itemID := f.submit(t, 50, model.TextContent{Text: "buy now"})

	outcome, err := f.svc.Decide(context.Background(), DecideInput{
		ItemID:      itemID,
		ModeratorID: 4,
		ReasonCode:  "spam",
		Sanction:    &SanctionRequest{Kind: enums.PunishmentKindWarning, Reason: "spam"},
	})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if outcome.Kind != model.OutcomeRejected || outcome.Reason != rejectReasonTemplates["SPAM"].ReasonText {
		t.Fatalf("unexpected outcome %+v", outcome)
	}
	if outcome.Sanction == nil || outcome.Sanction.SubjectID != 50 || outcome.Sanction.Kind != enums.PunishmentKindWarning {
		t.Fatalf("sanction missing from outcome: %+v", outcome.Sanction)
	}
	if len(f.sanctions.imposed) != 1 || f.sanctions.imposed[0].ModeratorID != 4 {
		t.Fatalf("unexpected impose calls %+v", f.sanctions.imposed)
	}
	if len(f.transport.published) != 0 {
		t.Fatalf("rejected content was published")
	}
	if len(f.transport.notified) != 1 || f.transport.notified[0].Kind != model.OutcomeRejected {
		t.Fatalf("submitter not told about rejection: %+v", f.transport.notified)
	}

	_, err = f.svc.Decide(context.Background(), DecideInput{
		ItemID:      itemID,
		ModeratorID: 4,
		Approve:     true,
		Sanction:    &SanctionRequest{Kind: enums.PunishmentKindMute},
	})
	if !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("sanction on approval must be invalid, got %v", err)
	}
}

func TestExpiredItemIsArchivedBySweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submit(t, 50, model.TextContent{Text: "one"})
	f.submit(t, 51, model.TextContent{Text: "two"})
	f.submit(t, 52, model.TextContent{Text: "three"})

	f.clock.Advance(24*time.Hour + time.Minute)

	reaped, err := f.svc.ExpireSweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if reaped != 3 {
		t.Fatalf("expected 3 reaped items across batches, got %d", reaped)
	}

	if _, err := f.svc.Get(ctx, first); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found after expiry, got %v", err)
	}
	if _, err := f.svc.Decide(ctx, DecideInput{ItemID: first, ModeratorID: 2, Approve: true}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found on decide after expiry, got %v", err)
	}
	if got := f.store.countAudits(enums.AuditActionMessageExpired); got != 3 {
		t.Fatalf("expected 3 expiry audit entries, got %d", got)
	}
	if len(f.transport.notified) != 3 || f.transport.notified[0].Kind != model.OutcomeExpired {
		t.Fatalf("submitters not told about expiry: %+v", f.transport.notified)
	}

	again, err := f.svc.ExpireSweep(ctx)
	if err != nil || again != 0 {
		t.Fatalf("second sweep reaped %d items, err %v", again, err)
	}
}

func TestGetIgnoresStaleCacheEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.submit(t, 50, model.TextContent{Text: "hello"})
	f.clock.Advance(25 * time.Hour)

	if _, err := f.svc.Get(ctx, id); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("stale cached item returned: %v", err)
	}
	if f.mr.Exists("test:cache:" + itemKey(id)) {
		t.Fatalf("stale remote entry was not evicted")
	}

	count, err := f.svc.PendingCount(ctx)
	if err != nil || count != 0 {
		t.Fatalf("expected no pending items, got %d err %v", count, err)
	}
}
