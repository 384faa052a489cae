package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/portfolio/internal/db"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func setupAnalyticsTestDB(t *testing.T) (*gorm.DB, map[string]uint) {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})

	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	ids := make(map[string]uint)
	for _, username := range []string{"alice", "bob"} {
		user := db.User{Username: username, Password: "hashed"}
		if err := gdb.Create(&user).Error; err != nil {
			t.Fatalf("failed to create user %s: %v", username, err)
		}
		ids[username] = user.ID
	}

	return gdb, ids
}

func newTestAnalytics(gdb *gorm.DB, clock *fakeClock) *AnalyticsService {
	return NewAnalyticsService(gdb, NewUserService(gdb)).
		WithClock(clock.Now).
		WithLocation(time.UTC)
}

func visitorRequest(owner, ip string, fingerprint *string) ViewRequest {
	return ViewRequest{
		OwnerUsername: owner,
		Fingerprint:   fingerprint,
		Request:       RequestContext{RemoteAddr: ip, UserAgent: "test-agent"},
	}
}

func countViews(t *testing.T, gdb *gorm.DB, where string, args ...interface{}) int64 {
	t.Helper()
	var count int64
	if err := gdb.Model(&db.PortfolioView{}).Where(where, args...).Count(&count).Error; err != nil {
		t.Fatalf("failed to count views: %v", err)
	}
	return count
}

func TestRecordViewSuppressesRepeatVisitsWithinWindow(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	first, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil))
	if err != nil {
		t.Fatalf("first view failed: %v", err)
	}
	if first == nil || first.IsOwner || first.ID == "" {
		t.Fatalf("expected persisted visitor view, got %+v", first)
	}

	for i := 0; i < 2; i++ {
		clock.Advance(2 * time.Minute)
		view, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil))
		if err != nil {
			t.Fatalf("repeat view failed: %v", err)
		}
		if view != nil {
			t.Fatalf("expected repeat view to be suppressed, got %+v", view)
		}
	}

	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 1 {
		t.Fatalf("expected 1 persisted view, got %d", got)
	}

	stats, err := svc.GetEngagementStats(ctx, "alice", RangeMonth, nil, nil)
	if err != nil {
		t.Fatalf("GetEngagementStats returned error: %v", err)
	}
	if stats.TotalViews != 1 {
		t.Fatalf("expected totalViews 1, got %d", stats.TotalViews)
	}
}

func TestRecordViewAfterWindowIsPersisted(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", strPtr("fp-1"))); err != nil {
		t.Fatalf("first view failed: %v", err)
	}

	clock.Advance(31 * time.Minute)
	view, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", strPtr("fp-1")))
	if err != nil {
		t.Fatalf("second view failed: %v", err)
	}
	if view == nil {
		t.Fatal("expected view after the window to be persisted")
	}

	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 2 {
		t.Fatalf("expected 2 persisted views, got %d", got)
	}
}

func TestRecordViewCustomWindow(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock).WithDedupWindow(time.Minute)
	ctx := context.Background()

	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil)); err != nil {
		t.Fatalf("first view failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil)); err != nil {
		t.Fatalf("second view failed: %v", err)
	}

	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 2 {
		t.Fatalf("expected 2 persisted views with a 1m window, got %d", got)
	}
}

func TestRecordViewMatchesEitherIdentityPart(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", strPtr("fp-1"))); err != nil {
		t.Fatalf("first view failed: %v", err)
	}

	clock.Advance(time.Minute)
	sameFingerprint, err := svc.RecordView(ctx, visitorRequest("alice", "9.9.9.9", strPtr("fp-1")))
	if err != nil {
		t.Fatalf("fingerprint view failed: %v", err)
	}
	if sameFingerprint != nil {
		t.Fatal("expected same fingerprint from a new IP to be suppressed")
	}

	sameIP, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", strPtr("fp-2")))
	if err != nil {
		t.Fatalf("ip view failed: %v", err)
	}
	if sameIP != nil {
		t.Fatal("expected same IP with a new fingerprint to be suppressed")
	}

	otherOwner, err := svc.RecordView(ctx, visitorRequest("bob", "1.1.1.1", strPtr("fp-1")))
	if err != nil {
		t.Fatalf("other owner view failed: %v", err)
	}
	if otherOwner == nil {
		t.Fatal("dedup must be scoped to the owner")
	}

	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 1 {
		t.Fatalf("expected 1 view for alice, got %d", got)
	}
}

func TestRecordViewWithoutIdentityFailsOpen(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		view, err := svc.RecordView(ctx, visitorRequest("alice", "", strPtr("   ")))
		if err != nil {
			t.Fatalf("view %d failed: %v", i, err)
		}
		if view == nil || view.IPAddress != nil || view.Fingerprint != nil {
			t.Fatalf("expected anonymous view to be persisted, got %+v", view)
		}
	}

	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 3 {
		t.Fatalf("expected 3 anonymous views, got %d", got)
	}
}

func TestRecordViewOwnerBranch(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		req := visitorRequest("alice", "5.5.5.5", nil)
		req.IsOwner = true
		view, err := svc.RecordView(ctx, req)
		if err != nil {
			t.Fatalf("owner view failed: %v", err)
		}
		if view == nil || !view.IsOwner {
			t.Fatalf("expected owner view to be persisted, got %+v", view)
		}
	}

	visitor, err := svc.RecordView(ctx, visitorRequest("alice", "5.5.5.5", nil))
	if err != nil {
		t.Fatalf("visitor view failed: %v", err)
	}
	if visitor == nil {
		t.Fatal("owner views must not suppress visitor views")
	}

	if got := countViews(t, gdb, "owner_user_id = ? AND is_owner = ?", ids["alice"], true); got != 2 {
		t.Fatalf("expected 2 owner views, got %d", got)
	}
}

func TestRecordViewOwnerAndVisitorStats(t *testing.T) {
	gdb, _ := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	owner := visitorRequest("alice", "7.7.7.7", nil)
	owner.IsOwner = true
	if _, err := svc.RecordView(ctx, owner); err != nil {
		t.Fatalf("owner view failed: %v", err)
	}
	if _, err := svc.RecordView(ctx, visitorRequest("alice", "8.8.8.8", nil)); err != nil {
		t.Fatalf("visitor view failed: %v", err)
	}

	stats, err := svc.GetEngagementStats(ctx, "alice", RangeMonth, nil, nil)
	if err != nil {
		t.Fatalf("GetEngagementStats returned error: %v", err)
	}
	if stats.TotalViews != 1 || stats.OwnerViews != 1 || stats.UniqueVisitors != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestRecordViewDistinctVisitors(t *testing.T) {
	gdb, _ := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	for _, ip := range []string{"2.2.2.2", "3.3.3.3"} {
		if _, err := svc.RecordView(ctx, visitorRequest("alice", ip, nil)); err != nil {
			t.Fatalf("view from %s failed: %v", ip, err)
		}
	}

	stats, err := svc.GetEngagementStats(ctx, "alice", RangeMonth, nil, nil)
	if err != nil {
		t.Fatalf("GetEngagementStats returned error: %v", err)
	}
	if stats.UniqueVisitors != 2 {
		t.Fatalf("expected 2 unique visitors, got %d", stats.UniqueVisitors)
	}
}

func TestRecordViewNormalizesInputs(t *testing.T) {
	gdb, _ := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	view, err := svc.RecordView(ctx, ViewRequest{
		OwnerUsername: "alice",
		Fingerprint:   strPtr("  fp-9  "),
		Referer:       strPtr("   "),
		Request: RequestContext{
			ForwardedFor: []string{"6.6.6.6, 10.0.0.1"},
			RemoteAddr:   "127.0.0.1",
			UserAgent:    "Mozilla/5.0 ",
			Referer:      " https://news.example/ ",
		},
	})
	if err != nil {
		t.Fatalf("RecordView returned error: %v", err)
	}

	var stored db.PortfolioView
	if err := gdb.First(&stored, "id = ?", view.ID).Error; err != nil {
		t.Fatalf("failed to load stored view: %v", err)
	}

	if stored.IPAddress == nil || *stored.IPAddress != "6.6.6.6" {
		t.Fatalf("unexpected ip: %v", stored.IPAddress)
	}
	if stored.Fingerprint == nil || *stored.Fingerprint != "fp-9" {
		t.Fatalf("unexpected fingerprint: %v", stored.Fingerprint)
	}
	if stored.Referer == nil || *stored.Referer != "https://news.example/" {
		t.Fatalf("expected header referer fallback, got %v", stored.Referer)
	}
	if stored.UserAgent == nil || *stored.UserAgent != "Mozilla/5.0 " {
		t.Fatalf("expected verbatim user agent, got %v", stored.UserAgent)
	}
	if stored.Country != nil || stored.City != nil {
		t.Fatal("geolocation fields must stay empty")
	}
	if !stored.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("expected createdAt %v, got %v", clock.Now(), stored.CreatedAt)
	}

	clock.Advance(time.Hour)
	noReferer, err := svc.RecordView(ctx, ViewRequest{OwnerUsername: "alice", Request: RequestContext{RemoteAddr: "4.4.4.4"}})
	if err != nil {
		t.Fatalf("RecordView returned error: %v", err)
	}
	if noReferer.Referer != nil || noReferer.UserAgent != nil || noReferer.Fingerprint != nil {
		t.Fatalf("expected absent optional fields, got %+v", noReferer)
	}
}

func TestRecordViewAcceptsOversizedOptionalInputs(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)
	ctx := context.Background()

	longFingerprint := strings.Repeat("f", 300)
	longReferer := "https://www.google.com/search?q=" + strings.Repeat("é", 2100)

	req := visitorRequest("alice", "7.7.7.7", &longFingerprint)
	req.Referer = &longReferer
	view, err := svc.RecordView(ctx, req)
	if err != nil {
		t.Fatalf("RecordView returned error: %v", err)
	}
	if view == nil {
		t.Fatal("expected the view to be persisted")
	}

	var stored db.PortfolioView
	if err := gdb.First(&stored, "id = ?", view.ID).Error; err != nil {
		t.Fatalf("failed to load stored view: %v", err)
	}
	if stored.Fingerprint != nil {
		t.Fatalf("expected oversized fingerprint to be dropped, got %d chars", len(*stored.Fingerprint))
	}
	if stored.Referer == nil || len([]rune(*stored.Referer)) != maxRefererLength {
		t.Fatalf("expected referer truncated to %d characters", maxRefererLength)
	}
	if !strings.HasPrefix(*stored.Referer, "https://www.google.com/search?q=") {
		t.Fatalf("unexpected referer prefix: %.40s", *stored.Referer)
	}

	// 指纹被丢弃后仍按 IP 去重
	clock.Advance(time.Minute)
	again, err := svc.RecordView(ctx, visitorRequest("alice", "7.7.7.7", nil))
	if err != nil || again != nil {
		t.Fatalf("expected repeat from same ip to be suppressed, got %+v (%v)", again, err)
	}
	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 1 {
		t.Fatalf("expected 1 persisted view, got %d", got)
	}
}

func TestRecordViewUnknownOwner(t *testing.T) {
	gdb, _ := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock)

	view, err := svc.RecordView(context.Background(), visitorRequest("nobody", "1.1.1.1", nil))
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if view != nil {
		t.Fatalf("expected no view, got %+v", view)
	}
	if got := countViews(t, gdb, "1 = 1"); got != 0 {
		t.Fatalf("expected no persisted views, got %d", got)
	}
}

type recordingLocker struct {
	mu       sync.Mutex
	keys     []string
	released int
	err      error
}

func (l *recordingLocker) Lock(_ context.Context, ownerID uint, identity Identity) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, fmt.Sprintf("%d:%s", ownerID, identity.Hash()))
	if l.err != nil {
		return nil, l.err
	}
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
	}, nil
}

func TestRecordViewUsesLockerForVisitors(t *testing.T) {
	gdb, _ := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	locker := &recordingLocker{}
	svc := newTestAnalytics(gdb, clock).WithLocker(locker)
	ctx := context.Background()

	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil)); err != nil {
		t.Fatalf("visitor view failed: %v", err)
	}
	if _, err := svc.RecordView(ctx, visitorRequest("alice", "1.1.1.1", nil)); err != nil {
		t.Fatalf("repeat view failed: %v", err)
	}
	owner := visitorRequest("alice", "1.1.1.1", nil)
	owner.IsOwner = true
	if _, err := svc.RecordView(ctx, owner); err != nil {
		t.Fatalf("owner view failed: %v", err)
	}
	if _, err := svc.RecordView(ctx, visitorRequest("alice", "", nil)); err != nil {
		t.Fatalf("anonymous view failed: %v", err)
	}

	if len(locker.keys) != 2 || locker.keys[0] != locker.keys[1] {
		t.Fatalf("expected two locks on the same key, got %v", locker.keys)
	}
	if locker.released != 2 {
		t.Fatalf("expected every lock to be released, got %d", locker.released)
	}
}

func TestRecordViewProceedsWhenLockUnavailable(t *testing.T) {
	gdb, ids := setupAnalyticsTestDB(t)
	clock := &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	svc := newTestAnalytics(gdb, clock).WithLocker(&recordingLocker{err: errors.New("redis down")})

	view, err := svc.RecordView(context.Background(), visitorRequest("alice", "1.1.1.1", nil))
	if err != nil {
		t.Fatalf("expected lock failure to be tolerated, got %v", err)
	}
	if view == nil {
		t.Fatal("expected view to be persisted without the lock")
	}
	if got := countViews(t, gdb, "owner_user_id = ?", ids["alice"]); got != 1 {
		t.Fatalf("expected 1 view, got %d", got)
	}
}
