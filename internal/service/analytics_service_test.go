package service

import (
	"context"
	"testing"
	"time"

	"github.com/loveaihub/loveaihub/internal/models"
	"github.com/loveaihub/loveaihub/internal/repository"
)

type fakeAnalyticsStore struct {
	byKind    map[models.GenerationKind]int
	daily     []repository.DayCount
	topModels []repository.ModelCount

	gotDays  int
	gotLimit int
}

func (f *fakeAnalyticsStore) CountByKind(ctx context.Context, userID string) (map[models.GenerationKind]int, error) {
	return f.byKind, nil
}

func (f *fakeAnalyticsStore) CountByDay(ctx context.Context, userID string, days int) ([]repository.DayCount, error) {
	f.gotDays = days
	return f.daily, nil
}

func (f *fakeAnalyticsStore) TopModels(ctx context.Context, userID string, days, limit int) ([]repository.ModelCount, error) {
	f.gotLimit = limit
	return f.topModels, nil
}

func TestUsageStats(t *testing.T) {
	store := &fakeAnalyticsStore{
		byKind: map[models.GenerationKind]int{
			models.KindImage: 7,
			models.KindChat:  3,
		},
	}
	svc := NewAnalyticsService(store)

	user := &models.User{
		ID:               "user-1",
		SubscriptionType: models.SubscriptionFree,
		GenerationsUsed:  10,
		GenerationsLimit: 50,
	}
	stats, err := svc.UsageStats(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Total != 10 {
		t.Errorf("expected total 10, got %d", stats.Total)
	}
	if stats.Remaining != 40 {
		t.Errorf("expected remaining 40, got %d", stats.Remaining)
	}
	if stats.Unlimited {
		t.Error("free user must not be unlimited")
	}
	if stats.ByKind[models.KindImage] != 7 {
		t.Errorf("expected 7 images, got %d", stats.ByKind[models.KindImage])
	}
}

func TestUsageStatsPremium(t *testing.T) {
	store := &fakeAnalyticsStore{byKind: map[models.GenerationKind]int{}}
	svc := NewAnalyticsService(store)

	user := &models.User{
		ID:               "user-1",
		SubscriptionType: models.SubscriptionPremium,
		GenerationsUsed:  999,
		GenerationsLimit: models.UnlimitedGenerations,
	}
	stats, err := svc.UsageStats(context.Background(), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !stats.Unlimited {
		t.Error("premium user must be unlimited")
	}
}

func TestOverview(t *testing.T) {
	store := &fakeAnalyticsStore{
		byKind: map[models.GenerationKind]int{models.KindImage: 5},
		daily: []repository.DayCount{
			{Day: "2026-08-29", Count: 2},
			{Day: "2026-08-30", Count: 3},
		},
		topModels: []repository.ModelCount{{Model: "flux-pro", Count: 5}},
	}
	svc := NewAnalyticsService(store)

	overview, err := svc.Overview(context.Background(), "user-1", 14)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if overview.Days != 14 {
		t.Errorf("expected 14 days, got %d", overview.Days)
	}
	if overview.Total != 5 {
		t.Errorf("expected total 5 from daily counts, got %d", overview.Total)
	}
	if store.gotLimit != 5 {
		t.Errorf("expected top model limit 5, got %d", store.gotLimit)
	}
}

func TestOverviewClampsDays(t *testing.T) {
	store := &fakeAnalyticsStore{byKind: map[models.GenerationKind]int{}}
	svc := NewAnalyticsService(store)

	if _, err := svc.Overview(context.Background(), "user-1", 0); err != nil {
		t.Fatal(err)
	}
	if store.gotDays != 7 {
		t.Errorf("expected default 7 days, got %d", store.gotDays)
	}

	if _, err := svc.Overview(context.Background(), "user-1", 500); err != nil {
		t.Fatal(err)
	}
	if store.gotDays != 90 {
		t.Errorf("expected clamp at 90 days, got %d", store.gotDays)
	}
}

func TestGroupByDay(t *testing.T) {
	day := func(s string) time.Time {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			t.Fatal(err)
		}
		return ts
	}
	gens := []models.Generation{
		{ID: "a", CreatedAt: day("2026-08-30T10:00:00Z")},
		{ID: "b", CreatedAt: day("2026-08-30T23:59:59Z")},
		{ID: "c", CreatedAt: day("2026-08-31T00:00:01Z")},
		// 23:30 -03:00 is already the next day in UTC
		{ID: "d", CreatedAt: day("2026-08-30T23:30:00-03:00")},
	}

	groups := GroupByDay(gens)
	if len(groups["2026-08-30"]) != 2 {
		t.Errorf("expected 2 records on 2026-08-30, got %d", len(groups["2026-08-30"]))
	}
	if len(groups["2026-08-31"]) != 2 {
		t.Errorf("expected 2 records on 2026-08-31, got %d", len(groups["2026-08-31"]))
	}
}
