package service

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"github.com/loveaihub/loveaihub/internal/models"
	"github.com/loveaihub/loveaihub/internal/repository"
)

// AnalyticsStore is the read-only aggregation slice of the record store.
type AnalyticsStore interface {
	CountByKind(ctx context.Context, userID string) (map[models.GenerationKind]int, error)
	CountByDay(ctx context.Context, userID string, days int) ([]repository.DayCount, error)
	TopModels(ctx context.Context, userID string, days, limit int) ([]repository.ModelCount, error)
}

// AnalyticsService derives dashboard rollups from stored records. Pure reads,
// no mutation.
type AnalyticsService struct {
	store AnalyticsStore
}

func NewAnalyticsService(store AnalyticsStore) *AnalyticsService {
	return &AnalyticsService{store: store}
}

type UsageStats struct {
	SubscriptionType models.SubscriptionType       `json:"subscription_type"`
	GenerationsUsed  int                           `json:"generations_used"`
	GenerationsLimit int                           `json:"generations_limit"`
	Unlimited        bool                          `json:"unlimited"`
	Remaining        int                           `json:"remaining"`
	Total            int                           `json:"total"`
	ByKind           map[models.GenerationKind]int `json:"by_kind"`
}

func (s *AnalyticsService) UsageStats(ctx context.Context, user *models.User) (*UsageStats, error) {
	byKind, err := s.store.CountByKind(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("usage stats: %w", err)
	}
	total := lo.Sum(lo.Values(byKind))
	return &UsageStats{
		SubscriptionType: user.SubscriptionType,
		GenerationsUsed:  user.GenerationsUsed,
		GenerationsLimit: user.GenerationsLimit,
		Unlimited:        user.Unlimited(),
		Remaining:        user.Remaining(),
		Total:            total,
		ByKind:           byKind,
	}, nil
}

type Overview struct {
	Days      int                           `json:"days"`
	Total     int                           `json:"total"`
	ByKind    map[models.GenerationKind]int `json:"by_kind"`
	Daily     []repository.DayCount         `json:"daily"`
	TopModels []repository.ModelCount       `json:"top_models"`
}

const (
	defaultOverviewDays = 7
	maxOverviewDays     = 90
	topModelCount       = 5
)

// Overview computes the period rollups for the dashboard: daily counts,
// counts by kind and the most used models.
func (s *AnalyticsService) Overview(ctx context.Context, userID string, days int) (*Overview, error) {
	if days <= 0 {
		days = defaultOverviewDays
	}
	if days > maxOverviewDays {
		days = maxOverviewDays
	}

	daily, err := s.store.CountByDay(ctx, userID, days)
	if err != nil {
		return nil, fmt.Errorf("daily rollup: %w", err)
	}
	byKind, err := s.store.CountByKind(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("kind rollup: %w", err)
	}
	topModels, err := s.store.TopModels(ctx, userID, days, topModelCount)
	if err != nil {
		return nil, fmt.Errorf("model rollup: %w", err)
	}

	return &Overview{
		Days:      days,
		Total:     lo.SumBy(daily, func(d repository.DayCount) int { return d.Count }),
		ByKind:    byKind,
		Daily:     daily,
		TopModels: topModels,
	}, nil
}

// GroupByDay buckets records by UTC calendar date for presentation.
func GroupByDay(gens []models.Generation) map[string][]models.Generation {
	return lo.GroupBy(gens, func(g models.Generation) string {
		return g.CreatedAt.UTC().Format("2006-01-02")
	})
}
