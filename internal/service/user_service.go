package service

import (
	"context"
	"fmt"

	"github.com/loveaihub/loveaihub/internal/auth"
	"github.com/loveaihub/loveaihub/internal/config"
	"github.com/loveaihub/loveaihub/internal/models"
	"github.com/loveaihub/loveaihub/internal/repository"
)

type UserService struct {
	cfg   config.Config
	users *repository.UserRepository
}

func NewUserService(cfg config.Config, users *repository.UserRepository) *UserService {
	return &UserService{cfg: cfg, users: users}
}

// EnsureFromIdentity resolves a verified identity to its account row,
// creating it with free-tier defaults on first sight.
func (s *UserService) EnsureFromIdentity(ctx context.Context, identity *auth.Identity) (*models.User, error) {
	user, _, err := s.users.Ensure(ctx, identity.ID, identity.Email, identity.IsAdmin, s.cfg.FreeGenerationsLimit)
	if err != nil {
		return nil, fmt.Errorf("ensure user: %w", err)
	}
	return user, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, models.ErrNotFound
	}
	return user, nil
}

func (s *UserService) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.users.List(ctx, limit, offset)
}

// SetSubscription switches a user's tier. Premium accounts get the unlimited
// sentinel; downgrading back to free restores the configured free limit.
func (s *UserService) SetSubscription(ctx context.Context, userID string, subscription models.SubscriptionType) error {
	switch subscription {
	case models.SubscriptionPremium:
		return s.users.SetSubscription(ctx, userID, subscription, models.UnlimitedGenerations)
	case models.SubscriptionFree:
		return s.users.SetSubscription(ctx, userID, subscription, s.cfg.FreeGenerationsLimit)
	default:
		return fmt.Errorf("%w: unknown subscription type %q", models.ErrValidation, subscription)
	}
}

func (s *UserService) ResetUsage(ctx context.Context, userID string) error {
	return s.users.ResetUsage(ctx, userID)
}
