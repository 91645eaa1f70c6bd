package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/loveaihub/loveaihub/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	const query = `
SELECT id, email, is_admin, subscription_type, generations_used, generations_limit, created_at, updated_at
FROM users WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	return scanUser(row)
}

func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	const query = `
INSERT INTO users (id, email, is_admin, subscription_type, generations_used, generations_limit)
VALUES (?, ?, ?, ?, ?, ?)`
	admin := 0
	if user.IsAdmin {
		admin = 1
	}
	if _, err := r.db.ExecContext(ctx, query, user.ID, user.Email, admin, user.SubscriptionType, user.GenerationsUsed, user.GenerationsLimit); err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// Ensure returns the account for an authenticated identity, creating the row
// with free-tier defaults on the first request after signup.
func (r *UserRepository) Ensure(ctx context.Context, id, email string, isAdmin bool, freeLimit int) (*models.User, bool, error) {
	user, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if user != nil {
		return user, false, nil
	}
	newUser := &models.User{
		ID:               id,
		Email:            email,
		IsAdmin:          isAdmin,
		SubscriptionType: models.SubscriptionFree,
		GenerationsLimit: freeLimit,
	}
	if err := r.Create(ctx, newUser); err != nil {
		return nil, false, err
	}
	created, err := r.FindByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return created, true, nil
}

// ReserveGeneration atomically consumes one generation from the user's quota.
// The conditional update closes the check-then-act race: two concurrent
// requests near the limit cannot both pass. A negative generations_limit
// means unlimited; the usage counter still advances for those accounts.
// Returns false when the limit is already reached.
func (r *UserRepository) ReserveGeneration(ctx context.Context, userID string) (bool, error) {
	const query = `
UPDATE users SET generations_used = generations_used + 1, updated_at = NOW()
WHERE id = ? AND (generations_limit < 0 OR generations_used < generations_limit)`
	res, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return false, fmt.Errorf("reserve generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reserve rows affected: %w", err)
	}
	return affected > 0, nil
}

// ReleaseGeneration returns a reservation when the provider call fails, so
// failed attempts never consume quota.
func (r *UserRepository) ReleaseGeneration(ctx context.Context, userID string) error {
	const query = `
UPDATE users SET generations_used = GREATEST(generations_used - 1, 0), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("release generation: %w", err)
	}
	return nil
}

func (r *UserRepository) SetSubscription(ctx context.Context, userID string, subscription models.SubscriptionType, limit int) error {
	const query = `
UPDATE users SET subscription_type = ?, generations_limit = ?, updated_at = NOW()
WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, subscription, limit, userID)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("subscription rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (r *UserRepository) ResetUsage(ctx context.Context, userID string) error {
	const query = `UPDATE users SET generations_used = 0, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("reset usage: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, limit, offset int) ([]models.User, error) {
	const query = `
SELECT id, email, is_admin, subscription_type, generations_used, generations_limit, created_at, updated_at
FROM users ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var u models.User
		var admin int
		if err := rows.Scan(&u.ID, &u.Email, &admin, &u.SubscriptionType, &u.GenerationsUsed, &u.GenerationsLimit, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		u.IsAdmin = admin != 0
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var admin int
	if err := row.Scan(&u.ID, &u.Email, &admin, &u.SubscriptionType, &u.GenerationsUsed, &u.GenerationsLimit, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.IsAdmin = admin != 0
	return &u, nil
}
