package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loveaihub/loveaihub/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

// Filter narrows ListByUser. Zero values mean "no constraint".
type Filter struct {
	Kind   models.GenerationKind
	Status models.GenerationStatus
	Search string
	Limit  int
	Offset int
}

// DayCount is one bucket of the per-day rollup.
type DayCount struct {
	Day   string `json:"day"` // YYYY-MM-DD, UTC
	Count int    `json:"count"`
}

// ModelCount is one entry of the top-models rollup.
type ModelCount struct {
	Model string `json:"model"`
	Count int    `json:"count"`
}

func (r *GenerationRepository) Create(ctx context.Context, gen *models.Generation) error {
	const query = `
INSERT INTO generations (id, user_id, kind, model, prompt, status, metadata, idempotency_key)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?, NULLIF(?, ''))`
	if _, err := r.db.ExecContext(ctx, query, gen.ID, gen.UserID, gen.Kind, gen.Model, gen.Prompt, gen.Status, gen.Metadata, gen.IdempotencyKey); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// Complete transitions a pending record to completed with its result.
// Transitions are one-way: a finalized record is never re-opened.
func (r *GenerationRepository) Complete(ctx context.Context, id string, result models.Result) error {
	if err := result.Validate(); err != nil {
		return fmt.Errorf("%w: %v", models.ErrValidation, err)
	}
	const query = `
UPDATE generations SET status = ?, result = ?, updated_at = NOW()
WHERE id = ? AND status = ?`
	return r.transition(ctx, id, query, models.StatusCompleted, result)
}

// Fail transitions a pending record to failed, recording the error detail
// in metadata.
func (r *GenerationRepository) Fail(ctx context.Context, id string, meta models.Metadata) error {
	const query = `
UPDATE generations SET status = ?, metadata = ?, updated_at = NOW()
WHERE id = ? AND status = ?`
	return r.transition(ctx, id, query, models.StatusFailed, meta)
}

func (r *GenerationRepository) transition(ctx context.Context, id, query string, status models.GenerationStatus, payload any) error {
	res, err := r.db.ExecContext(ctx, query, status, payload, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("status rows affected: %w", err)
	}
	if affected == 0 {
		var current string
		err := r.db.QueryRowContext(ctx, `SELECT status FROM generations WHERE id = ?`, id).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check generation status: %w", err)
		}
		return fmt.Errorf("%w: status is %s", models.ErrAlreadyFinal, current)
	}
	return nil
}

func (r *GenerationRepository) FindByID(ctx context.Context, userID, id string) (*models.Generation, error) {
	query := selectGenerations + ` WHERE id = ? AND user_id = ?`
	gens, err := r.query(ctx, query, id, userID)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, nil
	}
	return &gens[0], nil
}

func (r *GenerationRepository) FindByIdempotencyKey(ctx context.Context, userID, key string) (*models.Generation, error) {
	query := selectGenerations + ` WHERE user_id = ? AND idempotency_key = ?`
	gens, err := r.query(ctx, query, userID, key)
	if err != nil {
		return nil, err
	}
	if len(gens) == 0 {
		return nil, nil
	}
	return &gens[0], nil
}

// ListByUser returns the user's generations most-recent-first. Paging via
// Filter.Limit/Offset keeps the sequence restartable.
func (r *GenerationRepository) ListByUser(ctx context.Context, userID string, f Filter) ([]models.Generation, error) {
	query := selectGenerations + ` WHERE user_id = ?`
	args := []any{userID}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, f.Kind)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Search != "" {
		query += ` AND (prompt LIKE ? OR model LIKE ?)`
		pattern := "%" + strings.TrimSpace(f.Search) + "%"
		args = append(args, pattern, pattern)
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	return r.query(ctx, query, args...)
}

func (r *GenerationRepository) Delete(ctx context.Context, userID, id string) error {
	const query = `DELETE FROM generations WHERE id = ? AND user_id = ?`
	res, err := r.db.ExecContext(ctx, query, id, userID)
	if err != nil {
		return fmt.Errorf("delete generation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete rows affected: %w", err)
	}
	if affected == 0 {
		return models.ErrNotFound
	}
	return nil
}

// MarkStaleFailed reconciles records stuck pending beyond the staleness
// threshold (e.g. after a crash mid-request), flipping them to failed.
func (r *GenerationRepository) MarkStaleFailed(ctx context.Context, olderThan time.Duration) (int64, error) {
	meta := models.Metadata{Error: &models.ErrorDetail{Message: "generation timed out"}}
	payload, err := json.Marshal(meta)
	if err != nil {
		return 0, fmt.Errorf("marshal stale metadata: %w", err)
	}
	const query = `
UPDATE generations SET status = ?, metadata = ?, updated_at = NOW()
WHERE status = ? AND created_at < ?`
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, query, models.StatusFailed, payload, models.StatusPending, cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark stale generations: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale rows affected: %w", err)
	}
	return affected, nil
}

func (r *GenerationRepository) CountByKind(ctx context.Context, userID string) (map[models.GenerationKind]int, error) {
	const query = `SELECT kind, COUNT(*) FROM generations WHERE user_id = ? GROUP BY kind`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("count by kind: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.GenerationKind]int)
	for rows.Next() {
		var kind models.GenerationKind
		var count int
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("scan kind count: %w", err)
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}

func (r *GenerationRepository) CountByDay(ctx context.Context, userID string, days int) ([]DayCount, error) {
	const query = `
SELECT DATE_FORMAT(created_at, '%Y-%m-%d') AS day, COUNT(*)
FROM generations
WHERE user_id = ? AND created_at >= ?
GROUP BY day ORDER BY day`
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("count by day: %w", err)
	}
	defer rows.Close()

	var counts []DayCount
	for rows.Next() {
		var dc DayCount
		if err := rows.Scan(&dc.Day, &dc.Count); err != nil {
			return nil, fmt.Errorf("scan day count: %w", err)
		}
		counts = append(counts, dc)
	}
	return counts, rows.Err()
}

func (r *GenerationRepository) TopModels(ctx context.Context, userID string, days, limit int) ([]ModelCount, error) {
	const query = `
SELECT model, COUNT(*) AS uses
FROM generations
WHERE user_id = ? AND created_at >= ?
GROUP BY model ORDER BY uses DESC LIMIT ?`
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, query, userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("top models: %w", err)
	}
	defer rows.Close()

	var counts []ModelCount
	for rows.Next() {
		var mc ModelCount
		if err := rows.Scan(&mc.Model, &mc.Count); err != nil {
			return nil, fmt.Errorf("scan model count: %w", err)
		}
		counts = append(counts, mc)
	}
	return counts, rows.Err()
}

const selectGenerations = `
SELECT id, user_id, kind, model, COALESCE(prompt, ''), result, status, metadata, COALESCE(idempotency_key, ''), created_at, updated_at
FROM generations`

func (r *GenerationRepository) query(ctx context.Context, query string, args ...any) ([]models.Generation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer rows.Close()

	var gens []models.Generation
	for rows.Next() {
		var g models.Generation
		var result sql.Null[models.Result]
		if err := rows.Scan(&g.ID, &g.UserID, &g.Kind, &g.Model, &g.Prompt, &result, &g.Status, &g.Metadata, &g.IdempotencyKey, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		if result.Valid {
			r := result.V
			g.Result = &r
		}
		gens = append(gens, g)
	}
	return gens, rows.Err()
}
