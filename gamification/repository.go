package gamification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGRepository is the Postgres-backed XP store.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// AwardTx inserts an XP grant inside the caller's transaction. The partial
// unique index on (user_id, reason, order_id) makes per-order awards
// idempotent under redelivery; a conflicting insert is a no-op.
func (r *PGRepository) AwardTx(ctx context.Context, tx pgx.Tx, userID string, points int, reason, orderID string) error {
	var ref any
	if orderID != "" {
		ref = orderID
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO xp_awards (user_id, points, reason, order_id)
VALUES ($1, $2, $3, $4::uuid)
ON CONFLICT DO NOTHING
`, userID, points, reason, ref); err != nil {
		return fmt.Errorf("gamification: insert award: %w", err)
	}
	return nil
}

// AwardBadgeTx grants a badge inside the caller's transaction. The unique
// constraint on (user_id, badge_slug) makes regrants under redelivery no-ops.
func (r *PGRepository) AwardBadgeTx(ctx context.Context, tx pgx.Tx, userID string, spec BadgeSpec) error {
	if _, err := tx.Exec(ctx, `
INSERT INTO user_badges (user_id, badge_slug, badge_name, badge_description, badge_icon, badge_category, rarity)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id, badge_slug) DO NOTHING
`, userID, spec.Slug, spec.Name, spec.Description, spec.Icon, spec.Category, spec.Rarity); err != nil {
		return fmt.Errorf("gamification: insert badge: %w", err)
	}
	return nil
}

// CompletedOrdersTx counts a user's completion grants inside the caller's
// transaction so the count sees the grant written moments earlier.
func (r *PGRepository) CompletedOrdersTx(ctx context.Context, tx pgx.Tx, userID string) (int, error) {
	var n int
	if err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM xp_awards WHERE user_id = $1 AND reason = 'order_completed'`,
		userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("gamification: count completions: %w", err)
	}
	return n, nil
}

// BadgesForUser lists a user's badges, newest first.
func (r *PGRepository) BadgesForUser(ctx context.Context, userID string) ([]Badge, error) {
	rows, err := r.pool.Query(ctx, `
SELECT id::text, user_id::text, badge_slug, badge_name, badge_description, badge_icon, badge_category, rarity, earned_at
FROM user_badges
WHERE user_id = $1
ORDER BY earned_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("gamification: list badges: %w", err)
	}
	defer rows.Close()

	var badges []Badge
	for rows.Next() {
		var b Badge
		if err := rows.Scan(&b.ID, &b.UserID, &b.Slug, &b.Name, &b.Description, &b.Icon, &b.Category, &b.Rarity, &b.EarnedAt); err != nil {
			return nil, fmt.Errorf("gamification: scan badge: %w", err)
		}
		badges = append(badges, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gamification: iterate badges: %w", err)
	}
	return badges, nil
}

// StatsForUser sums a user's XP grants.
func (r *PGRepository) StatsForUser(ctx context.Context, userID string) (Stats, error) {
	var xp int64
	if err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(points), 0) FROM xp_awards WHERE user_id = $1`, userID).Scan(&xp); err != nil {
		return Stats{}, fmt.Errorf("gamification: stats: %w", err)
	}
	return Stats{UserID: userID, XP: xp, Level: LevelFor(xp)}, nil
}

// Leaderboard returns the top XP earners with display names.
func (r *PGRepository) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	const q = `
SELECT u.id::text, u.full_name, COALESCE(SUM(x.points), 0) AS xp
FROM users u
LEFT JOIN xp_awards x ON x.user_id = u.id
GROUP BY u.id, u.full_name
ORDER BY xp DESC, u.created_at ASC
LIMIT $1
`
	rows, err := r.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("gamification: leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.XP); err != nil {
			return nil, fmt.Errorf("gamification: scan leaderboard: %w", err)
		}
		e.Rank = len(entries) + 1
		e.Level = LevelFor(e.XP)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("gamification: iterate leaderboard: %w", err)
	}
	return entries, nil
}
