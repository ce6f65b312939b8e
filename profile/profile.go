package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"borrowpal/gamification"
)

// Profile captures the subset of member data exposed to other members:
// display fields plus the gamification standing rendered next to them.
type Profile struct {
	ID          string
	DisplayName string
	AvatarURL   *string
	Bio         *string
	XP          int64
	Level       int
	CreatedAt   time.Time
}

// ErrNotFound signals the requested member does not exist.
var ErrNotFound = errors.New("profile: not found")

// Repository provides read access to public member profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileSQL = `
SELECT u.id::text, u.full_name, u.avatar_url, u.bio, u.created_at,
       COALESCE(SUM(x.points), 0) AS xp
FROM users u
LEFT JOIN xp_awards x ON x.user_id = u.id
`

// GetByID fetches a public profile by member id.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, profileSQL+`
WHERE u.id = $1
GROUP BY u.id, u.full_name, u.avatar_url, u.bio, u.created_at
`, id).Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt, &p.XP)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("profile: query by id: %w", err)
	}

	p.Level = gamification.LevelFor(p.XP)
	return p, nil
}

// List fetches up to limit profiles ordered by display name.
func (r *Repository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, profileSQL+`
GROUP BY u.id, u.full_name, u.avatar_url, u.bio, u.created_at
ORDER BY u.full_name ASC
LIMIT $1
`, limit)
	if err != nil {
		return nil, fmt.Errorf("profile: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.AvatarURL, &p.Bio, &p.CreatedAt, &p.XP); err != nil {
			return nil, fmt.Errorf("profile: scan profile: %w", err)
		}
		p.Level = gamification.LevelFor(p.XP)
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("profile: iterate profiles: %w", err)
	}

	return profiles, nil
}

// Reader abstracts repository operations for other packages.
type Reader interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, limit int) ([]Profile, error)
}

// Service exposes business-level profile operations.
type Service struct {
	repo Reader
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the public profile for the given member.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit public profiles.
func (s *Service) List(ctx context.Context, limit int) ([]Profile, error) {
	return s.repo.List(ctx, limit)
}
