package gamification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Repository defines the data access required by the service.
type Repository interface {
	AwardTx(ctx context.Context, tx pgx.Tx, userID string, points int, reason, orderID string) error
	AwardBadgeTx(ctx context.Context, tx pgx.Tx, userID string, spec BadgeSpec) error
	CompletedOrdersTx(ctx context.Context, tx pgx.Tx, userID string) (int, error)
	StatsForUser(ctx context.Context, userID string) (Stats, error)
	BadgesForUser(ctx context.Context, userID string) ([]Badge, error)
	Leaderboard(ctx context.Context, limit int) ([]Entry, error)
}

// Service grants XP and serves leaderboard queries.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// AwardOrderCompletedTx grants completion XP to both participants inside the
// dispatcher's transaction, then unlocks any milestone badges the new
// completion count has reached. Both writes are conflict-tolerant, so a
// redelivered message changes nothing.
func (s *Service) AwardOrderCompletedTx(ctx context.Context, tx pgx.Tx, orderID, requesterID, providerID string) error {
	if orderID == "" || requesterID == "" || providerID == "" {
		return fmt.Errorf("gamification: incomplete completion payload")
	}
	for _, userID := range []string{requesterID, providerID} {
		if err := s.repo.AwardTx(ctx, tx, userID, XPOrderCompleted, "order_completed", orderID); err != nil {
			return err
		}
		completed, err := s.repo.CompletedOrdersTx(ctx, tx, userID)
		if err != nil {
			return err
		}
		for _, m := range completionMilestones {
			if completed < m.Threshold {
				break
			}
			if err := s.repo.AwardBadgeTx(ctx, tx, userID, m.Badge); err != nil {
				return err
			}
		}
	}
	return nil
}

// BadgesForUser lists the badges a user has earned, newest first.
func (s *Service) BadgesForUser(ctx context.Context, userID string) ([]Badge, error) {
	return s.repo.BadgesForUser(ctx, userID)
}

func (s *Service) StatsForUser(ctx context.Context, userID string) (Stats, error) {
	return s.repo.StatsForUser(ctx, userID)
}

func (s *Service) Leaderboard(ctx context.Context, limit int) ([]Entry, error) {
	return s.repo.Leaderboard(ctx, limit)
}
