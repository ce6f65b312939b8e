package gamification

import "time"

// XP awards per activity. Levels are 100 XP wide.
const (
	XPOrderCompleted = 50
	xpPerLevel       = 100
)

// LevelFor derives the level from a total XP count.
func LevelFor(xp int64) int {
	return int(xp/xpPerLevel) + 1
}

// Award is one immutable XP grant.
type Award struct {
	ID        string
	UserID    string
	Points    int
	Reason    string
	OrderID   *string
	CreatedAt time.Time
}

// Stats summarises a user's gamification standing.
type Stats struct {
	UserID string
	XP     int64
	Level  int
}

// Entry is one leaderboard row.
type Entry struct {
	Rank        int
	UserID      string
	DisplayName string
	XP          int64
	Level       int
}

// Badge is one achievement a user has earned.
type Badge struct {
	ID          string
	UserID      string
	Slug        string
	Name        string
	Description string
	Icon        string
	Category    string
	Rarity      string
	EarnedAt    time.Time
}

// BadgeSpec describes a grantable badge.
type BadgeSpec struct {
	Slug        string
	Name        string
	Description string
	Icon        string
	Category    string
	Rarity      string
}

type completionMilestone struct {
	Threshold int
	Badge     BadgeSpec
}

// completionMilestones unlock as a user's completed-order count grows.
var completionMilestones = []completionMilestone{
	{1, BadgeSpec{
		Slug:        "first_order",
		Name:        "First Order",
		Description: "Completed your first order",
		Icon:        "🎉",
		Category:    "milestone",
		Rarity:      "common",
	}},
	{5, BadgeSpec{
		Slug:        "regular",
		Name:        "Regular",
		Description: "Completed 5 orders",
		Icon:        "⭐",
		Category:    "milestone",
		Rarity:      "uncommon",
	}},
	{10, BadgeSpec{
		Slug:        "trusted_neighbor",
		Name:        "Trusted Neighbor",
		Description: "Completed 10 orders",
		Icon:        "🤝",
		Category:    "milestone",
		Rarity:      "rare",
	}},
	{25, BadgeSpec{
		Slug:        "community_pillar",
		Name:        "Community Pillar",
		Description: "Completed 25 orders",
		Icon:        "🏆",
		Category:    "milestone",
		Rarity:      "legendary",
	}},
}
