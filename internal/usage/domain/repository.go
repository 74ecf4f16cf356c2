package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// EventFilter selects events occurring in [From, To). A nil UserIDs means every
// user of the organization; a non-nil empty slice matches nobody.
type EventFilter struct {
	UserIDs []snowflake.ID
	From    time.Time
	To      time.Time
}

type Repository interface {
	CountDistinctUsers(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter EventFilter) (int64, error)
	ListDistinctUserIDs(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter EventFilter) ([]snowflake.ID, error)
	LastActivity(ctx context.Context, db *gorm.DB, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error)
}
