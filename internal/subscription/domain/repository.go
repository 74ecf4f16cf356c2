package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// ListActive returns subscriptions currently billed at their plan price.
	ListActive(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]Subscription, error)
}
