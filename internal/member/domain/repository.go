package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// ListMemberFilter narrows a member listing. CreatedTo is exclusive.
type ListMemberFilter struct {
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	Status      MemberStatus
}

type Repository interface {
	List(ctx context.Context, db *gorm.DB, orgID snowflake.ID, filter ListMemberFilter) ([]Member, error)
}
