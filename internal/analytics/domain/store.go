package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

type MemberStatus string

const (
	MemberStatusActive MemberStatus = "ACTIVE"
)

// MemberFilter narrows a member listing. CreatedTo is exclusive and zero
// bounds are open.
type MemberFilter struct {
	CreatedFrom time.Time
	CreatedTo   time.Time
	Status      MemberStatus
}

type MemberRecord struct {
	UserID    snowflake.ID
	Email     string
	Status    MemberStatus
	CreatedAt time.Time
}

// EventFilter selects usage in [From, To). A nil UserIDs means every user.
type EventFilter struct {
	UserIDs []snowflake.ID
	From    time.Time
	To      time.Time
}

type SubscriptionRecord struct {
	MemberID snowflake.ID
	Plan     string
}

// Store is the read-only query surface the calculators depend on. Every call
// is scoped to one organization. Connection-level failures are reported as
// ErrStoreUnavailable.
type Store interface {
	ListMembers(ctx context.Context, orgID snowflake.ID, filter MemberFilter) ([]MemberRecord, error)
	CountActiveUsers(ctx context.Context, orgID snowflake.ID, filter EventFilter) (int, error)
	ListActiveUserIDs(ctx context.Context, orgID snowflake.ID, filter EventFilter) ([]snowflake.ID, error)
	LastActivity(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error)
	ListActiveSubscriptions(ctx context.Context, orgID snowflake.ID) ([]SubscriptionRecord, error)
}
