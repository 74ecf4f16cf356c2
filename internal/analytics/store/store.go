// Package store adapts the member, usage and subscription repositories to the
// analytics query surface.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	memberdomain "github.com/smallbiznis/agencyops/internal/member/domain"
	subscriptiondomain "github.com/smallbiznis/agencyops/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/agencyops/internal/usage/domain"
	"github.com/smallbiznis/agencyops/pkg/db"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB               *gorm.DB
	MemberRepo       memberdomain.Repository
	UsageRepo        usagedomain.Repository
	SubscriptionRepo subscriptiondomain.Repository
}

type Store struct {
	db               *gorm.DB
	memberRepo       memberdomain.Repository
	usageRepo        usagedomain.Repository
	subscriptionRepo subscriptiondomain.Repository
}

func New(p Params) domain.Store {
	return &Store{
		db:               p.DB,
		memberRepo:       p.MemberRepo,
		usageRepo:        p.UsageRepo,
		subscriptionRepo: p.SubscriptionRepo,
	}
}

func (s *Store) ListMembers(ctx context.Context, orgID snowflake.ID, filter domain.MemberFilter) ([]domain.MemberRecord, error) {
	repoFilter := memberdomain.ListMemberFilter{
		Status: memberdomain.MemberStatus(filter.Status),
	}
	if !filter.CreatedFrom.IsZero() {
		from := filter.CreatedFrom
		repoFilter.CreatedFrom = &from
	}
	if !filter.CreatedTo.IsZero() {
		to := filter.CreatedTo
		repoFilter.CreatedTo = &to
	}

	members, err := s.memberRepo.List(ctx, s.db, orgID, repoFilter)
	if err != nil {
		return nil, classify("list members", err)
	}

	records := make([]domain.MemberRecord, 0, len(members))
	for _, m := range members {
		records = append(records, domain.MemberRecord{
			UserID:    m.UserID,
			Email:     m.Email,
			Status:    domain.MemberStatus(m.Status),
			CreatedAt: m.CreatedAt.UTC(),
		})
	}
	return records, nil
}

func (s *Store) CountActiveUsers(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) (int, error) {
	count, err := s.usageRepo.CountDistinctUsers(ctx, s.db, orgID, eventFilter(filter))
	if err != nil {
		return 0, classify("count active users", err)
	}
	return int(count), nil
}

func (s *Store) ListActiveUserIDs(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) ([]snowflake.ID, error) {
	ids, err := s.usageRepo.ListDistinctUserIDs(ctx, s.db, orgID, eventFilter(filter))
	if err != nil {
		return nil, classify("list active users", err)
	}
	return ids, nil
}

func (s *Store) LastActivity(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	if len(userIDs) == 0 {
		return map[snowflake.ID]time.Time{}, nil
	}
	last, err := s.usageRepo.LastActivity(ctx, s.db, orgID, userIDs)
	if err != nil {
		return nil, classify("last activity", err)
	}
	return last, nil
}

func (s *Store) ListActiveSubscriptions(ctx context.Context, orgID snowflake.ID) ([]domain.SubscriptionRecord, error) {
	items, err := s.subscriptionRepo.ListActive(ctx, s.db, orgID)
	if err != nil {
		return nil, classify("list active subscriptions", err)
	}
	records := make([]domain.SubscriptionRecord, 0, len(items))
	for _, item := range items {
		records = append(records, domain.SubscriptionRecord{MemberID: item.MemberID, Plan: item.Plan})
	}
	return records, nil
}

func eventFilter(filter domain.EventFilter) usagedomain.EventFilter {
	return usagedomain.EventFilter{
		UserIDs: filter.UserIDs,
		From:    filter.From,
		To:      filter.To,
	}
}

// classify marks connection-level failures so callers can tell an outage from
// a failed query.
func classify(op string, err error) error {
	if db.IsUnavailable(err) {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
