package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"golang.org/x/sync/semaphore"
)

// limitedStore bounds the number of in-flight store queries of one request.
type limitedStore struct {
	next domain.Store
	sem  *semaphore.Weighted
}

func newLimitedStore(next domain.Store, concurrency int) *limitedStore {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &limitedStore{next: next, sem: semaphore.NewWeighted(int64(concurrency))}
}

func (l *limitedStore) ListMembers(ctx context.Context, orgID snowflake.ID, filter domain.MemberFilter) ([]domain.MemberRecord, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.ListMembers(ctx, orgID, filter)
}

func (l *limitedStore) CountActiveUsers(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) (int, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	defer l.sem.Release(1)
	return l.next.CountActiveUsers(ctx, orgID, filter)
}

func (l *limitedStore) ListActiveUserIDs(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) ([]snowflake.ID, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.ListActiveUserIDs(ctx, orgID, filter)
}

func (l *limitedStore) LastActivity(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.LastActivity(ctx, orgID, userIDs)
}

func (l *limitedStore) ListActiveSubscriptions(ctx context.Context, orgID snowflake.ID) ([]domain.SubscriptionRecord, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)
	return l.next.ListActiveSubscriptions(ctx, orgID)
}
