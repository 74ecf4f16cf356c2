package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"github.com/stretchr/testify/mock"
)

type fakeEvent struct {
	userID snowflake.ID
	at     time.Time
}

// fakeStore is an in-memory domain.Store. countErr, when set, can fail a
// CountActiveUsers call based on its filter.
type fakeStore struct {
	mu       sync.Mutex
	members  []domain.MemberRecord
	events   []fakeEvent
	subs     []domain.SubscriptionRecord
	countErr func(domain.EventFilter) error
}

func (f *fakeStore) addMember(userID int64, email string, status domain.MemberStatus, createdAt time.Time) {
	f.members = append(f.members, domain.MemberRecord{
		UserID:    snowflake.ID(userID),
		Email:     email,
		Status:    status,
		CreatedAt: createdAt,
	})
}

func (f *fakeStore) addEvent(userID int64, at time.Time) {
	f.events = append(f.events, fakeEvent{userID: snowflake.ID(userID), at: at})
}

func (f *fakeStore) ListMembers(_ context.Context, _ snowflake.ID, filter domain.MemberFilter) ([]domain.MemberRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.MemberRecord
	for _, m := range f.members {
		if !filter.CreatedFrom.IsZero() && m.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && !m.CreatedAt.Before(filter.CreatedTo) {
			continue
		}
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) activeSet(filter domain.EventFilter) map[snowflake.ID]struct{} {
	var allowed map[snowflake.ID]struct{}
	if filter.UserIDs != nil {
		allowed = make(map[snowflake.ID]struct{}, len(filter.UserIDs))
		for _, id := range filter.UserIDs {
			allowed[id] = struct{}{}
		}
	}
	active := map[snowflake.ID]struct{}{}
	for _, e := range f.events {
		if e.at.Before(filter.From) || !e.at.Before(filter.To) {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[e.userID]; !ok {
				continue
			}
		}
		active[e.userID] = struct{}{}
	}
	return active
}

func (f *fakeStore) CountActiveUsers(_ context.Context, _ snowflake.ID, filter domain.EventFilter) (int, error) {
	if f.countErr != nil {
		if err := f.countErr(filter); err != nil {
			return 0, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.activeSet(filter)), nil
}

func (f *fakeStore) ListActiveUserIDs(_ context.Context, _ snowflake.ID, filter domain.EventFilter) ([]snowflake.ID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]snowflake.ID, 0)
	for id := range f.activeSet(filter) {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *fakeStore) LastActivity(_ context.Context, _ snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wanted := make(map[snowflake.ID]struct{}, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = struct{}{}
	}
	last := map[snowflake.ID]time.Time{}
	for _, e := range f.events {
		if _, ok := wanted[e.userID]; !ok {
			continue
		}
		if prev, ok := last[e.userID]; !ok || e.at.After(prev) {
			last[e.userID] = e.at
		}
	}
	return last, nil
}

func (f *fakeStore) ListActiveSubscriptions(context.Context, snowflake.ID) ([]domain.SubscriptionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SubscriptionRecord(nil), f.subs...), nil
}

// storeMock is used where a test needs to script a failure on a single call.
type storeMock struct {
	mock.Mock
}

func (m *storeMock) ListMembers(ctx context.Context, orgID snowflake.ID, filter domain.MemberFilter) ([]domain.MemberRecord, error) {
	args := m.Called(ctx, orgID, filter)
	records, _ := args.Get(0).([]domain.MemberRecord)
	return records, args.Error(1)
}

func (m *storeMock) CountActiveUsers(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) (int, error) {
	args := m.Called(ctx, orgID, filter)
	return args.Int(0), args.Error(1)
}

func (m *storeMock) ListActiveUserIDs(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) ([]snowflake.ID, error) {
	args := m.Called(ctx, orgID, filter)
	ids, _ := args.Get(0).([]snowflake.ID)
	return ids, args.Error(1)
}

func (m *storeMock) LastActivity(ctx context.Context, orgID snowflake.ID, userIDs []snowflake.ID) (map[snowflake.ID]time.Time, error) {
	args := m.Called(ctx, orgID, userIDs)
	last, _ := args.Get(0).(map[snowflake.ID]time.Time)
	return last, args.Error(1)
}

func (m *storeMock) ListActiveSubscriptions(ctx context.Context, orgID snowflake.ID) ([]domain.SubscriptionRecord, error) {
	args := m.Called(ctx, orgID)
	subs, _ := args.Get(0).([]domain.SubscriptionRecord)
	return subs, args.Error(1)
}

// concurrencyProbe records the peak number of concurrent calls into next.
type concurrencyProbe struct {
	domain.Store
	inflight atomic.Int32
	peak     atomic.Int32
}

func (p *concurrencyProbe) CountActiveUsers(ctx context.Context, orgID snowflake.ID, filter domain.EventFilter) (int, error) {
	n := p.inflight.Add(1)
	defer p.inflight.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return p.Store.CountActiveUsers(ctx, orgID, filter)
}
