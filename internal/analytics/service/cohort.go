package service

import (
	"context"
	"sort"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// buildCohorts partitions members into the trailing monthly signup cohorts,
// oldest first. Empty months produce no cohort.
func (c *computation) buildCohorts(ctx context.Context, months int) ([]domain.CohortMembers, error) {
	current := domain.YearMonthOf(c.now).Start()
	slots := make([]*domain.CohortMembers, months)

	g, gctx := errgroup.WithContext(ctx)
	for idx := 0; idx < months; idx++ {
		// idx 0 is the oldest month.
		period := domain.YearMonthOf(current.AddDate(0, -(months - 1 - idx), 0))
		g.Go(func() error {
			cohort, err := c.cohortMembers(gctx, period)
			if err != nil {
				if isFatal(gctx, err) {
					return err
				}
				c.skipCohort(gctx, period, "members_query", err)
				return nil
			}
			slots[idx] = cohort
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	cohorts := make([]domain.CohortMembers, 0, months)
	for _, slot := range slots {
		if slot != nil {
			cohorts = append(cohorts, *slot)
		}
	}
	return cohorts, nil
}

func (c *computation) cohortMembers(ctx context.Context, period domain.YearMonth) (*domain.CohortMembers, error) {
	members, err := c.store.ListMembers(ctx, c.orgID, domain.MemberFilter{
		CreatedFrom: period.Start(),
		CreatedTo:   period.End(),
	})
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, nil
	}

	userIDs := uniqueUserIDs(members)
	return &domain.CohortMembers{
		Period:     period,
		Start:      period.Start(),
		End:        period.End(),
		TotalUsers: len(userIDs),
		UserIDs:    userIDs,
	}, nil
}

func uniqueUserIDs(members []domain.MemberRecord) []snowflake.ID {
	seen := make(map[snowflake.ID]struct{}, len(members))
	ids := make([]snowflake.ID, 0, len(members))
	for _, m := range members {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		ids = append(ids, m.UserID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (c *computation) skipCohort(ctx context.Context, period domain.YearMonth, reason string, err error) {
	c.log.Warn("skipping cohort",
		zap.String("cohort", period.String()),
		zap.String("reason", reason),
		zap.Error(err),
	)
	c.metrics.RecordCohortSkipped(ctx, reason)
}
