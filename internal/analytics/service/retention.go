package service

import (
	"context"

	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"golang.org/x/sync/errgroup"
)

// retentionMatrix computes every cohort's curves concurrently. A cohort whose
// queries fail for a reason other than an outage is left out of the matrix.
func (c *computation) retentionMatrix(ctx context.Context, cohorts []domain.CohortMembers) (domain.RetentionMatrix, error) {
	slots := make([]*domain.Cohort, len(cohorts))

	g, gctx := errgroup.WithContext(ctx)
	for idx := range cohorts {
		g.Go(func() error {
			cohort, err := c.cohortRetention(gctx, cohorts[idx])
			if err != nil {
				if isFatal(gctx, err) {
					return err
				}
				c.skipCohort(gctx, cohorts[idx].Period, "retention_query", err)
				return nil
			}
			slots[idx] = &cohort
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.RetentionMatrix{}, err
	}

	result := make([]domain.Cohort, 0, len(cohorts))
	for _, slot := range slots {
		if slot != nil {
			result = append(result, *slot)
		}
	}
	return domain.RetentionMatrix{
		Cohorts:          result,
		OverallRetention: overallRetention(result),
	}, nil
}

func (c *computation) cohortRetention(ctx context.Context, members domain.CohortMembers) (domain.Cohort, error) {
	weeks := weeklyWindows(members.Start, c.now, c.cfg.MaxWeeks)
	months := monthlyWindows(members.Start, c.now)

	byWeek := make([]float64, len(weeks)+1)
	byMonth := make([]float64, len(months)+1)
	byWeek[0] = 100
	byMonth[0] = 100

	g, gctx := errgroup.WithContext(ctx)
	fill := func(dst []float64, windows []window) {
		for i, w := range windows {
			g.Go(func() error {
				active, err := c.store.CountActiveUsers(gctx, c.orgID, domain.EventFilter{
					UserIDs: members.UserIDs,
					From:    w.from,
					To:      w.to,
				})
				if err != nil {
					return err
				}
				dst[i+1] = retentionPercent(active, members.TotalUsers)
				return nil
			})
		}
	}
	fill(byWeek, weeks)
	fill(byMonth, months)
	if err := g.Wait(); err != nil {
		return domain.Cohort{}, err
	}

	return domain.Cohort{
		Period:           members.Period,
		Start:            members.Start,
		End:              members.End,
		TotalUsers:       members.TotalUsers,
		RetentionByWeek:  byWeek,
		RetentionByMonth: byMonth,
		EstimatedLTV:     estimateLTV(byMonth, c.cfg.LTVHorizonMonths, c.cfg.LTVDecay, c.cfg.AverageMonthlyRevenue),
		ChurnedUsers:     churnedUsers(members.TotalUsers, byMonth),
	}, nil
}

// overallRetention averages week 0, 1, 4 and 12 across the cohorts that reached
// that week.
func overallRetention(cohorts []domain.Cohort) domain.OverallRetention {
	at := func(index int) float64 {
		var (
			sum   float64
			count int
		)
		for _, cohort := range cohorts {
			if index < len(cohort.RetentionByWeek) {
				sum += cohort.RetentionByWeek[index]
				count++
			}
		}
		if count == 0 {
			return 0
		}
		return round1(sum / float64(count))
	}

	return domain.OverallRetention{
		Day1:  at(0),
		Day7:  at(1),
		Day30: at(4),
		Day90: at(12),
	}
}
