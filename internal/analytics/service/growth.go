package service

import (
	"context"
	"math"

	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func (c *computation) growthMetrics(ctx context.Context, period domain.YearMonth) (domain.GrowthMetrics, error) {
	from, to := period.Start(), period.End()

	var (
		members       []domain.MemberRecord
		subscriptions []domain.SubscriptionRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = c.store.ListMembers(gctx, c.orgID, domain.MemberFilter{CreatedTo: to})
		return err
	})
	g.Go(func() error {
		var err error
		subscriptions, err = c.store.ListActiveSubscriptions(gctx, c.orgID)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.GrowthMetrics{}, err
	}

	newUsers := 0
	for _, m := range members {
		if !m.CreatedAt.Before(from) {
			newUsers++
		}
	}

	retained := 0
	if userIDs := uniqueUserIDs(members); len(userIDs) > 0 {
		count, err := c.store.CountActiveUsers(ctx, c.orgID, domain.EventFilter{
			UserIDs: userIDs,
			From:    from,
			To:      to,
		})
		if err != nil {
			return domain.GrowthMetrics{}, err
		}
		retained = count
	}

	mrr := c.monthlyRecurringRevenue(subscriptions)
	metrics := domain.GrowthMetrics{
		Period:             period,
		NewUsers:           newUsers,
		ActivatedUsers:     int(math.Round(float64(newUsers) * c.cfg.ActivationRate)),
		RetainedUsers:      retained,
		ResurrectedUsers:   int(math.Round(float64(newUsers) * c.cfg.ResurrectionRate)),
		CurrentMRR:         mrr,
		ExpansionRevenue:   roundCents(mrr * c.cfg.ExpansionRatio),
		ContractionRevenue: roundCents(mrr * c.cfg.ContractionRatio),
		ChurnedRevenue:     roundCents(mrr * c.cfg.ChurnedRevenueRatio),
	}
	if mrr > 0 {
		retainedRevenue := mrr + metrics.ExpansionRevenue - metrics.ContractionRevenue - metrics.ChurnedRevenue
		metrics.NetRevenueRetention = round1(100 * retainedRevenue / mrr)
	}
	return metrics, nil
}

func (c *computation) monthlyRecurringRevenue(subscriptions []domain.SubscriptionRecord) float64 {
	var (
		mrr     float64
		unknown map[string]int
	)
	for _, sub := range subscriptions {
		price, ok := c.cfg.PlanPrice(sub.Plan)
		if !ok {
			if unknown == nil {
				unknown = map[string]int{}
			}
			unknown[sub.Plan]++
			continue
		}
		mrr += price
	}
	for plan, count := range unknown {
		c.log.Warn("subscription plan has no configured price",
			zap.String("plan", plan),
			zap.Int("subscriptions", count),
		)
	}
	return roundCents(mrr)
}
