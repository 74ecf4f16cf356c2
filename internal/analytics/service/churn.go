package service

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"golang.org/x/sync/errgroup"
)

func (c *computation) churnAnalysis(ctx context.Context) (domain.ChurnAnalysis, error) {
	windowStart := c.now.Add(-time.Duration(c.cfg.ChurnWindowDays) * day)

	var (
		members   []domain.MemberRecord
		activeIDs []snowflake.ID
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		members, err = c.store.ListMembers(gctx, c.orgID, domain.MemberFilter{Status: domain.MemberStatusActive})
		return err
	})
	g.Go(func() error {
		var err error
		activeIDs, err = c.store.ListActiveUserIDs(gctx, c.orgID, domain.EventFilter{From: windowStart, To: c.now})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.ChurnAnalysis{}, err
	}

	recent := make(map[snowflake.ID]struct{}, len(activeIDs))
	for _, id := range activeIDs {
		recent[id] = struct{}{}
	}

	seen := make(map[snowflake.ID]struct{}, len(members))
	inactive := make([]domain.MemberRecord, 0)
	total := 0
	for _, m := range members {
		if _, dup := seen[m.UserID]; dup {
			continue
		}
		seen[m.UserID] = struct{}{}
		total++
		if _, ok := recent[m.UserID]; !ok {
			inactive = append(inactive, m)
		}
	}

	analysis := domain.ChurnAnalysis{
		TotalMembers:     total,
		InactiveMembers:  len(inactive),
		AtRiskUsers:      []domain.UserChurnRisk{},
		ChurnReasons:     c.churnReasons(len(inactive)),
		ReasonsEstimated: true,
	}
	if total == 0 {
		return analysis, nil
	}

	analysis.ChurnRatePercent = round1(100 * float64(len(inactive)) / float64(total))
	analysis.PredictedNextMonthChurn = int(math.Round(float64(total) * analysis.ChurnRatePercent / 100 * c.cfg.ChurnTrendFactor))

	atRisk, err := c.atRiskUsers(ctx, inactive)
	if err != nil {
		return domain.ChurnAnalysis{}, err
	}
	analysis.AtRiskUsers = atRisk
	return analysis, nil
}

func (c *computation) atRiskUsers(ctx context.Context, inactive []domain.MemberRecord) ([]domain.UserChurnRisk, error) {
	if len(inactive) == 0 {
		return []domain.UserChurnRisk{}, nil
	}

	ids := make([]snowflake.ID, 0, len(inactive))
	for _, m := range inactive {
		ids = append(ids, m.UserID)
	}
	last, err := c.store.LastActivity(ctx, c.orgID, ids)
	if err != nil {
		return nil, err
	}

	risks := make([]domain.UserChurnRisk, 0, len(inactive))
	for _, m := range inactive {
		lastActive, ok := last[m.UserID]
		if !ok {
			lastActive = m.CreatedAt
		}
		days := daysBetween(lastActive, c.now)
		risks = append(risks, domain.UserChurnRisk{
			UserID:          m.UserID,
			Email:           m.Email,
			RiskScore:       riskScore(days, c.cfg.RiskPerInactiveDay),
			LastActiveAt:    lastActive,
			DaysSinceActive: days,
			SignupAt:        m.CreatedAt,
		})
	}

	sort.Slice(risks, func(i, j int) bool {
		if risks[i].RiskScore != risks[j].RiskScore {
			return risks[i].RiskScore > risks[j].RiskScore
		}
		if risks[i].DaysSinceActive != risks[j].DaysSinceActive {
			return risks[i].DaysSinceActive > risks[j].DaysSinceActive
		}
		return risks[i].UserID < risks[j].UserID
	})

	if limit := c.cfg.AtRiskLimit; limit > 0 && len(risks) > limit {
		risks = risks[:limit]
	}
	return risks, nil
}

func riskScore(daysSinceActive, perDay int) int {
	return min(100, max(0, daysSinceActive*perDay))
}

// churnReasons spreads the inactive population over the configured reason
// distribution. The counts are estimates.
func (c *computation) churnReasons(inactive int) []domain.ChurnReason {
	reasons := make([]domain.ChurnReason, 0, len(c.cfg.ChurnReasons))
	for _, weight := range c.cfg.ChurnReasons {
		reasons = append(reasons, domain.ChurnReason{
			Reason:         weight.Reason,
			PercentOfChurn: weight.Percent,
			Count:          int(math.Round(float64(inactive) * weight.Percent / 100)),
		})
	}
	return reasons
}
