package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"github.com/smallbiznis/agencyops/internal/clock"
	"github.com/smallbiznis/agencyops/internal/config"
	"github.com/smallbiznis/agencyops/internal/observability/metrics"
	"github.com/smallbiznis/agencyops/internal/orgcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

const testOrg = snowflake.ID(42)

func orgCtx() context.Context {
	return orgcontext.WithOrgID(context.Background(), testOrg)
}

func newTestService(t *testing.T, store domain.Store, now time.Time, cfg config.AnalyticsConfig) *Service {
	t.Helper()
	return New(Params{
		Store:  store,
		Log:    zaptest.NewLogger(t),
		Clock:  clock.NewFakeClock(now),
		Config: config.NewStaticAnalyticsConfigHolder(cfg),
	}).(*Service)
}

func date(y int, m time.Month, d, h int) time.Time {
	return time.Date(y, m, d, h, 0, 0, 0, time.UTC)
}

func TestRetentionScenarioTwoOfThreeReturnInWeekOne(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 3; i++ {
		store.addMember(i, fmt.Sprintf("u%d@example.test", i), domain.MemberStatusActive, date(2026, time.March, 1, 9))
	}
	store.addEvent(1, date(2026, time.March, 9, 10))
	store.addEvent(2, date(2026, time.March, 9, 11))
	store.addEvent(2, date(2026, time.March, 10, 11))
	// Before the week 1 window; must not count.
	store.addEvent(3, date(2026, time.March, 2, 8))

	svc := newTestService(t, store, date(2026, time.March, 11, 12), config.DefaultAnalyticsConfig())

	matrix, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 1})
	require.NoError(t, err)
	require.Len(t, matrix.Cohorts, 1)

	cohort := matrix.Cohorts[0]
	assert.Equal(t, domain.YearMonth{Year: 2026, Month: time.March}, cohort.Period)
	assert.Equal(t, 3, cohort.TotalUsers)
	assert.Equal(t, []float64{100, 67}, cohort.RetentionByWeek)
	assert.Equal(t, []float64{100}, cohort.RetentionByMonth)
	assert.Equal(t, int64(694), cohort.EstimatedLTV)
	assert.Equal(t, 0, cohort.ChurnedUsers)
	assert.Equal(t, domain.OverallRetention{Day1: 100, Day7: 67}, matrix.OverallRetention)
}

func TestRetentionMonthlyCurveAndLTV(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 4; i++ {
		store.addMember(i, "", domain.MemberStatusActive, date(2026, time.January, 5, 0))
	}
	store.addEvent(1, date(2026, time.February, 10, 0))
	store.addEvent(2, date(2026, time.February, 11, 0))
	store.addEvent(1, date(2026, time.March, 10, 0))

	svc := newTestService(t, store, date(2026, time.March, 20, 0), config.DefaultAnalyticsConfig())

	matrix, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 3})
	require.NoError(t, err)
	require.Len(t, matrix.Cohorts, 1, "empty February and March cohorts are not emitted")

	cohort := matrix.Cohorts[0]
	assert.Equal(t, domain.YearMonth{Year: 2026, Month: time.January}, cohort.Period)
	assert.Equal(t, []float64{100, 50, 25}, cohort.RetentionByMonth)
	assert.Len(t, cohort.RetentionByWeek, 11)
	assert.Equal(t, int64(239), cohort.EstimatedLTV)
	assert.Equal(t, 3, cohort.ChurnedUsers)
}

func TestRetentionValuesStayInRange(t *testing.T) {
	store := &fakeStore{}
	signups := []time.Time{
		date(2026, time.January, 3, 0),
		date(2026, time.February, 14, 0),
		date(2026, time.April, 28, 0),
		date(2026, time.June, 1, 0),
	}
	id := int64(1)
	for _, signup := range signups {
		for i := 0; i < 5; i++ {
			store.addMember(id, "", domain.MemberStatusActive, signup)
			for d := 0; d < 120; d += int(id%7) + 3 {
				store.addEvent(id, signup.AddDate(0, 0, d))
			}
			id++
		}
	}

	svc := newTestService(t, store, date(2026, time.June, 15, 0), config.DefaultAnalyticsConfig())
	matrix, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 6})
	require.NoError(t, err)
	require.Len(t, matrix.Cohorts, 4)

	for _, cohort := range matrix.Cohorts {
		require.NotEmpty(t, cohort.RetentionByWeek)
		assert.Equal(t, float64(100), cohort.RetentionByWeek[0])
		assert.Equal(t, float64(100), cohort.RetentionByMonth[0])
		assert.LessOrEqual(t, len(cohort.RetentionByWeek), 13)
		for _, v := range append(append([]float64{}, cohort.RetentionByWeek...), cohort.RetentionByMonth...) {
			assert.GreaterOrEqual(t, v, float64(0))
			assert.LessOrEqual(t, v, float64(100))
		}
		assert.Positive(t, cohort.TotalUsers)
	}
	for i := 1; i < len(matrix.Cohorts); i++ {
		assert.True(t, matrix.Cohorts[i-1].Start.Before(matrix.Cohorts[i].Start), "cohorts are ordered oldest first")
	}
}

func TestGetCohortsSkipsEmptyMonthsAndDefaultsWindow(t *testing.T) {
	store := &fakeStore{}
	store.addMember(1, "", domain.MemberStatusActive, date(2026, time.February, 1, 0))
	store.addMember(2, "", domain.MemberStatusActive, date(2026, time.February, 28, 23))
	store.addMember(3, "", domain.MemberStatusActive, date(2026, time.March, 1, 0))
	// Outside the default six month window.
	store.addMember(4, "", domain.MemberStatusActive, date(2025, time.August, 31, 0))

	svc := newTestService(t, store, date(2026, time.May, 2, 0), config.DefaultAnalyticsConfig())

	cohorts, err := svc.GetCohorts(orgCtx(), domain.CohortRequest{})
	require.NoError(t, err)
	require.Len(t, cohorts, 2)
	assert.Equal(t, "2026-02", cohorts[0].Period.String())
	assert.Equal(t, 2, cohorts[0].TotalUsers)
	assert.Equal(t, []snowflake.ID{1, 2}, cohorts[0].UserIDs)
	assert.Equal(t, date(2026, time.March, 1, 0), cohorts[0].End)
	assert.Equal(t, "2026-03", cohorts[1].Period.String())
}

func TestInvalidInputs(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, date(2026, time.May, 2, 0), config.DefaultAnalyticsConfig())

	_, err := svc.GetRetentionMatrix(context.Background(), domain.RetentionRequest{Months: 3})
	assert.ErrorIs(t, err, domain.ErrInvalidOrganization)

	_, err = svc.GetCohorts(orgCtx(), domain.CohortRequest{Months: domain.MaxCohortMonths + 1})
	assert.ErrorIs(t, err, domain.ErrInvalidMonths)

	_, err = svc.GetCohorts(orgCtx(), domain.CohortRequest{Months: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidMonths)

	_, err = svc.GetGrowthMetrics(orgCtx(), domain.GrowthRequest{Period: domain.YearMonth{Year: 2026, Month: time.June}})
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestPartialCohortFailureIsSkipped(t *testing.T) {
	store := &fakeStore{}
	store.addMember(10, "", domain.MemberStatusActive, date(2026, time.February, 3, 0))
	store.addMember(11, "", domain.MemberStatusActive, date(2026, time.February, 4, 0))
	for i := int64(1); i <= 3; i++ {
		store.addMember(i, "", domain.MemberStatusActive, date(2026, time.March, 2, 0))
	}
	store.countErr = func(filter domain.EventFilter) error {
		for _, id := range filter.UserIDs {
			if id == 10 {
				return errors.New("statement timeout")
			}
		}
		return nil
	}

	core, logs := observer.New(zapcore.WarnLevel)
	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(metrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	svc := New(Params{
		Store:   store,
		Log:     zap.New(core),
		Clock:   clock.NewFakeClock(date(2026, time.March, 20, 0)),
		Config:  config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig()),
		Metrics: m,
	})

	matrix, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 2})
	require.NoError(t, err)
	require.Len(t, matrix.Cohorts, 1)
	assert.Equal(t, "2026-03", matrix.Cohorts[0].Period.String())

	skipped := logs.FilterMessage("skipping cohort").All()
	require.Len(t, skipped, 1)
	assert.Equal(t, "2026-02", skipped[0].ContextMap()["cohort"])

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, int64(1), counterTotal(rm, "agencyops_analytics_cohorts_skipped_total"))
}

func TestStoreUnavailableAbortsRetention(t *testing.T) {
	store := &fakeStore{}
	store.addMember(1, "", domain.MemberStatusActive, date(2026, time.March, 2, 0))
	store.countErr = func(domain.EventFilter) error {
		return fmt.Errorf("count active users: %w", domain.ErrStoreUnavailable)
	}

	svc := newTestService(t, store, date(2026, time.March, 20, 0), config.DefaultAnalyticsConfig())

	_, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestStoreUnavailableAbortsCohortListing(t *testing.T) {
	store := &storeMock{}
	store.On("ListMembers", mock.Anything, testOrg, mock.Anything).
		Return(nil, fmt.Errorf("list members: %w", domain.ErrStoreUnavailable))

	svc := newTestService(t, store, date(2026, time.March, 20, 0), config.DefaultAnalyticsConfig())

	_, err := svc.GetCohorts(orgCtx(), domain.CohortRequest{Months: 2})
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestCanceledContextAborts(t *testing.T) {
	store := &fakeStore{}
	store.addMember(1, "", domain.MemberStatusActive, date(2026, time.March, 2, 0))

	core, logs := observer.New(zapcore.DebugLevel)
	reader := sdkmetric.NewManualReader()
	m, err := metrics.New(metrics.Config{}, sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	require.NoError(t, err)

	svc := New(Params{
		Store:   store,
		Log:     zap.New(core),
		Clock:   clock.NewFakeClock(date(2026, time.March, 20, 0)),
		Config:  config.NewStaticAnalyticsConfigHolder(config.DefaultAnalyticsConfig()),
		Metrics: m,
	})

	ctx, cancel := context.WithCancel(orgCtx())
	cancel()

	_, err = svc.GetRetentionMatrix(ctx, domain.RetentionRequest{Months: 1})
	assert.ErrorIs(t, err, context.Canceled)

	assert.Zero(t, logs.FilterLevelExact(zapcore.ErrorLevel).Len(), "cancellation is not an error")
	assert.Equal(t, 1, logs.FilterMessage("analytics computation canceled").Len())

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, []string{"canceled"}, computationOutcomes(rm))
}

func TestChurnAnalysis(t *testing.T) {
	now := date(2026, time.June, 30, 12)
	store := &fakeStore{}
	store.addMember(1, "active@example.test", domain.MemberStatusActive, date(2026, time.January, 1, 0))
	store.addMember(2, "gone@example.test", domain.MemberStatusActive, date(2026, time.January, 1, 0))
	store.addMember(3, "new@example.test", domain.MemberStatusActive, date(2026, time.June, 20, 12))
	store.addMember(4, "quiet@example.test", domain.MemberStatusActive, date(2026, time.January, 1, 0))
	store.addMember(5, "invited@example.test", domain.MemberStatus("INVITED"), date(2026, time.January, 1, 0))
	store.addEvent(1, date(2026, time.June, 25, 0))
	store.addEvent(2, date(2026, time.April, 1, 0))
	store.addEvent(2, date(2026, time.May, 1, 0))
	store.addEvent(4, date(2026, time.May, 20, 12))

	svc := newTestService(t, store, now, config.DefaultAnalyticsConfig())

	analysis, err := svc.GetChurnAnalysis(orgCtx())
	require.NoError(t, err)

	assert.Equal(t, 4, analysis.TotalMembers)
	assert.Equal(t, 3, analysis.InactiveMembers)
	assert.Equal(t, 75.0, analysis.ChurnRatePercent)
	assert.Equal(t, 3, analysis.PredictedNextMonthChurn)
	assert.True(t, analysis.ReasonsEstimated)

	require.Len(t, analysis.AtRiskUsers, 3)
	gone := analysis.AtRiskUsers[0]
	assert.Equal(t, snowflake.ID(2), gone.UserID)
	assert.Equal(t, "gone@example.test", gone.Email)
	assert.Equal(t, 60, gone.DaysSinceActive)
	assert.Equal(t, 100, gone.RiskScore)
	assert.Equal(t, date(2026, time.May, 1, 0), gone.LastActiveAt)

	assert.Equal(t, snowflake.ID(4), analysis.AtRiskUsers[1].UserID)
	assert.Equal(t, 41, analysis.AtRiskUsers[1].DaysSinceActive)
	assert.Equal(t, 82, analysis.AtRiskUsers[1].RiskScore)

	fresh := analysis.AtRiskUsers[2]
	assert.Equal(t, snowflake.ID(3), fresh.UserID)
	assert.Equal(t, 10, fresh.DaysSinceActive)
	assert.Equal(t, 20, fresh.RiskScore)
	assert.Equal(t, fresh.SignupAt, fresh.LastActiveAt, "signup is the fallback for members without events")

	var pct float64
	var count int
	for _, reason := range analysis.ChurnReasons {
		pct += reason.PercentOfChurn
		count += reason.Count
	}
	assert.InDelta(t, 100, pct, 0.5)
	assert.InDelta(t, analysis.InactiveMembers, count, float64(len(analysis.ChurnReasons))/2)
}

func TestChurnAtRiskOrderingAndLimit(t *testing.T) {
	now := date(2026, time.June, 30, 0)
	store := &fakeStore{}
	for _, id := range []int64{7, 3, 5} {
		store.addMember(id, "", domain.MemberStatusActive, date(2026, time.May, 31, 0))
	}
	store.addMember(9, "", domain.MemberStatusActive, date(2026, time.June, 20, 0))

	cfg := config.DefaultAnalyticsConfig()
	cfg.AtRiskLimit = 2
	svc := newTestService(t, store, now, cfg)

	analysis, err := svc.GetChurnAnalysis(orgCtx())
	require.NoError(t, err)
	require.Len(t, analysis.AtRiskUsers, 2)
	assert.Equal(t, snowflake.ID(3), analysis.AtRiskUsers[0].UserID)
	assert.Equal(t, snowflake.ID(5), analysis.AtRiskUsers[1].UserID)
	assert.Equal(t, 100.0, analysis.ChurnRatePercent)
}

func TestChurnEmptyTenant(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, date(2026, time.June, 30, 0), config.DefaultAnalyticsConfig())

	analysis, err := svc.GetChurnAnalysis(orgCtx())
	require.NoError(t, err)
	assert.Zero(t, analysis.ChurnRatePercent)
	assert.Empty(t, analysis.AtRiskUsers)
	assert.NotNil(t, analysis.AtRiskUsers)
	assert.Zero(t, analysis.PredictedNextMonthChurn)
	for _, reason := range analysis.ChurnReasons {
		assert.Zero(t, reason.Count)
	}
}

func TestGrowthMetrics(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 10; i++ {
		store.addMember(i, "", domain.MemberStatusActive, date(2026, time.June, int(i), 0))
	}
	store.addMember(50, "", domain.MemberStatusActive, date(2026, time.March, 1, 0))
	store.addMember(60, "", domain.MemberStatusActive, date(2026, time.July, 1, 0))
	store.addEvent(1, date(2026, time.June, 12, 0))
	store.addEvent(1, date(2026, time.June, 13, 0))
	store.addEvent(50, date(2026, time.June, 14, 0))
	store.addEvent(60, date(2026, time.July, 2, 0))
	// Not a member of the organization.
	store.addEvent(999, date(2026, time.June, 15, 0))
	store.subs = []domain.SubscriptionRecord{
		{MemberID: 1, Plan: "Pro"},
		{MemberID: 2, Plan: "pro"},
		{MemberID: 3, Plan: "legacy"},
	}

	cfg := config.DefaultAnalyticsConfig()
	cfg.PlanPrices = map[string]float64{"pro": 500}
	svc := newTestService(t, store, date(2026, time.July, 3, 0), cfg)

	growth, err := svc.GetGrowthMetrics(orgCtx(), domain.GrowthRequest{Period: domain.YearMonth{Year: 2026, Month: time.June}})
	require.NoError(t, err)

	assert.Equal(t, "2026-06", growth.Period.String())
	assert.Equal(t, 10, growth.NewUsers)
	assert.Equal(t, 7, growth.ActivatedUsers)
	assert.Equal(t, 1, growth.ResurrectedUsers)
	assert.Equal(t, 2, growth.RetainedUsers)
	assert.Equal(t, 1000.0, growth.CurrentMRR)
	assert.Equal(t, 50.0, growth.ExpansionRevenue)
	assert.Equal(t, 20.0, growth.ContractionRevenue)
	assert.Equal(t, 40.0, growth.ChurnedRevenue)
	assert.Equal(t, 99.0, growth.NetRevenueRetention)
}

func TestGrowthWithoutSubscriptions(t *testing.T) {
	svc := newTestService(t, &fakeStore{}, date(2026, time.July, 3, 0), config.DefaultAnalyticsConfig())

	growth, err := svc.GetGrowthMetrics(orgCtx(), domain.GrowthRequest{})
	require.NoError(t, err)
	assert.Equal(t, "2026-07", growth.Period.String())
	assert.Zero(t, growth.CurrentMRR)
	assert.Zero(t, growth.NetRevenueRetention)
	assert.False(t, math.IsNaN(growth.NetRevenueRetention))
}

func TestReportIsIdempotent(t *testing.T) {
	store := &fakeStore{}
	for i := int64(1); i <= 6; i++ {
		store.addMember(i, "", domain.MemberStatusActive, date(2026, time.Month(i), 3, 0))
		store.addEvent(i, date(2026, time.June, int(i)*3, 0))
	}
	store.subs = []domain.SubscriptionRecord{{MemberID: 1, Plan: "agency"}}
	now := date(2026, time.June, 20, 0)
	svc := newTestService(t, store, now, config.DefaultAnalyticsConfig())

	first, err := svc.GetReport(orgCtx(), domain.ReportRequest{})
	require.NoError(t, err)
	second, err := svc.GetReport(orgCtx(), domain.ReportRequest{})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, now, first.GeneratedAt)
	assert.Len(t, first.Retention.Cohorts, 6)
	assert.Equal(t, 249.0, first.Growth.CurrentMRR)
	assert.Equal(t, 6, first.Churn.TotalMembers)
}

func TestQueryConcurrencyIsBounded(t *testing.T) {
	inner := &fakeStore{}
	for i := int64(1); i <= 4; i++ {
		inner.addMember(i, "", domain.MemberStatusActive, date(2026, time.Month(i), 1, 0))
	}
	probe := &concurrencyProbe{Store: inner}

	cfg := config.DefaultAnalyticsConfig()
	cfg.QueryConcurrency = 2
	svc := newTestService(t, probe, date(2026, time.June, 28, 0), cfg)

	_, err := svc.GetRetentionMatrix(orgCtx(), domain.RetentionRequest{Months: 6})
	require.NoError(t, err)
	assert.LessOrEqual(t, probe.peak.Load(), int32(2))
	assert.Positive(t, probe.peak.Load())
}

func counterTotal(rm metricdata.ResourceMetrics, name string) int64 {
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func computationOutcomes(rm metricdata.ResourceMetrics) []string {
	var outcomes []string
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != "agencyops_analytics_computations_total" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					if value, ok := dp.Attributes.Value("outcome"); ok {
						outcomes = append(outcomes, value.AsString())
					}
				}
			}
		}
	}
	return outcomes
}
