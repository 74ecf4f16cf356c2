// Package domain contains the analytics result records and the store contract
// the calculators read from.
package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
)

// YearMonth identifies a calendar month. It is rendered as "2006-01".
type YearMonth struct {
	Year  int
	Month time.Month
}

func YearMonthOf(t time.Time) YearMonth {
	t = t.UTC()
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ParseYearMonth parses the "2006-01" form.
func ParseYearMonth(raw string) (YearMonth, error) {
	t, err := time.Parse("2006-01", raw)
	if err != nil {
		return YearMonth{}, ErrInvalidPeriod
	}
	return YearMonthOf(t), nil
}

// Start returns the first instant of the month in UTC.
func (ym YearMonth) Start() time.Time {
	return time.Date(ym.Year, ym.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End returns the first instant of the following month.
func (ym YearMonth) End() time.Time {
	return ym.Start().AddDate(0, 1, 0)
}

func (ym YearMonth) IsZero() bool {
	return ym.Year == 0 && ym.Month == 0
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

func (ym YearMonth) MarshalJSON() ([]byte, error) {
	return json.Marshal(ym.String())
}

func (ym *YearMonth) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseYearMonth(raw)
	if err != nil {
		return err
	}
	*ym = parsed
	return nil
}

// CohortMembers is a monthly signup cohort before retention is computed.
type CohortMembers struct {
	Period     YearMonth
	Start      time.Time
	End        time.Time
	TotalUsers int
	UserIDs    []snowflake.ID
}

// Cohort is the retention profile of users who signed up in the same month.
// Index 0 of both retention curves is 100.
type Cohort struct {
	Period           YearMonth `json:"period"`
	Start            time.Time `json:"start"`
	End              time.Time `json:"end"`
	TotalUsers       int       `json:"total_users"`
	RetentionByWeek  []float64 `json:"retention_by_week"`
	RetentionByMonth []float64 `json:"retention_by_month"`
	EstimatedLTV     int64     `json:"estimated_ltv"`
	ChurnedUsers     int       `json:"churned_users"`
}

type OverallRetention struct {
	Day1  float64 `json:"day1"`
	Day7  float64 `json:"day7"`
	Day30 float64 `json:"day30"`
	Day90 float64 `json:"day90"`
}

type RetentionMatrix struct {
	Cohorts          []Cohort         `json:"cohorts"`
	OverallRetention OverallRetention `json:"overall_retention"`
}

type UserChurnRisk struct {
	UserID          snowflake.ID `json:"user_id"`
	Email           string       `json:"email"`
	RiskScore       int          `json:"risk_score"`
	LastActiveAt    time.Time    `json:"last_active_at"`
	DaysSinceActive int          `json:"days_since_active"`
	SignupAt        time.Time    `json:"signup_at"`
}

type ChurnReason struct {
	Reason         string  `json:"reason"`
	PercentOfChurn float64 `json:"percent_of_churn"`
	Count          int     `json:"count"`
}

// ChurnAnalysis summarizes inactivity over the trailing activity window.
// ChurnReasons are derived from a configured distribution, not measured,
// which ReasonsEstimated makes explicit to consumers.
type ChurnAnalysis struct {
	ChurnRatePercent        float64         `json:"churn_rate_percent"`
	TotalMembers            int             `json:"total_members"`
	InactiveMembers         int             `json:"inactive_members"`
	AtRiskUsers             []UserChurnRisk `json:"at_risk_users"`
	ChurnReasons            []ChurnReason   `json:"churn_reasons"`
	ReasonsEstimated        bool            `json:"reasons_estimated"`
	PredictedNextMonthChurn int             `json:"predicted_next_month_churn"`
}

type GrowthMetrics struct {
	Period              YearMonth `json:"period"`
	NewUsers            int       `json:"new_users"`
	ActivatedUsers      int       `json:"activated_users"`
	RetainedUsers       int       `json:"retained_users"`
	ResurrectedUsers    int       `json:"resurrected_users"`
	CurrentMRR          float64   `json:"current_mrr"`
	ExpansionRevenue    float64   `json:"expansion_revenue"`
	ContractionRevenue  float64   `json:"contraction_revenue"`
	ChurnedRevenue      float64   `json:"churned_revenue"`
	NetRevenueRetention float64   `json:"net_revenue_retention"`
}

// Report bundles every analytics view for one organization.
type Report struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Retention   RetentionMatrix `json:"retention"`
	Churn       ChurnAnalysis   `json:"churn"`
	Growth      GrowthMetrics   `json:"growth"`
}
