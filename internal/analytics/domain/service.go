package domain

import (
	"context"
	"errors"
)

type CohortRequest struct {
	Months int
}

type RetentionRequest struct {
	Months int
}

type GrowthRequest struct {
	// Period defaults to the current month when zero.
	Period YearMonth
}

type ReportRequest struct {
	Months int
	Period YearMonth
}

// Service computes analytics for the organization carried on the context.
type Service interface {
	GetCohorts(context.Context, CohortRequest) ([]CohortMembers, error)
	GetRetentionMatrix(context.Context, RetentionRequest) (RetentionMatrix, error)
	GetChurnAnalysis(context.Context) (ChurnAnalysis, error)
	GetGrowthMetrics(context.Context, GrowthRequest) (GrowthMetrics, error)
	GetReport(context.Context, ReportRequest) (Report, error)
}

// MaxCohortMonths bounds the trailing window a caller may request.
const MaxCohortMonths = 36

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidMonths       = errors.New("invalid_months")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrStoreUnavailable    = errors.New("store_unavailable")
)
