package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/agencyops/internal/analytics/domain"
	"github.com/smallbiznis/agencyops/internal/clock"
	"github.com/smallbiznis/agencyops/internal/config"
	"github.com/smallbiznis/agencyops/internal/observability/logger"
	"github.com/smallbiznis/agencyops/internal/observability/metrics"
	"github.com/smallbiznis/agencyops/internal/orgcontext"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Params struct {
	fx.In

	Store   domain.Store
	Log     *zap.Logger
	Clock   clock.Clock
	Config  *config.AnalyticsConfigHolder
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	store   domain.Store
	log     *zap.Logger
	clock   clock.Clock
	config  *config.AnalyticsConfigHolder
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

func New(p Params) domain.Service {
	return &Service{
		store:   p.Store,
		log:     p.Log.Named("analytics.service"),
		clock:   p.Clock,
		config:  p.Config,
		metrics: p.Metrics,
		tracer:  otel.Tracer("agencyops/analytics"),
	}
}

// computation is the per-request state shared by the calculators: one tenant,
// one instant, one configuration snapshot and one query budget.
type computation struct {
	orgID   snowflake.ID
	now     time.Time
	cfg     config.AnalyticsConfig
	store   domain.Store
	log     *zap.Logger
	metrics *metrics.Metrics
}

func (s *Service) begin(ctx context.Context) (*computation, error) {
	orgID, ok := orgcontext.OrgIDFromContext(ctx)
	if !ok || orgID == 0 {
		return nil, domain.ErrInvalidOrganization
	}
	cfg := s.config.Get()
	return &computation{
		orgID:   orgID,
		now:     s.clock.Now().UTC(),
		cfg:     cfg,
		store:   newLimitedStore(s.store, cfg.QueryConcurrency),
		log:     logger.WithContext(ctx, s.log),
		metrics: s.metrics,
	}, nil
}

func (s *Service) GetCohorts(ctx context.Context, req domain.CohortRequest) (cohorts []domain.CohortMembers, err error) {
	ctx, finish := s.observe(ctx, "cohorts")
	defer func() { finish(err) }()

	c, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	months, err := c.cohortMonths(req.Months)
	if err != nil {
		return nil, err
	}
	return c.buildCohorts(ctx, months)
}

func (s *Service) GetRetentionMatrix(ctx context.Context, req domain.RetentionRequest) (matrix domain.RetentionMatrix, err error) {
	ctx, finish := s.observe(ctx, "retention")
	defer func() { finish(err) }()

	c, err := s.begin(ctx)
	if err != nil {
		return domain.RetentionMatrix{}, err
	}
	months, err := c.cohortMonths(req.Months)
	if err != nil {
		return domain.RetentionMatrix{}, err
	}
	return c.retention(ctx, months)
}

func (s *Service) GetChurnAnalysis(ctx context.Context) (analysis domain.ChurnAnalysis, err error) {
	ctx, finish := s.observe(ctx, "churn")
	defer func() { finish(err) }()

	c, err := s.begin(ctx)
	if err != nil {
		return domain.ChurnAnalysis{}, err
	}
	return c.churnAnalysis(ctx)
}

func (s *Service) GetGrowthMetrics(ctx context.Context, req domain.GrowthRequest) (growth domain.GrowthMetrics, err error) {
	ctx, finish := s.observe(ctx, "growth")
	defer func() { finish(err) }()

	c, err := s.begin(ctx)
	if err != nil {
		return domain.GrowthMetrics{}, err
	}
	period, err := c.growthPeriod(req.Period)
	if err != nil {
		return domain.GrowthMetrics{}, err
	}
	return c.growthMetrics(ctx, period)
}

// GetReport computes retention, churn and growth in parallel against the same
// instant and configuration snapshot.
func (s *Service) GetReport(ctx context.Context, req domain.ReportRequest) (report domain.Report, err error) {
	ctx, finish := s.observe(ctx, "report")
	defer func() { finish(err) }()

	c, err := s.begin(ctx)
	if err != nil {
		return domain.Report{}, err
	}
	months, err := c.cohortMonths(req.Months)
	if err != nil {
		return domain.Report{}, err
	}
	period, err := c.growthPeriod(req.Period)
	if err != nil {
		return domain.Report{}, err
	}

	report.GeneratedAt = c.now
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		report.Retention, err = c.retention(gctx, months)
		return err
	})
	g.Go(func() error {
		var err error
		report.Churn, err = c.churnAnalysis(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		report.Growth, err = c.growthMetrics(gctx, period)
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.Report{}, err
	}
	return report, nil
}

func (c *computation) retention(ctx context.Context, months int) (domain.RetentionMatrix, error) {
	cohorts, err := c.buildCohorts(ctx, months)
	if err != nil {
		return domain.RetentionMatrix{}, err
	}
	return c.retentionMatrix(ctx, cohorts)
}

func (c *computation) cohortMonths(requested int) (int, error) {
	switch {
	case requested == 0:
		if c.cfg.DefaultCohortMonths <= 0 {
			return 1, nil
		}
		return min(c.cfg.DefaultCohortMonths, domain.MaxCohortMonths), nil
	case requested < 0 || requested > domain.MaxCohortMonths:
		return 0, domain.ErrInvalidMonths
	default:
		return requested, nil
	}
}

func (c *computation) growthPeriod(requested domain.YearMonth) (domain.YearMonth, error) {
	current := domain.YearMonthOf(c.now)
	if requested.IsZero() {
		return current, nil
	}
	if requested.Month < time.January || requested.Month > time.December {
		return domain.YearMonth{}, domain.ErrInvalidPeriod
	}
	if requested.Start().After(current.Start()) {
		return domain.YearMonth{}, domain.ErrInvalidPeriod
	}
	return requested, nil
}

// observe opens the operation span and returns the hook that closes it and
// records the outcome.
func (s *Service) observe(ctx context.Context, calculator string) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "analytics."+calculator,
		trace.WithAttributes(attribute.String("calculator", calculator)),
	)
	return ctx, func(err error) {
		outcome := "ok"
		switch {
		case err == nil:
		case isInvalidInput(err):
			outcome = "invalid"
		case errors.Is(err, context.Canceled):
			// The caller went away; nothing failed on our side.
			outcome = "canceled"
			logger.WithContext(ctx, s.log).Debug("analytics computation canceled",
				zap.String("calculator", calculator),
			)
		default:
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, "analytics computation failed")
			logger.WithContext(ctx, s.log).Error("analytics computation failed",
				zap.String("calculator", calculator),
				zap.Error(err),
			)
		}
		s.metrics.RecordComputation(ctx, calculator, outcome, time.Since(start))
		span.End()
	}
}

// isFatal reports whether err must abort the whole computation instead of
// dropping a single cohort.
func isFatal(ctx context.Context, err error) bool {
	return errors.Is(err, domain.ErrStoreUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}

func isInvalidInput(err error) bool {
	return errors.Is(err, domain.ErrInvalidOrganization) ||
		errors.Is(err, domain.ErrInvalidMonths) ||
		errors.Is(err, domain.ErrInvalidPeriod)
}
