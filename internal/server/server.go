package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/agencyops/internal/analytics"
	analyticsdomain "github.com/smallbiznis/agencyops/internal/analytics/domain"
	"github.com/smallbiznis/agencyops/internal/config"
	"github.com/smallbiznis/agencyops/internal/member"
	"github.com/smallbiznis/agencyops/internal/observability"
	obsmiddleware "github.com/smallbiznis/agencyops/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/agencyops/internal/observability/metrics"
	obstracing "github.com/smallbiznis/agencyops/internal/observability/tracing"
	"github.com/smallbiznis/agencyops/internal/ratelimit"
	"github.com/smallbiznis/agencyops/internal/subscription"
	"github.com/smallbiznis/agencyops/internal/usage"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	member.Module,
	usage.Module,
	subscription.Module,
	analytics.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine       *gin.Engine
	cfg          config.Config
	log          *zap.Logger
	analyticsSvc analyticsdomain.Service
	limiter      orgLimiter
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	Log          *zap.Logger `optional:"true"`
	AnalyticsSvc analyticsdomain.Service
	Limiter      *ratelimit.AnalyticsLimiter `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	var limiter orgLimiter
	if p.Limiter.Enabled() {
		limiter = p.Limiter
	}
	return newServer(p.Gin, p.Cfg, p.Log, p.AnalyticsSvc, limiter)
}

func newServer(engine *gin.Engine, cfg config.Config, log *zap.Logger, analyticsSvc analyticsdomain.Service, limiter orgLimiter) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	svc := &Server{
		engine:       engine,
		cfg:          cfg,
		log:          log.Named("http.server"),
		analyticsSvc: analyticsSvc,
		limiter:      limiter,
	}

	svc.registerAPIRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(OrgContext())

	reports := api.Group("/analytics")
	reports.Use(RateLimit(s.limiter, s.log))
	reports.GET("/cohorts", s.GetCohorts)
	reports.GET("/retention", s.GetRetentionMatrix)
	reports.GET("/churn", s.GetChurnAnalysis)
	reports.GET("/growth", s.GetGrowthMetrics)
	reports.GET("/report", s.GetReport)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
