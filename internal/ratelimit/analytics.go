package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/agencyops/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyAnalyticsOrg = "analytics:org:%s"

// AnalyticsLimiter caps how often one organization may request analytics.
// A nil limiter allows everything.
type AnalyticsLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewAnalyticsLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*AnalyticsLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(limitCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.AnalyticsOrgRate <= 0 || limitCfg.AnalyticsOrgBurst <= 0 {
		return nil, errors.New("analytics org rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(limitCfg.RedisPassword),
		DB:       limitCfg.RedisDB,
	})
	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return client.Close()
			},
		})
	}
	if log != nil {
		log.Info("analytics rate limit enabled",
			zap.String("redis_addr", addr),
			zap.Float64("rate", limitCfg.AnalyticsOrgRate),
			zap.Int("burst", limitCfg.AnalyticsOrgBurst),
		)
	}

	return NewAnalyticsLimiterWithClient(client, limitCfg.AnalyticsOrgRate, limitCfg.AnalyticsOrgBurst), nil
}

func NewAnalyticsLimiterWithClient(client redis.Scripter, rate float64, burst int) *AnalyticsLimiter {
	return &AnalyticsLimiter{
		bucket: NewTokenBucket(client),
		rate:   rate,
		burst:  burst,
	}
}

func (l *AnalyticsLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *AnalyticsLimiter) AllowOrg(ctx context.Context, orgID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyAnalyticsOrg, strings.TrimSpace(orgID)), l.rate, l.burst)
}
