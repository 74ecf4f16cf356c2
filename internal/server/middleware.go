package server

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/agencyops/internal/observability/logger"
	"github.com/smallbiznis/agencyops/internal/orgcontext"
	"github.com/smallbiznis/agencyops/internal/ratelimit"
	"go.uber.org/zap"
)

const HeaderOrg = "X-Org-Id"

// OrgContext resolves the tenant from the X-Org-Id header and puts it on the
// request context. Requests without a valid id are rejected.
func OrgContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, ok := orgcontext.ParseOrgID(strings.TrimSpace(c.GetHeader(HeaderOrg)))
		if !ok {
			AbortWithError(c, newValidationError("organization", "invalid_organization", "missing or invalid "+HeaderOrg+" header"))
			return
		}

		ctx := orgcontext.WithOrgID(c.Request.Context(), orgID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

type orgLimiter interface {
	AllowOrg(ctx context.Context, orgID string) (*ratelimit.RateLimitResult, error)
}

// RateLimit throttles requests per organization. It must run after
// OrgContext. Limiter failures let the request through.
func RateLimit(limiter orgLimiter, log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		orgID, ok := orgcontext.OrgIDFromContext(c.Request.Context())
		if !ok {
			c.Next()
			return
		}

		res, err := limiter.AllowOrg(c.Request.Context(), orgID.String())
		if err != nil {
			logger.WithContext(c.Request.Context(), log).Warn("rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if res != nil && !res.Allowed {
			if res.RetryAfter > 0 {
				c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			}
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
