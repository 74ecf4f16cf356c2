package analytics

import (
	"github.com/smallbiznis/agencyops/internal/analytics/service"
	"github.com/smallbiznis/agencyops/internal/analytics/store"
	"go.uber.org/fx"
)

var Module = fx.Module("analytics.service",
	fx.Provide(store.New),
	fx.Provide(service.New),
)
