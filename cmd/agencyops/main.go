package main

import (
	"github.com/smallbiznis/agencyops/internal/clock"
	"github.com/smallbiznis/agencyops/internal/config"
	"github.com/smallbiznis/agencyops/internal/observability"
	"github.com/smallbiznis/agencyops/internal/server"
	"github.com/smallbiznis/agencyops/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		db.Module,
		clock.Module,

		// Read models, analytics and the reporting API
		server.Module,

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	)
	app.Run()
}
