package main

import (
	"fmt"

	"github.com/common-nighthawk/go-figure"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/tessellate-ml/tessera/internal/config"
	"github.com/tessellate-ml/tessera/internal/server"
)

// runServe starts the inspection server: prometheus metrics plus JSON
// endpoints for device and activation state. Lifecycle is managed by fx so
// the engine's native resources are released on shutdown.
func runServe(cfg *config.Config, log *zap.Logger) error {
	app := fx.New(
		fx.Supply(cfg, log),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		server.Module,
	)

	banner := figure.NewFigure("tessera", "", true)
	banner.Print()
	fmt.Println("")

	app.Run()
	return nil
}
