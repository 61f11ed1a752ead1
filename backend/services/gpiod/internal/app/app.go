package app

import (
	"context"

	"go.uber.org/zap"

	"brewfleet/backend/services/gpiod/internal/config"
	"brewfleet/backend/services/gpiod/internal/gpio"
	httpserver "brewfleet/backend/services/gpiod/internal/http"
	"brewfleet/backend/services/gpiod/internal/http/handlers"
)

// App wires gateway dependencies.
type App struct {
	server *httpserver.Server
	logger *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	pulser := gpio.NewPulser(cfg.GPIO.Chip, cfg.GPIO.Simulate, gpio.NewExecRunner(), logger)

	routes := httpserver.Routes{
		Trigger: handlers.NewTriggerHandler(pulser, logger),
		Health:  handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{server: server, logger: logger}, nil
}

// Run starts serving HTTP requests.
func (a *App) Run(ctx context.Context) error {
	return a.server.Run(ctx)
}
