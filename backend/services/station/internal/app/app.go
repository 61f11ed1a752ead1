package app

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"brewfleet/backend/libs/buskv"
	"brewfleet/backend/libs/catalog"
	"brewfleet/backend/libs/mqtt"
	"brewfleet/backend/libs/protocol"
	"brewfleet/backend/services/station/internal/config"
	httpserver "brewfleet/backend/services/station/internal/http"
	"brewfleet/backend/services/station/internal/http/handlers"
	"brewfleet/backend/services/station/internal/state"
)

// App wires station service dependencies.
type App struct {
	server  *httpserver.Server
	bus     *mqtt.Client
	machine *state.Machine
	logger  *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	var initialCfg *protocol.StationConfig
	if cfg.Catalog.Path != "" {
		cat, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		if c, ok := cat.ForStation(cfg.StationID, cfg.Durations.HotMs, cfg.Durations.ColdMs); ok {
			initialCfg = &c
		} else {
			logger.Warn("station not present in catalog",
				zap.String("station_id", cfg.StationID),
				zap.String("path", cfg.Catalog.Path))
		}
	}

	// The last-will is the station's own retained DISCONNECTED state, so an
	// unplugged machine resolves visibly for every controller and kiosk.
	will, err := json.Marshal(protocol.StationState{
		ID:     cfg.StationID,
		Type:   protocol.TypeStation,
		State:  protocol.StateDisconnected,
		Orders: []protocol.Order{},
		TS:     protocol.NowMillis(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: encode last-will: %w", err)
	}

	qos := byte(cfg.MQTT.QoS)
	bus := mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  "station-" + cfg.StationID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		Will: &mqtt.Will{
			Topic:   protocol.StationStatusTopic(cfg.StationID),
			Payload: will,
			QoS:     qos,
			Retain:  true,
		},
	}, logger)

	kv := buskv.New(bus, qos)
	machine := state.New(kv, bus, cfg.StationID, initialCfg, logger)
	bus.Handle(machine.HandleMessage)
	healOnReconnect(bus, machine.Recover, logger)

	routes := httpserver.Routes{
		State:      handlers.NewStateHandler(machine),
		Start:      handlers.NewStartHandler(machine, logger),
		Select:     handlers.NewSelectHandler(machine),
		Dismiss:    handlers.NewDismissHandler(machine, logger),
		Reannounce: handlers.NewReannounceHandler(machine, logger),
		Health:     handlers.NewHealthHandler(),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:  server,
		bus:     bus,
		machine: machine,
		logger:  logger,
	}, nil
}

// Run connects the bus, announces the station, and serves HTTP until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.bus.Connect(ctx); err != nil {
		return err
	}
	if err := a.machine.Announce(); err != nil {
		return err
	}
	return a.server.Run(ctx)
}

// Close drops the bus connection cleanly. The retained state stays behind
// for the next boot's reset; only an unclean drop publishes DISCONNECTED.
func (a *App) Close() {
	a.bus.Disconnect()
}

type stateNotifier interface {
	OnStateChange(func(mqtt.ConnState))
}

// healOnReconnect re-runs announce every time the transport regains the
// broker. An unclean drop leaves the last-will's DISCONNECTED marker in the
// retained store; republishing the live state clears it without waiting for
// a controller's next config push.
func healOnReconnect(bus stateNotifier, announce func() error, logger *zap.Logger) {
	bus.OnStateChange(func(s mqtt.ConnState) {
		if s != mqtt.StateConnected {
			return
		}
		if err := announce(); err != nil {
			logger.Warn("re-announce after reconnect failed", zap.Error(err))
		}
	})
}
