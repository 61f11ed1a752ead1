package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brewfleet/backend/libs/buskv"
	"brewfleet/backend/libs/catalog"
	"brewfleet/backend/libs/mqtt"
	"brewfleet/backend/libs/protocol"
	"brewfleet/backend/services/controller/internal/clients"
	"brewfleet/backend/services/controller/internal/config"
	"brewfleet/backend/services/controller/internal/coordinator"
	httpserver "brewfleet/backend/services/controller/internal/http"
	"brewfleet/backend/services/controller/internal/http/handlers"
	"brewfleet/backend/services/controller/internal/metrics"
	"brewfleet/backend/services/controller/internal/ws"
)

// App wires controller service dependencies.
type App struct {
	server  *httpserver.Server
	bus     *mqtt.Client
	coord   *coordinator.Coordinator
	manager *ws.Manager
	logger  *zap.Logger
}

// New constructs application components.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	var cat *catalog.Catalog
	if cfg.Catalog.Path != "" {
		loaded, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		cat = loaded
		logger.Info("drink catalog loaded",
			zap.String("path", cfg.Catalog.Path), zap.Int("entries", cat.Len()))
	} else {
		logger.Warn("no drink catalog configured, start events need retained configs")
	}

	// The session id is fixed before the transport connects so the armed
	// last-will resolves exactly this session's presence key.
	sessionID := uuid.NewString()
	will, err := json.Marshal(protocol.Presence{
		ID:    sessionID,
		State: protocol.PresenceOffline,
		TS:    protocol.NowMillis(),
	})
	if err != nil {
		return nil, fmt.Errorf("app: encode last-will: %w", err)
	}

	qos := byte(cfg.MQTT.QoS)
	bus := mqtt.NewClient(mqtt.Config{
		BrokerURL: cfg.MQTT.BrokerURL,
		ClientID:  "controller-" + sessionID,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		Will: &mqtt.Will{
			Topic:   protocol.ControllerPresenceTopic(sessionID),
			Payload: will,
			QoS:     qos,
			Retain:  true,
		},
	}, logger)

	kv := buskv.New(bus, qos)
	trigger := clients.NewGPIOClient(cfg.Gateway.BaseURL, logger)
	coord := coordinator.New(bus, kv, trigger, cat,
		coordinator.Durations{HotMs: cfg.Durations.HotMs, ColdMs: cfg.Durations.ColdMs},
		coordinator.NewRealClock(), sessionID, logger)
	bus.Handle(coord.HandleMessage)
	refreshOnReconnect(bus, coord.RefreshNetwork, logger)

	manager := ws.NewManager(30 * time.Second)
	coord.SetOnChange(func() {
		if manager.Count() == 0 {
			return
		}
		snapshot, err := coord.Snapshot()
		if err != nil {
			logger.Warn("failed to encode fleet snapshot", zap.Error(err))
			return
		}
		manager.Broadcast(snapshot)
	})
	wsServer := ws.NewServer(manager, coord, 10*time.Second, logger)

	routes := httpserver.Routes{
		Stations:       handlers.NewStationsHandler(coord),
		Controllers:    handlers.NewControllersHandler(coord),
		Orders:         handlers.NewOrdersHandler(coord, logger),
		NetworkRefresh: handlers.NewNetworkRefreshHandler(coord, logger),
		Health:         handlers.NewHealthHandler(),
		Metrics:        promhttp.Handler(),
		WS:             http.HandlerFunc(wsServer.HandleWS),
	}

	router := httpserver.NewRouter(routes)
	server := httpserver.NewServer(cfg.HTTPAddress(), router, logger)

	return &App{
		server:  server,
		bus:     bus,
		coord:   coord,
		manager: manager,
		logger:  logger,
	}, nil
}

// Run connects the bus, announces this controller, and serves HTTP until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.bus.Connect(ctx); err != nil {
		return err
	}
	if err := a.coord.Announce(); err != nil {
		return err
	}

	go a.manager.Start(ctx)
	return a.server.Run(ctx)
}

// Close resolves presence to OFFLINE and drops the bus connection.
func (a *App) Close() {
	a.coord.Shutdown()
	a.bus.Disconnect()
}

type stateNotifier interface {
	OnStateChange(func(mqtt.ConnState))
}

// refreshOnReconnect re-runs the network refresh every time the transport
// regains the broker. The last-will may have resolved this session's
// presence to OFFLINE during the outage; republishing presence and the
// config table heals both this controller and any station the stations'
// own last-wills marked disconnected.
func refreshOnReconnect(bus stateNotifier, refresh func() error, logger *zap.Logger) {
	bus.OnStateChange(func(s mqtt.ConnState) {
		if s != mqtt.StateConnected {
			return
		}
		if err := refresh(); err != nil {
			logger.Warn("network refresh after reconnect failed", zap.Error(err))
		}
	})
}
