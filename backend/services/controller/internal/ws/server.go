package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// SnapshotSource yields the current fleet snapshot pushed to a kiosk right
// after it connects.
type SnapshotSource interface {
	Snapshot() ([]byte, error)
}

// Server upgrades HTTP connections to WebSockets for kiosk live updates.
type Server struct {
	manager      *Manager
	source       SnapshotSource
	logger       *zap.Logger
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, source SnapshotSource, writeTimeout time.Duration, logger *zap.Logger) *Server {
	return &Server{
		manager:      manager,
		source:       source,
		logger:       logger,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is HTTP handler for the /ws endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(id, conn, s.writeTimeout, s.logger, func(connID string) {
		s.manager.Remove(connID)
		cancel()
	})
	s.manager.Add(connection)

	go connection.Start(ctx)

	if snapshot, err := s.source.Snapshot(); err == nil {
		connection.Send(snapshot)
	} else {
		s.logger.Warn("failed to build initial snapshot", zap.Error(err))
	}
	s.logger.Info("kiosk connected", zap.String("conn_id", id))
}
