package ws

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
)

// ErrRejected marks an admission refusal, as opposed to a failure to decide.
var ErrRejected = errors.New("ws: connection rejected")

// ChargePointIDParam is the chi URL parameter carrying the charge point id.
const ChargePointIDParam = "chargePointId"

var validChargePointID = regexp.MustCompile(`^[A-Za-z0-9_.:\-]{1,48}$`)

// Admitter decides whether a charge point may connect. password is the HTTP
// Basic auth password, empty when none was sent.
type Admitter interface {
	Admit(ctx context.Context, chargePointID, password string) error
}

// Server upgrades HTTP connections to WebSockets for OCPP.
type Server struct {
	manager   *Manager
	processor MessageProcessor
	admitter  Admitter
	opts      Options
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(manager *Manager, processor MessageProcessor, admitter Admitter, opts Options, logger *zap.Logger) *Server {
	return &Server{
		manager:   manager,
		processor: processor,
		admitter:  admitter,
		opts:      opts.withDefaults(),
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{protocol.Subprotocol16},
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for the /ocpp/{chargePointId} endpoint.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	chargePointID := chi.URLParam(r, ChargePointIDParam)

	if !offersSubprotocol(r, protocol.Subprotocol16) {
		s.logger.Warn("refusing upgrade without ocpp1.6 subprotocol", zap.String("charge_point_id", chargePointID))
		http.Error(w, "ocpp1.6 subprotocol required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	if !validChargePointID.MatchString(chargePointID) {
		s.reject(conn, chargePointID, websocket.ClosePolicyViolation, "invalid charge point id")
		return
	}

	_, password, _ := r.BasicAuth()
	if err := s.admitter.Admit(r.Context(), chargePointID, password); err != nil {
		if errors.Is(err, ErrRejected) {
			s.logger.Warn("charge point rejected", zap.String("charge_point_id", chargePointID), zap.Error(err))
			s.reject(conn, chargePointID, websocket.ClosePolicyViolation, "charge point not authorized")
			return
		}
		s.logger.Error("admission check failed", zap.String("charge_point_id", chargePointID), zap.Error(err))
		s.reject(conn, chargePointID, websocket.CloseInternalServerErr, "admission unavailable")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	connection := NewConnection(chargePointID, r.RemoteAddr, conn, s.processor, s.opts, s.logger, func(c *Connection) {
		s.manager.Remove(c.ChargePointID(), c, "connection closed")
		cancel()
	})
	s.manager.Register(connection)

	go connection.Start(ctx)
	s.logger.Info("charge point connected", zap.String("charge_point_id", chargePointID), zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) reject(conn *websocket.Conn, chargePointID string, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.opts.WriteTimeout)); err != nil {
		s.logger.Debug("close frame not delivered", zap.String("charge_point_id", chargePointID), zap.Error(err))
	}
	_ = conn.Close()
}

func offersSubprotocol(r *http.Request, want string) bool {
	for _, p := range websocket.Subprotocols(r) {
		if p == want {
			return true
		}
	}
	return false
}
