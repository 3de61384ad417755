package httpserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"evcharge/backend/services/ocpp-server/internal/auth"
	"evcharge/backend/services/ocpp-server/internal/metrics"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/service"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

// Queries answers operator read requests.
type Queries interface {
	ListConnected() []service.ConnectedChargePoint
	ChargePointStatus(ctx context.Context, chargePointID string) (*service.ChargePointView, error)
	ActiveTransactions(ctx context.Context) ([]models.Transaction, error)
}

// Commands sends operator commands to charge points.
type Commands interface {
	RemoteStart(ctx context.Context, chargePointID, idTag string, connectorID int) (bool, error)
	RemoteStop(ctx context.Context, chargePointID string, transactionID int64) (bool, error)
	UnlockConnector(ctx context.Context, chargePointID string, connectorID int) (bool, error)
	Reset(ctx context.Context, chargePointID, resetType string) (bool, error)
	TriggerMessage(ctx context.Context, chargePointID, requestedMessage string, connectorID *int) (bool, error)
	ChangeAvailability(ctx context.Context, chargePointID string, connectorID int, availabilityType string) (bool, error)
}

// TokenValidator verifies operator bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// RouterDeps collects handler dependencies.
type RouterDeps struct {
	Queries        Queries
	Commands       Commands
	Tokens         TokenValidator
	AllowedOrigins []string
	OCPPPath       string
	OCPPHandler    http.HandlerFunc
	Logger         *zap.Logger
}

// NewRouter wires the device endpoint and the operator API. With no token
// validator the API is open.
func NewRouter(deps RouterDeps) http.Handler {
	h := &apiHandlers{queries: deps.Queries, commands: deps.Commands, logger: deps.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	if deps.OCPPHandler != nil {
		path := deps.OCPPPath
		if path == "" {
			path = "/ocpp"
		}
		r.Get(path+"/{"+ws.ChargePointIDParam+"}", deps.OCPPHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.New(cors.Options{
			AllowedOrigins: deps.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
		}).Handler)
		if deps.Tokens != nil {
			r.Use(authenticate(deps.Tokens))
		}

		r.Get("/charge-points", h.listConnected)
		r.Get("/charge-points/{id}", h.chargePointStatus)
		r.Get("/transactions/active", h.activeTransactions)

		r.Group(func(r chi.Router) {
			if deps.Tokens != nil {
				r.Use(requireCommandRole)
			}
			r.Post("/charge-points/{id}/remote-start", h.remoteStart)
			r.Post("/charge-points/{id}/remote-stop", h.remoteStop)
			r.Post("/charge-points/{id}/unlock", h.unlock)
			r.Post("/charge-points/{id}/reset", h.reset)
			r.Post("/charge-points/{id}/trigger", h.trigger)
			r.Post("/charge-points/{id}/availability", h.availability)
		})
	})

	return r
}
