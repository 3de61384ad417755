package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	libdb "evcharge/backend/libs/db"
	libmongo "evcharge/backend/libs/mongo"
	libnats "evcharge/backend/libs/nats"
	libredis "evcharge/backend/libs/redis"
	"evcharge/backend/services/ocpp-server/internal/auth"
	"evcharge/backend/services/ocpp-server/internal/cache"
	"evcharge/backend/services/ocpp-server/internal/clients"
	"evcharge/backend/services/ocpp-server/internal/commands"
	"evcharge/backend/services/ocpp-server/internal/config"
	"evcharge/backend/services/ocpp-server/internal/events"
	"evcharge/backend/services/ocpp-server/internal/handlers"
	httpserver "evcharge/backend/services/ocpp-server/internal/http"
	"evcharge/backend/services/ocpp-server/internal/liveness"
	"evcharge/backend/services/ocpp-server/internal/models"
	"evcharge/backend/services/ocpp-server/internal/ocpp"
	"evcharge/backend/services/ocpp-server/internal/ocpp/protocol"
	"evcharge/backend/services/ocpp-server/internal/repository"
	"evcharge/backend/services/ocpp-server/internal/service"
	"evcharge/backend/services/ocpp-server/internal/ws"
)

const (
	startupTimeout  = 15 * time.Second
	hookTimeout     = 5 * time.Second
	drainTimeout    = 10 * time.Second
	webhookTimeout  = 5 * time.Second
	messageLogQueue = 4096
)

// App wires all dependencies for the OCPP server.
type App struct {
	store      repository.Store
	state      *service.StationState
	caller     *ocpp.Caller
	manager    *ws.Manager
	monitor    *liveness.Monitor
	messageLog *service.MessageLog
	publisher  events.Publisher
	responder  *events.CommandResponder
	handler    http.Handler
	server     *httpserver.Server
	closers    []func()
	logger     *zap.Logger
}

// New builds the application graph.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{state: service.NewStationState(), logger: logger}

	store, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store = store

	var authorizer handlers.Authorizer = store
	if cfg.Redis.Addr != "" {
		client, err := libredis.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		authorizer = cache.NewAuthorizationCache(client, store, cfg.AuthCacheTTL(), logger)
	}

	var natsConn *nats.Conn
	if cfg.NATS.URL != "" {
		natsConn, err = libnats.NewConnection(cfg.NATS.URL, "ocpp-server")
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: nats: %w", err)
		}
		a.closers = append(a.closers, natsConn.Close)
	}
	a.publisher = newPublisher(cfg, natsConn, logger)

	ids, err := service.NewTransactionIDs(ctx, store)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.messageLog = service.NewMessageLog(store, messageLogQueue, logger)
	a.manager = ws.NewManager(cfg.PingInterval(), ws.Hooks{
		OnConnect:    a.onConnect,
		OnDisconnect: a.onDisconnect,
	}, logger)
	a.caller = ocpp.NewCaller(a.manager, ocpp.NewPendingCalls(), a.messageLog, cfg.CallTimeout(), logger)

	router := ocpp.NewRouter()
	router.Register(protocol.ActionBootNotification, handlers.NewBootNotificationHandler(store, a.state, a.manager, cfg.HeartbeatInterval(), a.publisher, logger))
	router.Register(protocol.ActionHeartbeat, handlers.NewHeartbeatHandler(store, a.manager, logger))
	router.Register(protocol.ActionStatusNotification, handlers.NewStatusNotificationHandler(store, a.state, a.publisher, logger))
	router.Register(protocol.ActionAuthorize, handlers.NewAuthorizeHandler(authorizer, logger))
	router.Register(protocol.ActionStartTransaction, handlers.NewStartTransactionHandler(store, authorizer, ids, a.state, a.publisher, logger))
	router.Register(protocol.ActionStopTransaction, handlers.NewStopTransactionHandler(store, a.state, a.publisher, logger))
	router.Register(protocol.ActionMeterValues, handlers.NewMeterValuesHandler(store, logger))
	router.Register(protocol.ActionDataTransfer, handlers.NewDataTransferHandler(logger))
	processor := ocpp.NewProcessor(ocpp.NewParser(), router, a.caller, a.messageLog, logger)

	wsServer := ws.NewServer(a.manager, processor, auth.NewAdmission(store, cfg.Security.RequireBasicAuth), ws.Options{
		WriteTimeout: cfg.WriteTimeout(),
		PongWait:     2 * cfg.PingInterval(),
		ReadLimit:    cfg.ReadLimit(),
	}, logger)
	a.monitor = liveness.NewMonitor(a.manager, cfg.LivenessSweep(), cfg.LivenessTimeout(), logger)

	dispatcher := commands.NewDispatcher(a.caller, a.manager, cfg.CallTimeout(), logger)
	if natsConn != nil && cfg.NATS.CommandSubject != "" {
		a.responder = events.NewCommandResponder(natsConn, cfg.NATS.CommandSubject, dispatcher, cfg.CallTimeout(), logger)
	}

	deps := httpserver.RouterDeps{
		Queries:        service.NewOperator(a.manager, a.state, store),
		Commands:       dispatcher,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		OCPPPath:       cfg.OCPP.Path,
		OCPPHandler:    wsServer.HandleWS,
		Logger:         logger,
	}
	if cfg.Security.JWTSecret != "" {
		deps.Tokens = auth.NewTokenValidator(cfg.Security.JWTSecret)
	}
	a.handler = httpserver.NewRouter(deps)
	a.server = httpserver.NewServer(cfg.HTTPAddress(), a.handler, logger)

	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := libdb.NewPostgresPool(ctx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("app: postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		store := repository.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMongo:
		db, err := libmongo.NewMongoDatabase(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, fmt.Errorf("app: mongo: %w", err)
		}
		a.closers = append(a.closers, func() {
			disconnectCtx, cancel := context.WithTimeout(context.Background(), hookTimeout)
			defer cancel()
			_ = db.Client().Disconnect(disconnectCtx)
		})
		store := repository.NewMongoStore(db)
		if err := store.EnsureIndexes(ctx); err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverMemory:
		a.logger.Warn("using in-memory store, data is lost on restart")
		return repository.NewMemoryStore(cfg.Store.ChargePoints, cfg.Store.IdTags), nil
	default:
		return nil, fmt.Errorf("app: unknown store driver %q", cfg.Store.Driver)
	}
}

func newPublisher(cfg *config.Config, natsConn *nats.Conn, logger *zap.Logger) events.Publisher {
	var sinks events.Fanout
	if natsConn != nil {
		sinks = append(sinks, events.NewNATSPublisher(natsConn, cfg.NATS.SubjectPrefix))
	}
	if cfg.Webhook.URL != "" {
		sinks = append(sinks, events.NewWebhookPublisher(clients.NewWebhookClient(cfg.Webhook.URL, webhookTimeout, logger)))
	}
	switch len(sinks) {
	case 0:
		return events.Noop{}
	case 1:
		return sinks[0]
	default:
		return sinks
	}
}

func (a *App) onConnect(chargePointID string) {
	go a.publish(events.New(events.TypeChargePointConnected, chargePointID))
}

// onDisconnect fails outstanding calls and marks the charge point offline.
func (a *App) onDisconnect(chargePointID, reason string) {
	failed := a.caller.FailAll(chargePointID)
	a.state.Drop(chargePointID)

	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := a.store.UpdateChargePointStatus(ctx, chargePointID, models.ChargePointOffline, time.Now().UTC()); err != nil && !errors.Is(err, repository.ErrNotFound) {
		a.logger.Warn("failed to mark charge point offline", zap.String("charge_point_id", chargePointID), zap.Error(err))
	}

	event := events.New(events.TypeChargePointOffline, chargePointID)
	event.Data = map[string]interface{}{"reason": reason}
	go a.publish(event)

	a.logger.Info("charge point offline",
		zap.String("charge_point_id", chargePointID),
		zap.String("reason", reason),
		zap.Int("failed_calls", failed),
	)
}

// publish delivers an event outside the connection goroutine.
func (a *App) publish(event events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()
	if err := a.publisher.Publish(ctx, event); err != nil {
		a.logger.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.String("charge_point_id", event.ChargePointID),
			zap.Error(err),
		)
	}
}

// Handler exposes the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Run starts manager, liveness monitor, command responder and HTTP server.
// It returns once the HTTP server has stopped and the monitor has exited.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.manager.Start(ctx)

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		a.monitor.Run(ctx)
	}()

	if a.responder != nil {
		if err := a.responder.Start(); err != nil {
			return err
		}
	}

	err := a.server.Run(ctx)
	cancel()
	<-monitorDone
	return err
}

// Close releases resources.
func (a *App) Close() {
	if a.responder != nil {
		if err := a.responder.Stop(); err != nil {
			a.logger.Warn("failed to drain command subscription", zap.Error(err))
		}
	}
	if a.manager != nil {
		a.manager.CloseAll(websocket.CloseGoingAway, "server shutting down")
	}
	if a.messageLog != nil {
		ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()
		if err := a.messageLog.Close(ctx); err != nil {
			a.logger.Warn("message log not drained", zap.Error(err))
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
