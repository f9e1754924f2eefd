package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"chatrelay/internal/api"
	"chatrelay/internal/auth"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/directory"
	"chatrelay/internal/hub"
	"chatrelay/internal/logging"
	"chatrelay/internal/ratelimit"
	"chatrelay/internal/registry"
	"chatrelay/internal/session"
	"chatrelay/internal/store"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
)

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *zap.Logger
	dbManager  *database.Manager
	store      *store.MessageStore
	registry   *registry.Registry
	limiter    *ratelimit.Limiter
	messageHub *hub.Hub
	sessions   *session.Manager
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopJan  context.CancelFunc
	janDone  chan struct{}
	serveErr chan error
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Store → Directory → Registry → Limiter → Hub → Sessions → WebSocket → API → HTTP
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger = logging.OrNop(logger)

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{config: cfg, logger: logger}

	// STEP 1: Initialize database manager when a component needs it
	if cfg.UsesDatabase() {
		db, err := database.NewManager(DatabaseConfig(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database manager: %w", err)
		}
		app.dbManager = db
	}

	// STEP 2: Message store over the configured backend
	backend, err := app.openMessageLog()
	if err != nil {
		app.closeDatabase()
		return nil, err
	}
	app.store = store.NewMessageStore(backend, cfg.Store.Timeout, logger)

	// STEP 3: Conversation directory and identity provider
	var dir interfaces.Directory = directory.Open{}
	if cfg.Directory.Mode == config.DirectoryDatabase {
		dir = directory.New(app.dbManager, directory.DefaultCacheTTL, logger)
	}
	identity, err := auth.NewProvider(cfg.Auth.Mode, cfg.Auth.Secret, cfg.Auth.Issuer)
	if err != nil {
		_ = app.store.Close()
		app.closeDatabase()
		return nil, fmt.Errorf("failed to initialize identity provider: %w", err)
	}

	// STEP 4: Broadcast core
	app.registry = registry.NewRegistry()
	app.limiter = ratelimit.NewLimiter(cfg.RateLimit.MaxPerWindow, cfg.RateLimit.Window, ratelimit.WithLogger(logger))
	app.messageHub = hub.NewHub(app.registry, logger)
	app.sessions = session.NewManager(app.registry, app.messageHub, app.limiter, app.store, session.Config{
		HistoryLimit:     cfg.Session.HistoryLimit,
		MaxContentLength: cfg.Session.MaxContentLength,
	}, logger)

	// STEP 5: Transport and monitoring API
	app.wsHandler = websocket.NewHandler(app.sessions, identity, dir, websocket.Config{
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		BufferSize:     cfg.WebSocket.BufferSize,
		MaxFrameSize:   cfg.WebSocket.MaxFrameSize,
		AllowedOrigins: cfg.WebSocket.AllowedOrigins,
	}, logger)

	app.apiServer = api.NewServer(app.registry, app.messageHub, app.limiter, logger)
	app.apiServer.AddHealthCheck("store", app.store.Ping)
	if app.dbManager != nil {
		app.apiServer.AddHealthCheck("database", app.dbManager.HealthCheck)
	}

	// STEP 6: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	app.apiServer.Register(mux)
	app.wsHandler.Register(mux)

	app.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return app, nil
}

// DatabaseConfig maps the application config onto the database manager's
func DatabaseConfig(cfg *config.Config) *database.Config {
	dbConfig := database.DefaultConfig()
	dbConfig.Path = cfg.Database.Path
	dbConfig.WriteTimeout = cfg.Database.Timeout
	return dbConfig
}

func (app *Application) openMessageLog() (interfaces.MessageLog, error) {
	cfg := app.config
	switch cfg.Store.Backend {
	case config.StoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Store.Timeout)
		defer cancel()
		log, err := store.NewRedisLog(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			MaxLen:   cfg.Store.MaxLength,
			TTL:      cfg.Store.TTL,
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect message store: %w", err)
		}
		return log, nil
	case config.StoreSQLite:
		return store.NewSQLiteLog(app.dbManager, cfg.Store.MaxLength), nil
	default:
		return store.NewMemoryLog(cfg.Store.MaxLength), nil
	}
}

func (app *Application) closeDatabase() {
	if app.dbManager != nil {
		_ = app.dbManager.Close()
	}
}

// Start begins application execution
// Startup coordination ensures all components ready before serving
// Hub starts first to handle messages, then HTTP server accepts connections
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return errors.New("application already started")
	}

	// STEP 1: Start message hub
	if err := app.messageHub.Start(); err != nil {
		return fmt.Errorf("failed to start message hub: %w", err)
	}

	// STEP 2: Bind the listener so address errors surface synchronously
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.messageHub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = ln

	// STEP 3: Limiter janitor
	janCtx, stop := context.WithCancel(context.Background())
	app.stopJan = stop
	app.janDone = make(chan struct{})
	go func() {
		defer close(app.janDone)
		app.limiter.Run(janCtx, app.config.RateLimit.CleanupInterval, app.config.RateLimit.IdleTTL)
	}()

	// STEP 4: Serve
	app.serveErr = make(chan error, 1)
	go func() {
		if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("HTTP server error", zap.Error(err))
			app.serveErr <- err
		}
		close(app.serveErr)
	}()

	app.logger.Info("chatrelay started",
		zap.String("addr", ln.Addr().String()),
		zap.String("store", app.config.Store.Backend),
		zap.String("directory", app.config.Directory.Mode),
		zap.String("auth", app.config.Auth.Mode),
	)
	return nil
}

// Errors reports a fatal serve error; it is closed when serving ends
func (app *Application) Errors() <-chan error {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.serveErr
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → connections → Hub → Store → Database
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down chatrelay")
	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Close live sockets and sweep anything left in the registry
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}
	closed := app.sessions.CloseAll()
	for _, conn := range app.registry.Drain() {
		_ = conn.Close()
	}
	app.logger.Debug("connections closed", zap.Int("sessions", closed))

	// STEP 3: Stop background work
	app.mu.Lock()
	if app.stopJan != nil {
		app.stopJan()
		<-app.janDone
		app.stopJan = nil
	}
	app.mu.Unlock()
	if err := app.messageHub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("message hub shutdown: %w", err))
	}

	// STEP 4: Release backends
	if err := app.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("message store close: %w", err))
	}
	if app.dbManager != nil {
		if err := app.dbManager.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	app.logger.Info("chatrelay shutdown complete")
	return errors.Join(errs...)
}

// Addr returns the bound listener address, or the configured one before Start
func (app *Application) Addr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Handler returns the root HTTP handler
func (app *Application) Handler() http.Handler {
	return app.httpServer.Handler
}
