package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"parlor/internal/api"
	"parlor/internal/auth"
	"parlor/internal/config"
	"parlor/internal/hub"
	"parlor/internal/router"
	"parlor/internal/session"
	"parlor/internal/store"
	"parlor/internal/websocket"
	"parlor/pkg/interfaces"
)

// Application coordinates all system components. Initialization follows
// dependency order: store, lifecycle manager, registry, hub, router,
// gateway, HTTP server.
type Application struct {
	config         *config.Config
	sessionStore   interfaces.SessionStore
	sessionManager *session.Manager
	registry       *websocket.Registry
	messageRouter  *router.Router
	channelHub     *hub.Hub
	sweeper        *session.Sweeper
	httpServer     *http.Server

	cancelBackground context.CancelFunc
}

// NewApplication builds the component graph from cfg.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	sessionStore, err := buildStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}

	sessionManager := session.NewManager(sessionStore, session.Config{
		HumanQuota:       cfg.Session.HumanQuota,
		JoinCodeLength:   cfg.Session.JoinCodeLength,
		JoinCodeAttempts: cfg.Session.JoinCodeAttempts,
		CASRetries:       cfg.Session.CASRetries,
	})

	registry := websocket.NewRegistry()

	channelHub := hub.NewHub(registry, sessionManager)
	messageRouter := router.NewRouter(registry, channelHub, cfg.WebSocket.MessagesPerMinute)
	channelHub.SetRouter(messageRouter)

	// Lifecycle transitions drive hub open/teardown through the event
	// interface, so the manager never imports the hub.
	sessionManager.SetEvents(channelHub)

	verifier, err := buildVerifier(cfg.Auth)
	if err != nil {
		_ = sessionStore.Close()
		return nil, err
	}

	wsHandler := websocket.NewHandler(channelHub, sessionManager, verifier, websocket.Config{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		BufferSize:   cfg.WebSocket.BufferSize,
	})

	notifier := api.NewAINotifier(cfg.AI.ServiceURL, websocketURL(cfg.HTTP), cfg.AI.Timeout)
	apiServer := api.NewServer(sessionManager, sessionStore, channelHub, verifier, notifier, http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer.Router(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:         cfg,
		sessionStore:   sessionStore,
		sessionManager: sessionManager,
		registry:       registry,
		messageRouter:  messageRouter,
		channelHub:     channelHub,
		sweeper:        session.NewSweeper(sessionManager, cfg.Session.SweepInterval),
		httpServer:     httpServer,
	}, nil
}

// buildStore selects the configured session store backend.
func buildStore(cfg *config.StoreConfig) (interfaces.SessionStore, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.NewSQLiteStore(cfg.SQLitePath)
	case "mongo":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return store.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		return store.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildVerifier selects the configured token verifier.
func buildVerifier(cfg *config.AuthConfig) (interfaces.TokenVerifier, error) {
	switch cfg.Mode {
	case "jwt":
		return auth.NewJWTVerifier([]byte(cfg.SigningKey), cfg.Issuer)
	case "static":
		log.Println("Auth mode static: development tokens only, do not expose publicly")
		return auth.NewStaticVerifierFromEnv(), nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// websocketURL is the attach URL advertised to the AI service.
func websocketURL(cfg *config.HTTPConfig) string {
	host := cfg.Host
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("ws://%s:%d/ws", host, cfg.Port)
}

// Start launches background workers and the HTTP server, verifying the
// listener came up before returning.
func (app *Application) Start(ctx context.Context) error {
	log.Printf("Starting parlor application on %s", app.httpServer.Addr)

	bgCtx, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel
	go app.sweeper.Run(bgCtx)
	app.messageRouter.StartCleanup(bgCtx, 5*time.Minute)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		cancel()
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("Parlor application started successfully")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

// Stop shuts down in reverse dependency order: HTTP listener, then
// background workers, then the store.
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down parlor application")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	if app.cancelBackground != nil {
		app.cancelBackground()
	}

	if err := app.sessionStore.Close(); err != nil {
		log.Printf("Session store shutdown error: %v", err)
	}

	log.Printf("Parlor application shutdown complete")
	return nil
}

// GetAddr returns the server address for external connections.
func (app *Application) GetAddr() string {
	return app.httpServer.Addr
}
