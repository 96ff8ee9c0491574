package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/faithlink/presence-service/internal/config"
	"github.com/faithlink/presence-service/internal/database"
	"github.com/faithlink/presence-service/internal/handler"
	"github.com/faithlink/presence-service/internal/model"
	"github.com/faithlink/presence-service/internal/router"
	"github.com/faithlink/presence-service/internal/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket presence application.
type API struct {
	cfg      *config.Config
	srv      *http.Server
	db       *gorm.DB
	registry *service.PresenceRegistry
	logger   *zap.Logger
}

// NewAPI creates the API application: validates config, runs migrations,
// opens the database, and wires registry, hub, aggregator, and handlers.
func NewAPI(cfg *config.Config) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	hub := service.NewBroadcastHub(cfg.WSReadBufferSize, cfg.WSWriteBufferSize, logger)
	store := service.NewGormSessionStore(db)
	registry := service.NewPresenceRegistry(store, hub, cfg.HeartbeatGrace(), logger)
	aggregator := service.NewAggregator(registry, cfg.PresenceTopSessions)

	presence := handler.NewPresenceHandler(registry, aggregator, store, cfg)
	presenceWS := handler.NewPresenceWSHandler(hub, registry, cfg, logger)
	health := handler.NewHealthHandler()

	r := router.New(presence, presenceWS, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No Read/WriteTimeout: websocket connections outlive both.
	}

	return &API{cfg: cfg, srv: srv, db: db, registry: registry, logger: logger}, nil
}

// Run starts the janitor and HTTP server and blocks until ctx is cancelled;
// then force-ends remaining live sessions and shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", a.srv.Addr)
	log.Printf("  Health:        %s/health", base)
	log.Printf("  Live:          %s/presence/live", base)
	log.Printf("  Overview:      %s/presence/overview", base)
	log.Printf("  Sessions:      %s/sessions", base)
	log.Printf("  WebSocket:     ws://%s:%s/ws/presence", host, a.cfg.HTTPPort)

	a.registry.Start(ctx)

	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()

	// No phantom live rows after a restart: end whatever is still live
	// before draining the server.
	a.registry.StopAll(model.StopReasonShutdown)
	_ = a.logger.Sync()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
