package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SphrGhfri/tabchat/api/ws"
	"github.com/SphrGhfri/tabchat/config"
	"github.com/SphrGhfri/tabchat/internal/relay"
	"github.com/SphrGhfri/tabchat/pkg/logger"
)

// App represents the relay server holding all dependencies
type App struct {
	cfg        config.Config
	logger     logger.Logger
	hub        *relay.Hub
	httpServer *http.Server
	rootCtx    context.Context
	cancel     context.CancelFunc
}

// NewApp initializes and connects all relay server dependencies
func NewApp(cfg config.Config) (*App, error) {
	baseLogger := logger.NewLogger(cfg.LogLevel, cfg.LogFile)
	rootCtx := logger.NewContext(context.Background(), baseLogger)
	rootCtx, rootCancel := context.WithCancel(rootCtx)

	log := logger.FromContext(rootCtx).WithModule("app")
	log.Infof("Initializing relay components...")

	hub := relay.NewHub()
	go hub.Run()

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: ws.SetupWebSocketRoutes(ws.WSConfig{
			Hub:     hub,
			RootCtx: rootCtx,
		}),
	}

	app := &App{
		cfg:        cfg,
		logger:     log,
		hub:        hub,
		httpServer: httpServer,
		rootCtx:    rootCtx,
		cancel:     rootCancel,
	}

	log.Infof("Relay initialized successfully")
	return app, nil
}

// Start runs the relay and handles graceful shutdown on signal
func (a *App) Start() error {
	log := a.logger.WithFields(map[string]interface{}{
		"port": a.cfg.Port,
	})

	log.Infof("Starting relay server")

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithFields(map[string]interface{}{
				"error": err.Error(),
			}).Fatalf("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.WithFields(map[string]interface{}{
		"signal": sig.String(),
	}).Warnf("Received shutdown signal")

	return a.Stop()
}

// Stop gracefully shuts down the server and closes all connections
func (a *App) Stop() error {
	a.logger.Infof("Initiating graceful shutdown")

	a.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Errorf("HTTP server shutdown error: %v", err)
	}

	a.logger.Infof("Closing relay hub")
	a.hub.Close()

	a.logger.Infof("Shutdown completed successfully")
	return nil
}
