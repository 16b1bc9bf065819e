package entrypoint

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/miroshar-success/book-adapter-epub/internal/config"
	"github.com/miroshar-success/book-adapter-epub/internal/entities"
	http_controllers "github.com/miroshar-success/book-adapter-epub/internal/http"
)

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

func Serve(router *gin.Engine, cfg *config.Config, onShutdown ShutdownFunc) {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting server at %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("Shutdown Server, waiting %v before killing", timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop background work first so nothing new starts during shutdown
	if onShutdown != nil {
		onShutdown(ctx)
	}

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}

	log.Println("Server exiting")
}

// NewRouter builds the HTTP API over app.
func NewRouter(app *App, version string) *gin.Engine {
	routerCfg := http_controllers.RouterConfig{
		Transfers:  app.Transfers,
		Reconciler: app.Reconciler,
		Files:      app.Files,
		Queue:      app.Queue,
		Database:   app.DB,
		Progress:   make(map[entities.SyncType]http_controllers.ProgressReader, len(app.Progress)),
		Version:    version,
	}
	for syncType, repo := range app.Progress {
		routerCfg.Progress[syncType] = repo
	}
	// Typed nils must not reach the router as non-nil interfaces.
	if app.Sessions != nil {
		routerCfg.Sessions = app.Sessions
	}
	if app.Tasks != nil {
		routerCfg.TaskClient = app.Tasks
	}
	return http_controllers.NewRouter(routerCfg)
}

func Run(cfg *config.Config, version string) {
	if err := ConfigureLogging(cfg.Log); err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}
	log.Printf("Starting book-adapter-epub v%s", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := Build(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("Error closing resources: %v", err)
		}
	}()

	if err := app.Start(ctx); err != nil {
		log.Fatalf("Failed to start background work: %v", err)
	}

	router := NewRouter(app, version)

	onShutdown := func(ctx context.Context) {
		app.Stop(ctx)
		cancel()
	}

	Serve(router, cfg, onShutdown)
}
