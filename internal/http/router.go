package http

import (
	"github.com/gin-gonic/gin"
)

// NewRouter creates and configures the HTTP router with all endpoints.
func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	healthController := NewHealthController(cfg.Database, cfg.Sessions, cfg.Version)
	router.GET("/health", healthController.Status)

	api := router.Group("/api")

	if cfg.Sessions != nil {
		sessionController := NewSessionController(cfg.Sessions)
		api.GET("/session", sessionController.Current)
		api.POST("/session", sessionController.SignIn)
		api.DELETE("/session", sessionController.SignOut)
	}

	// Uploads
	uploadsController := NewUploadsController(cfg.Transfers, cfg.Queue, cfg.TaskClient)
	api.GET("/uploads", uploadsController.ListPending)
	api.POST("/uploads", uploadsController.Upload)
	api.POST("/uploads/resume", uploadsController.Resume)
	api.POST("/uploads/replay", uploadsController.Replay)
	api.POST("/uploads/cancel", uploadsController.Cancel)

	// Books and downloads
	booksController := NewBooksController(cfg.Transfers)
	api.POST("/books/:id/download", booksController.Download)
	api.DELETE("/books/:id", booksController.Delete)
	api.POST("/downloads", booksController.DownloadMany)
	api.GET("/download-url", booksController.DownloadURL)

	// Local library state
	libraryController := NewLibraryController(cfg.Files, cfg.Queue, cfg.Reconciler, cfg.Progress, cfg.TaskClient)
	api.GET("/files", libraryController.ListFiles)
	api.GET("/files/*filepath", libraryController.GetFile)
	api.POST("/library/reconcile", libraryController.Reconcile)
	api.POST("/library/collect", libraryController.CollectOrphans)
	api.GET("/status", libraryController.Status)

	// Task queue endpoints (only if task client is configured)
	if cfg.TaskClient != nil {
		tasksController := NewTasksController(cfg.TaskClient)
		api.GET("/tasks/types", tasksController.ListTaskTypes)
		api.GET("/tasks/:id", tasksController.GetTaskStatus)
		api.POST("/tasks/:type/run", tasksController.RunTask)
	}

	return router
}
