// routes.go - Route registration helpers
package api

import (
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/exam-intake/backend/internal/config"
	"github.com/exam-intake/backend/internal/intake"
	"github.com/exam-intake/backend/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	IntakeMgr *intake.Manager
	Store     storage.Store
	Version   string
}

// Handlers holds all handler instances
type Handlers struct {
	API       *Handler
	WebSocket *WebSocketHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	h := NewHandler(deps.IntakeMgr, deps.Store, deps.Version)
	return &Handlers{
		API:       h,
		WebSocket: NewWebSocketHandler(h),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.API.HandleHealth)
	e.GET("/api/health", handlers.API.HandleHealth)

	// Tracked file collection
	filesGroup := e.Group("/api/files")
	filesGroup.POST("", handlers.API.HandleIntake)
	filesGroup.GET("", handlers.API.HandleListFiles)
	filesGroup.GET("/msgpack", handlers.API.HandleListFilesMsgpack)
	filesGroup.GET("/summary", handlers.API.HandleSummary)
	filesGroup.GET("/:id", handlers.API.HandleGetFile)
	filesGroup.GET("/:id/content", handlers.API.HandleGetFileContent)
	filesGroup.DELETE("/:id", handlers.API.HandleRemoveFile)

	// Batch upload driver
	uploadsGroup := e.Group("/api/uploads")
	uploadsGroup.POST("", handlers.API.HandleStartUpload)
	uploadsGroup.GET("/status", handlers.API.HandleUploadStatus)
	uploadsGroup.GET("/progress", handlers.API.HandleUploadProgressStream)

	// Intake rules and exam profiles
	e.GET("/api/config/intake", handlers.API.HandleGetIntakeConfig)
	e.GET("/api/exams", handlers.API.HandleListExams)
	e.GET("/api/exams/:exam", handlers.API.HandleGetExam)

	// Maintenance
	e.POST("/api/cleanup", handlers.API.HandleCleanup)
}

// RegisterWebSocketRoutes registers WebSocket routes
func RegisterWebSocketRoutes(e *echo.Echo, handlers *Handlers) {
	e.GET("/api/ws", handlers.WebSocket.HandleWebSocket)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo, cfg *config.Config) {
	e.HTTPErrorHandler = ErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// Skip noisy polling endpoints and keep SSE/WS streams uncompressed.
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/health" || p == "/api/health" ||
				strings.HasSuffix(p, "/status") || strings.HasSuffix(p, "/progress")
		},
	}))
	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return p == "/api/ws" || strings.HasSuffix(p, "/progress")
		},
	}))
}
