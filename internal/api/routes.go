package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/evanreyes/promptloom/internal/api/handlers"
	"github.com/evanreyes/promptloom/internal/api/middleware"
	"github.com/evanreyes/promptloom/internal/api/websocket"
	"github.com/evanreyes/promptloom/internal/engine/runtime"
	"github.com/evanreyes/promptloom/internal/scheduler"
	"github.com/evanreyes/promptloom/internal/security"
	"github.com/evanreyes/promptloom/internal/storage/repository"
	"github.com/evanreyes/promptloom/internal/tracing"
)

// NewRouter creates and configures the API router
func NewRouter(db *gorm.DB, logger *zap.Logger, wsHub *websocket.Hub, rt *runtime.Runtime, sched *scheduler.Scheduler, cipher *security.DescriptorCipher) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS())
	router.Use(tracing.Middleware("promptloom"))

	taskRepo := repository.NewTaskRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	healthHandler := handlers.NewHealthHandler(db)
	taskHandler := handlers.NewTaskHandler(rt, taskRepo, wsHub, logger)
	scheduleHandler := handlers.NewScheduleHandler(scheduleRepo, sched, cipher, logger)
	wsHandler := websocket.NewHandler(wsHub, logger)

	router.GET("/health", healthHandler.Check)

	v1 := router.Group("/api/v1")
	{
		tasks := v1.Group("/tasks")
		{
			tasks.POST("", taskHandler.Create)
			tasks.GET("", taskHandler.List)
			tasks.GET("/:id", taskHandler.Get)
			tasks.POST("/:id/stop", taskHandler.Stop)
			tasks.GET("/:id/metrics", taskHandler.Metrics)
			tasks.DELETE("/:id", taskHandler.Delete)
		}

		schedules := v1.Group("/schedules")
		{
			schedules.POST("", scheduleHandler.Create)
			schedules.GET("", scheduleHandler.List)
			schedules.GET("/presets", scheduleHandler.GetPresets)
			schedules.POST("/validate-cron", scheduleHandler.ValidateCron)
			schedules.GET("/:id", scheduleHandler.Get)
			schedules.PUT("/:id", scheduleHandler.Update)
			schedules.DELETE("/:id", scheduleHandler.Delete)
			schedules.POST("/:id/pause", scheduleHandler.Pause)
			schedules.POST("/:id/resume", scheduleHandler.Resume)
			schedules.POST("/:id/trigger", scheduleHandler.Trigger)
			schedules.GET("/:id/runs", scheduleHandler.GetRuns)
			schedules.GET("/:id/stats", scheduleHandler.GetStats)
		}
	}

	router.GET("/ws/tasks/:id", wsHandler.HandleConnection)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}
