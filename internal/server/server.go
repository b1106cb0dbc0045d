// Package server wires configuration, persistence, the engine
// runtime, the scheduler, and the HTTP/WebSocket API into one running
// process. It is shared by the root binary and the `promptloom serve`
// CLI subcommand.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/api"
	"github.com/evanreyes/promptloom/internal/api/websocket"
	"github.com/evanreyes/promptloom/internal/engine/runtime"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/scheduler"
	"github.com/evanreyes/promptloom/internal/security"
	"github.com/evanreyes/promptloom/internal/shared/config"
	"github.com/evanreyes/promptloom/internal/shared/database"
	"github.com/evanreyes/promptloom/internal/shared/logger"
	"github.com/evanreyes/promptloom/internal/storage/models"
	"github.com/evanreyes/promptloom/internal/storage/repository"
	"github.com/evanreyes/promptloom/internal/tracing"
)

// Run loads configuration, connects to Postgres, starts the scheduler
// and HTTP server, and blocks until SIGINT/SIGTERM triggers a graceful
// shutdown.
func Run() error {
	log := logger.New()
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	tracer, err := tracing.NewTracer(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracer.Shutdown(shutdownCtx)
	}()

	cipher, err := security.NewDescriptorCipher(cfg.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to initialize descriptor encryption: %w", err)
	}

	wsHub := websocket.NewHub(log)
	go wsHub.Run()

	rt := runtime.New(runtime.Config{
		ConnectTimeout:     cfg.Engine.ConnectTimeout,
		DefaultReadTimeout: cfg.Engine.DefaultReadTimeout,
		TickInterval:       cfg.Engine.RealtimeTickInterval,
		ReservoirCapacity:  cfg.Engine.ReservoirCapacity,
		StopGracePeriod:    cfg.Engine.StopGracePeriod,
	}, log)

	taskRepo := repository.NewTaskRepository(db)
	scheduleRepo := repository.NewScheduleRepository(db)

	sched := scheduler.NewScheduler(scheduleRepo, log)
	sched.SetExecutionFunc(newScheduleExecutionFunc(rt, taskRepo, wsHub, cipher, log))
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	router := api.NewRouter(db, log, wsHub, rt, sched, cipher)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Starting promptloom API server",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server exited")
	return nil
}

// newScheduleExecutionFunc builds the scheduler.ExecutionFunc that
// re-submits a Schedule's stored TaskDescriptor to the engine runtime
// and blocks until the task reaches its terminal state, so the
// scheduler's run-history row can record a result synchronously.
func newScheduleExecutionFunc(rt *runtime.Runtime, taskRepo *repository.TaskRepository, hub *websocket.Hub, cipher *security.DescriptorCipher, log *zap.Logger) scheduler.ExecutionFunc {
	return func(ctx context.Context, descriptorJSON string) (uuid.UUID, string, error) {
		opened, err := cipher.Open(descriptorJSON)
		if err != nil {
			return uuid.Nil, "", fmt.Errorf("decrypt descriptor: %w", err)
		}
		var descriptor task.Descriptor
		if err := json.Unmarshal([]byte(opened), &descriptor); err != nil {
			return uuid.Nil, "", fmt.Errorf("decode descriptor: %w", err)
		}
		descriptor.TaskID = uuid.New()

		handle, err := rt.Start(ctx, &descriptor, scheduleTerminalSink{taskRepo}, scheduleRealtimeSink{hub})
		if err != nil {
			return uuid.Nil, "", err
		}

		now := time.Now()
		row := &models.Task{
			ID:             descriptor.TaskID,
			Name:           descriptor.Name,
			DescriptorJSON: descriptorJSON,
			State:          models.TaskStateRunning,
			StartedAt:      &now,
		}
		if err := taskRepo.Create(row); err != nil {
			log.Error("failed to persist scheduled task row", zap.Error(err))
		}
		hub.BroadcastTaskStarted(descriptor.TaskID)

		summary, err := handle.Await(ctx)
		if err != nil {
			return descriptor.TaskID, "", err
		}
		hub.BroadcastTaskStopped(descriptor.TaskID, summary)
		return descriptor.TaskID, string(summary.State), nil
	}
}

// scheduleTerminalSink and scheduleRealtimeSink mirror the
// api/handlers sinks so scheduled runs persist and broadcast the same
// way ad hoc submissions do.
type scheduleTerminalSink struct {
	repo *repository.TaskRepository
}

func (s scheduleTerminalSink) WriteSummary(ctx context.Context, summary task.Summary) error {
	summaryBytes, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	finishedAt := summary.FinishedAt
	return s.repo.UpdateSummary(summary.TaskID, models.TaskState(summary.State), string(summaryBytes), &finishedAt)
}

type scheduleRealtimeSink struct {
	hub *websocket.Hub
}

func (s scheduleRealtimeSink) WriteRealtimePoint(ctx context.Context, taskID uuid.UUID, point task.RealtimePoint) error {
	s.hub.BroadcastTaskMetric(taskID, point)
	return nil
}
