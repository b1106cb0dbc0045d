package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/api/websocket"
	"github.com/evanreyes/promptloom/internal/engine/runtime"
	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/storage/models"
	"github.com/evanreyes/promptloom/internal/storage/repository"
)

// TaskHandler submits TaskDescriptors to the engine runtime and reports
// on tasks still in flight or already persisted as finished.
type TaskHandler struct {
	rt     *runtime.Runtime
	repo   *repository.TaskRepository
	hub    *websocket.Hub
	logger *zap.Logger

	mu   sync.RWMutex
	live map[uuid.UUID]*runtime.Handle
}

// NewTaskHandler creates a new task handler.
func NewTaskHandler(rt *runtime.Runtime, repo *repository.TaskRepository, hub *websocket.Hub, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		rt:     rt,
		repo:   repo,
		hub:    hub,
		logger: logger,
		live:   make(map[uuid.UUID]*runtime.Handle),
	}
}

// repoTerminalSink persists a task's terminal Summary.
type repoTerminalSink struct {
	repo *repository.TaskRepository
}

func (s repoTerminalSink) WriteSummary(ctx context.Context, summary task.Summary) error {
	summaryBytes, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	finishedAt := summary.FinishedAt
	return s.repo.UpdateSummary(summary.TaskID, models.TaskState(summary.State), string(summaryBytes), &finishedAt)
}

// hubRealtimeSink fans each RealtimePoint out over the WebSocket hub.
type hubRealtimeSink struct {
	hub *websocket.Hub
}

func (s hubRealtimeSink) WriteRealtimePoint(ctx context.Context, taskID uuid.UUID, point task.RealtimePoint) error {
	s.hub.BroadcastTaskMetric(taskID, point)
	return nil
}

// Create handles POST /api/v1/tasks: it submits a TaskDescriptor to the
// engine runtime and, on success, persists the task row and tracks the
// live Handle for subsequent Stop/MetricsStream calls.
func (h *TaskHandler) Create(c *gin.Context) {
	var descriptor task.Descriptor
	if err := c.ShouldBindJSON(&descriptor); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if descriptor.TaskID == uuid.Nil {
		descriptor.TaskID = uuid.New()
	}

	handle, err := h.rt.Start(c.Request.Context(), &descriptor, repoTerminalSink{h.repo}, hubRealtimeSink{h.hub})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	descriptorBytes, err := json.Marshal(descriptor)
	if err != nil {
		handle.Stop()
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	row := &models.Task{
		ID:             descriptor.TaskID,
		Name:           descriptor.Name,
		DescriptorJSON: string(descriptorBytes),
		State:          models.TaskStateRunning,
		StartedAt:      &now,
	}
	if err := h.repo.Create(row); err != nil {
		h.logger.Error("failed to persist task row", zap.Error(err))
	}

	h.mu.Lock()
	h.live[descriptor.TaskID] = handle
	h.mu.Unlock()

	h.hub.BroadcastTaskStarted(descriptor.TaskID)
	go h.awaitAndBroadcast(descriptor.TaskID, handle)

	c.JSON(http.StatusCreated, gin.H{"task_id": descriptor.TaskID})
}

// awaitAndBroadcast blocks until a task reaches its terminal state and
// pushes the final summary to WebSocket subscribers. The terminal
// summary's own persistence already happened via repoTerminalSink.
func (h *TaskHandler) awaitAndBroadcast(taskID uuid.UUID, handle *runtime.Handle) {
	summary, err := handle.Await(context.Background())

	h.mu.Lock()
	delete(h.live, taskID)
	h.mu.Unlock()

	if err != nil {
		h.logger.Error("await failed", zap.String("task_id", taskID.String()), zap.Error(err))
		return
	}
	h.hub.BroadcastTaskStopped(taskID, summary)
}

// Get handles GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	h.mu.RLock()
	handle, isLive := h.live[id]
	h.mu.RUnlock()

	row, repoErr := h.repo.Get(id)
	if repoErr != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	resp := gin.H{"task": row}
	if isLive {
		resp["state"] = handle.State()
	}
	c.JSON(http.StatusOK, resp)
}

// List handles GET /api/v1/tasks
func (h *TaskHandler) List(c *gin.Context) {
	params := models.TaskListParams{Search: c.Query("search")}
	if state := c.Query("state"); state != "" {
		params.State = models.TaskState(state)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		params.Page = page
	}
	if pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		params.PageSize = pageSize
	}

	tasks, total, err := h.repo.List(params)
	if err != nil {
		h.logger.Error("failed to list tasks", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":     tasks,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

// Stop handles POST /api/v1/tasks/:id/stop: requests a graceful drain.
func (h *TaskHandler) Stop(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	h.mu.RLock()
	handle, ok := h.live[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not running"})
		return
	}

	handle.Stop()
	c.JSON(http.StatusOK, gin.H{"message": "stop requested"})
}

// Metrics handles GET /api/v1/tasks/:id/metrics?since_ts=...: incremental
// realtime point polling for clients that don't use the WebSocket push.
func (h *TaskHandler) Metrics(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	h.mu.RLock()
	handle, ok := h.live[id]
	h.mu.RUnlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not running"})
		return
	}

	sinceTS, _ := strconv.ParseInt(c.DefaultQuery("since_ts", "0"), 10, 64)
	c.JSON(http.StatusOK, gin.H{"points": handle.MetricsStream(sinceTS)})
}

// Delete handles DELETE /api/v1/tasks/:id: removes a finished task's
// persisted row. Running tasks must be stopped first.
func (h *TaskHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	h.mu.RLock()
	_, isLive := h.live[id]
	h.mu.RUnlock()
	if isLive {
		c.JSON(http.StatusConflict, gin.H{"error": "task is still running, stop it first"})
		return
	}

	if err := h.repo.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "task deleted"})
}
