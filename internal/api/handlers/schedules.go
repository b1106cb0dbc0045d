package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/evanreyes/promptloom/internal/engine/task"
	"github.com/evanreyes/promptloom/internal/scheduler"
	"github.com/evanreyes/promptloom/internal/security"
	"github.com/evanreyes/promptloom/internal/storage/models"
	"github.com/evanreyes/promptloom/internal/storage/repository"
)

// ScheduleHandler handles schedule-related requests
type ScheduleHandler struct {
	repo      *repository.ScheduleRepository
	scheduler *scheduler.Scheduler
	cipher    *security.DescriptorCipher
	logger    *zap.Logger
}

// NewScheduleHandler creates a new schedule handler
func NewScheduleHandler(repo *repository.ScheduleRepository, sched *scheduler.Scheduler, cipher *security.DescriptorCipher, logger *zap.Logger) *ScheduleHandler {
	return &ScheduleHandler{
		repo:      repo,
		scheduler: sched,
		cipher:    cipher,
		logger:    logger,
	}
}

// CreateScheduleRequest represents a request to create a schedule that
// recurringly re-submits a TaskDescriptor.
type CreateScheduleRequest struct {
	Name            string          `json:"name" binding:"required"`
	Description     string          `json:"description"`
	Descriptor      task.Descriptor `json:"descriptor" binding:"required"`
	CronExpr        string          `json:"cron_expr" binding:"required"`
	Timezone        string          `json:"timezone"`
	NotifyOnFailure bool            `json:"notify_on_failure"`
	NotifyOnSuccess bool            `json:"notify_on_success"`
	NotifyEmails    []string        `json:"notify_emails"`
	MaxRetries      int             `json:"max_retries"`
	RetryDelay      string          `json:"retry_delay"`
	AllowOverlap    bool            `json:"allow_overlap"`
	Tags            []string        `json:"tags"`
}

// Create handles POST /api/v1/schedules
func (h *ScheduleHandler) Create(c *gin.Context) {
	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron expression: " + err.Error()})
		return
	}

	if req.Descriptor.TaskID == uuid.Nil {
		req.Descriptor.TaskID = uuid.New()
	}
	if err := req.Descriptor.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid descriptor: " + err.Error()})
		return
	}
	descriptorBytes, err := json.Marshal(req.Descriptor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	descriptorJSON, err := h.cipher.Seal(string(descriptorBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	sched := &models.Schedule{
		Name:            req.Name,
		Description:     req.Description,
		DescriptorJSON:  descriptorJSON,
		CronExpr:        req.CronExpr,
		Timezone:        timezone,
		Status:          models.ScheduleStatusActive,
		NotifyOnFailure: req.NotifyOnFailure,
		NotifyOnSuccess: req.NotifyOnSuccess,
		NotifyEmails:    req.NotifyEmails,
		MaxRetries:      req.MaxRetries,
		RetryDelay:      req.RetryDelay,
		AllowOverlap:    req.AllowOverlap,
		Tags:            req.Tags,
	}

	if err := h.scheduler.AddSchedule(sched); err != nil {
		h.logger.Error("failed to create schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, sched)
}

// List handles GET /api/v1/schedules
func (h *ScheduleHandler) List(c *gin.Context) {
	params := models.ScheduleListParams{Search: c.Query("search")}

	if status := c.Query("status"); status != "" {
		params.Status = models.ScheduleStatus(status)
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		params.Page = page
	}
	if pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		params.PageSize = pageSize
	}

	schedules, total, err := h.repo.List(params)
	if err != nil {
		h.logger.Error("failed to list schedules", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"schedules": schedules,
		"total":     total,
		"page":      params.Page,
		"page_size": params.PageSize,
	})
}

// Get handles GET /api/v1/schedules/:id
func (h *ScheduleHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	sched, err := h.repo.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	c.JSON(http.StatusOK, sched)
}

// Update handles PUT /api/v1/schedules/:id
func (h *ScheduleHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	sched, err := h.repo.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "schedule not found"})
		return
	}

	var req CreateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.CronExpr != sched.CronExpr {
		if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cron expression: " + err.Error()})
			return
		}
	}

	if req.Descriptor.TaskID == uuid.Nil {
		req.Descriptor.TaskID = uuid.New()
	}
	if err := req.Descriptor.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid descriptor: " + err.Error()})
		return
	}
	descriptorBytes, err := json.Marshal(req.Descriptor)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	descriptorJSON, err := h.cipher.Seal(string(descriptorBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	sched.Name = req.Name
	sched.Description = req.Description
	sched.DescriptorJSON = descriptorJSON
	sched.CronExpr = req.CronExpr
	if req.Timezone != "" {
		sched.Timezone = req.Timezone
	}
	sched.NotifyOnFailure = req.NotifyOnFailure
	sched.NotifyOnSuccess = req.NotifyOnSuccess
	sched.NotifyEmails = req.NotifyEmails
	sched.MaxRetries = req.MaxRetries
	sched.RetryDelay = req.RetryDelay
	sched.AllowOverlap = req.AllowOverlap
	sched.Tags = req.Tags

	if err := h.scheduler.UpdateSchedule(sched); err != nil {
		h.logger.Error("failed to update schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, sched)
}

// Delete handles DELETE /api/v1/schedules/:id
func (h *ScheduleHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	if err := h.scheduler.RemoveSchedule(id); err != nil {
		h.logger.Error("failed to delete schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "schedule deleted"})
}

// Pause handles POST /api/v1/schedules/:id/pause
func (h *ScheduleHandler) Pause(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	if err := h.scheduler.PauseSchedule(id); err != nil {
		h.logger.Error("failed to pause schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "schedule paused"})
}

// Resume handles POST /api/v1/schedules/:id/resume
func (h *ScheduleHandler) Resume(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	if err := h.scheduler.ResumeSchedule(id); err != nil {
		h.logger.Error("failed to resume schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "schedule resumed"})
}

// Trigger handles POST /api/v1/schedules/:id/trigger
func (h *ScheduleHandler) Trigger(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	run, err := h.scheduler.TriggerSchedule(id)
	if err != nil {
		h.logger.Error("failed to trigger schedule", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "schedule triggered",
		"run":     run,
	})
}

// GetRuns handles GET /api/v1/schedules/:id/runs
func (h *ScheduleHandler) GetRuns(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	limit := 50
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			limit = l
		}
	}

	runs, err := h.repo.ListRuns(id, limit)
	if err != nil {
		h.logger.Error("failed to get schedule runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"total": len(runs),
	})
}

// GetStats handles GET /api/v1/schedules/:id/stats
func (h *ScheduleHandler) GetStats(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid schedule id"})
		return
	}

	days := 30
	if daysStr := c.Query("days"); daysStr != "" {
		if d, err := strconv.Atoi(daysStr); err == nil {
			days = d
		}
	}

	stats, err := h.repo.GetScheduleStats(id, days)
	if err != nil {
		h.logger.Error("failed to get schedule stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// ValidateCronRequest represents a request to validate a cron expression
type ValidateCronRequest struct {
	CronExpr string `json:"cron_expr" binding:"required"`
	Timezone string `json:"timezone"`
	Count    int    `json:"count"`
}

// ValidateCron handles POST /api/v1/schedules/validate-cron
func (h *ScheduleHandler) ValidateCron(c *gin.Context) {
	var req ValidateCronRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := scheduler.ValidateCronExpression(req.CronExpr); err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	count := req.Count
	if count <= 0 || count > 10 {
		count = 5
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	nextTimes, err := scheduler.GetNextRunTimes(req.CronExpr, timezone, count)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"valid": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":          true,
		"next_run_times": nextTimes,
	})
}

// GetPresets handles GET /api/v1/schedules/presets
func (h *ScheduleHandler) GetPresets(c *gin.Context) {
	presets := make([]map[string]string, 0)
	for name, expr := range scheduler.CommonCronPresets {
		presets = append(presets, map[string]string{"name": name, "expr": expr})
	}
	c.JSON(http.StatusOK, gin.H{"presets": presets})
}
