package repository

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/evanreyes/promptloom/internal/storage/models"
)

// TaskRepository handles task database operations.
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new task repository.
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create creates a new task row.
func (r *TaskRepository) Create(t *models.Task) error {
	return r.db.Create(t).Error
}

// Get retrieves a task by ID.
func (r *TaskRepository) Get(id uuid.UUID) (*models.Task, error) {
	var t models.Task
	if err := r.db.First(&t, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// Update persists changes to an existing task row.
func (r *TaskRepository) Update(t *models.Task) error {
	return r.db.Save(t).Error
}

// UpdateState transitions a task's lifecycle state and diagnostic.
func (r *TaskRepository) UpdateState(id uuid.UUID, state models.TaskState, diagnostic string) error {
	updates := map[string]interface{}{"state": state}
	if diagnostic != "" {
		updates["diagnostic"] = diagnostic
	}
	return r.db.Model(&models.Task{}).Where("id = ?", id).Updates(updates).Error
}

// UpdateSummary writes the final summary JSON and finished timestamp.
func (r *TaskRepository) UpdateSummary(id uuid.UUID, state models.TaskState, summaryJSON string, finishedAt *time.Time) error {
	return r.db.Model(&models.Task{}).Where("id = ?", id).Updates(map[string]interface{}{
		"state":        state,
		"summary_json": summaryJSON,
		"finished_at":  finishedAt,
	}).Error
}

// List lists tasks with optional filtering and pagination.
func (r *TaskRepository) List(params models.TaskListParams) ([]*models.Task, int64, error) {
	query := r.db.Model(&models.Task{})

	if params.State != "" {
		query = query.Where("state = ?", params.State)
	}
	if params.Search != "" {
		query = query.Where("name ILIKE ?", "%"+params.Search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if params.PageSize > 0 {
		query = query.Limit(params.PageSize)
		if params.Page > 0 {
			query = query.Offset((params.Page - 1) * params.PageSize)
		}
	}

	var tasks []*models.Task
	if err := query.Order("created_at DESC").Find(&tasks).Error; err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// Delete removes a task row.
func (r *TaskRepository) Delete(id uuid.UUID) error {
	return r.db.Delete(&models.Task{}, "id = ?", id).Error
}
