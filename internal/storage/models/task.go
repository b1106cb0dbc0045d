package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskState mirrors task.TerminalState plus the non-terminal states a
// persisted row can be in while its process is still running.
type TaskState string

const (
	TaskStatePending  TaskState = "pending"
	TaskStateRunning  TaskState = "running"
	TaskStateStopped  TaskState = "stopped"
	TaskStateDegraded TaskState = "stopped-with-sink-degraded"
	TaskStateFailed   TaskState = "failed"
)

// Task persists a TaskDescriptor's submission and lifecycle so a
// restarted server can report the terminal result of a task whose
// process has already exited.
type Task struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()" json:"id"`
	Name           string    `gorm:"not null" json:"name"`
	DescriptorJSON string    `gorm:"type:jsonb;not null" json:"descriptor_json"`
	State          TaskState `gorm:"type:varchar(32);not null;default:'pending'" json:"state"`
	Diagnostic     string    `json:"diagnostic,omitempty"`
	SummaryJSON    string    `gorm:"type:jsonb" json:"summary_json,omitempty"`

	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BeforeCreate generates a UUID if not set.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// TaskListParams filters Task listing queries.
type TaskListParams struct {
	State    TaskState
	Search   string
	Page     int
	PageSize int
}
