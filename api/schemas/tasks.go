// api/schemas/tasks.go
// Package schemas holds the shared domain types exchanged between the core
// components (agent loop, replay interpreter, batch orchestrator) and any
// outer surface (CLI, transport adapters). Keeping them here breaks import
// cycles between the internal packages.
package schemas

import "time"

// TaskStatus is the lifecycle state of a driving operation (a free-form
// task, a workflow replay run, or a single batch row's delegated task).
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is a final state. Terminal states are
// write-once: no component may transition a task out of them.
func (s TaskStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// TaskRequest is what the outer surface submits to create a free-form task.
type TaskRequest struct {
	Instruction string `json:"instruction"`
	URL         string `json:"url,omitempty"`
	MaxSteps    int    `json:"max_steps,omitempty"`
}

// TaskView is the externally visible snapshot of a task. It is a value copy;
// mutating it has no effect on the underlying task state.
type TaskView struct {
	ID             string     `json:"task_id"`
	Instruction    string     `json:"instruction"`
	Status         TaskStatus `json:"status"`
	StepsCompleted int        `json:"steps_completed"`
	CurrentAction  string     `json:"current_action,omitempty"`
	Result         string     `json:"result,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
