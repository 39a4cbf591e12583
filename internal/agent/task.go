// internal/agent/task.go
// Package agent implements the perceive-decide-act loop that drives a
// browser task, plus the task state machine and the action translator.
package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

// Task tracks the externally observable state of one driving run. Terminal
// states are write-once: any update after the task reaches completed,
// failed or cancelled is dropped.
type Task struct {
	mu sync.RWMutex

	id          string
	instruction string
	url         string
	maxSteps    int
	createdAt   time.Time

	status         schemas.TaskStatus
	stepsCompleted int
	currentAction  string
	result         string
	errMsg         string

	cancelRequested bool
}

// NewTask builds a pending task from a request. maxSteps of zero falls
// back to defaultMaxSteps.
func NewTask(req schemas.TaskRequest, defaultMaxSteps int) *Task {
	maxSteps := req.MaxSteps
	if maxSteps <= 0 {
		maxSteps = defaultMaxSteps
	}
	return &Task{
		id:          uuid.New().String(),
		instruction: req.Instruction,
		url:         req.URL,
		maxSteps:    maxSteps,
		createdAt:   time.Now().UTC(),
		status:      schemas.StatusPending,
	}
}

// ID returns the task identifier.
func (t *Task) ID() string { return t.id }

// Instruction returns the task's goal text.
func (t *Task) Instruction() string { return t.instruction }

// URL returns the optional starting URL.
func (t *Task) URL() string { return t.url }

// MaxSteps returns the step budget.
func (t *Task) MaxSteps() int { return t.maxSteps }

// Cancel requests cooperative cancellation. The loop observes the flag at
// the top of each iteration; a running step always finishes first.
func (t *Task) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelRequested = true
}

// CancelRequested reports whether cancellation has been asked for.
func (t *Task) CancelRequested() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.cancelRequested
}

// View returns a consistent snapshot.
func (t *Task) View() schemas.TaskView {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return schemas.TaskView{
		ID:             t.id,
		Instruction:    t.instruction,
		Status:         t.status,
		StepsCompleted: t.stepsCompleted,
		CurrentAction:  t.currentAction,
		Result:         t.result,
		Error:          t.errMsg,
		CreatedAt:      t.createdAt,
	}
}

// Status returns the current lifecycle state.
func (t *Task) Status() schemas.TaskStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// MarkRunning moves a pending task into the running state.
func (t *Task) MarkRunning() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = schemas.StatusRunning
}

// RecordStep notes progress of the in-flight step.
func (t *Task) RecordStep(step int, action string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.stepsCompleted = step
	t.currentAction = action
}

// Complete finalizes the task as successful.
func (t *Task) Complete(result string, steps int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = schemas.StatusCompleted
	t.result = result
	t.stepsCompleted = steps
	t.currentAction = ""
}

// Fail finalizes the task with an error message.
func (t *Task) Fail(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = schemas.StatusFailed
	t.errMsg = msg
	t.currentAction = ""
}

// Cancelled finalizes the task after a cancellation request was honored.
func (t *Task) Cancelled(result string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.Terminal() {
		return
	}
	t.status = schemas.StatusCancelled
	t.result = result
	t.currentAction = ""
}
