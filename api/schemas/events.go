// api/schemas/events.go
package schemas

import "time"

// EventType classifies progress events published on the event bus. Direct
// replay and AI replay emit the same task-scoped event shapes so that
// observers cannot tell the execution modes apart.
type EventType string

const (
	EventTaskStarted   EventType = "task_started"
	EventStep          EventType = "step"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskCancelled EventType = "task_cancelled"
	EventLoopDetected  EventType = "loop_detected"
	EventBatchProgress EventType = "batch_progress"
)

// Event is the envelope published for every observable state change. Fields
// beyond Type, TaskID and Timestamp are populated per type; unused fields
// are omitted from serialized output.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id,omitempty"`
	BatchID   string    `json:"batch_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Step events.
	Step   int    `json:"step,omitempty"`
	Action string `json:"action,omitempty"`

	// Terminal events.
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`

	// Batch progress.
	CurrentIndex int `json:"current_index,omitempty"`
	Total        int `json:"total,omitempty"`
	Completed    int `json:"completed,omitempty"`
	Failed       int `json:"failed,omitempty"`

	// Free-form detail (loop_detected carries the repeated signature here).
	Detail string `json:"detail,omitempty"`
}
