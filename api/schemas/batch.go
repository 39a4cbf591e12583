// api/schemas/batch.go
package schemas

import "time"

// BatchStatus is the lifecycle state of a batch run as a whole. A batch
// whose rows partially failed still finishes as BatchCompleted; BatchFailed
// is reserved for admission-level errors (unknown workflow, missing
// required parameters) that prevent the run from starting at all.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchCancelled BatchStatus = "cancelled"
)

// Terminal reports whether the batch status is final.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchCancelled:
		return true
	}
	return false
}

// RowStatus is the outcome of a single parameter row within a batch.
type RowStatus string

const (
	RowPending   RowStatus = "pending"
	RowRunning   RowStatus = "running"
	RowCompleted RowStatus = "completed"
	RowFailed    RowStatus = "failed"
	RowSkipped   RowStatus = "skipped"
)

// BatchRequest submits a workflow to be replayed once per parameter row,
// strictly in order.
type BatchRequest struct {
	Workflow string              `json:"workflow"`
	Rows     []map[string]string `json:"rows"`
	AIMode   bool                `json:"ai_mode,omitempty"`
}

// BatchRowView is the externally visible snapshot of one row.
type BatchRowView struct {
	Index      int               `json:"index"`
	Parameters map[string]string `json:"parameters"`
	Status     RowStatus         `json:"status"`
	TaskID     string            `json:"task_id,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// BatchView is the externally visible snapshot of a batch run.
// CurrentIndex is monotonically non-decreasing over the life of the run.
type BatchView struct {
	ID           string         `json:"batch_id"`
	Workflow     string         `json:"workflow"`
	Status       BatchStatus    `json:"status"`
	Total        int            `json:"total"`
	Completed    int            `json:"completed"`
	Failed       int            `json:"failed"`
	CurrentIndex int            `json:"current_index"`
	Rows         []BatchRowView `json:"rows"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
