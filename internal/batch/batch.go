// internal/batch/batch.go
// Package batch runs one workflow across many parameter rows, strictly
// in order, on the single shared browser session.
package batch

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/replay"
)

type row struct {
	parameters map[string]string
	status     schemas.RowStatus
	taskID     string
	errMsg     string
}

// Batch tracks the externally observable state of one batch run.
// Terminal states are write-once, like tasks.
type Batch struct {
	mu sync.RWMutex

	id           string
	workflowName string
	mode         replay.Mode
	rows         []row
	createdAt    time.Time

	status       schemas.BatchStatus
	currentIndex int
	errMsg       string

	cancelRequested bool
}

// NewBatch builds a pending batch for a workflow and its parameter rows.
func NewBatch(workflowName string, mode replay.Mode, paramRows []map[string]string) *Batch {
	rows := make([]row, len(paramRows))
	for i, p := range paramRows {
		rows[i] = row{parameters: p, status: schemas.RowPending}
	}
	return &Batch{
		id:           uuid.New().String(),
		workflowName: workflowName,
		mode:         mode,
		rows:         rows,
		createdAt:    time.Now().UTC(),
		status:       schemas.BatchPending,
	}
}

// ID returns the batch identifier.
func (b *Batch) ID() string { return b.id }

// WorkflowName returns the workflow this batch replays.
func (b *Batch) WorkflowName() string { return b.workflowName }

// Mode returns the replay mode used for every row.
func (b *Batch) Mode() replay.Mode { return b.mode }

// Cancel requests cooperative cancellation. The orchestrator observes
// the flag between rows; an in-flight row always finishes first.
func (b *Batch) Cancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelRequested = true
}

// CancelRequested reports whether cancellation has been asked for.
func (b *Batch) CancelRequested() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cancelRequested
}

// Status returns the current lifecycle state.
func (b *Batch) Status() schemas.BatchStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// View returns a consistent snapshot.
func (b *Batch) View() schemas.BatchView {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rows := make([]schemas.BatchRowView, len(b.rows))
	completed, failed := 0, 0
	for i, r := range b.rows {
		rows[i] = schemas.BatchRowView{
			Index:      i,
			Parameters: r.parameters,
			Status:     r.status,
			TaskID:     r.taskID,
			Error:      r.errMsg,
		}
		switch r.status {
		case schemas.RowCompleted:
			completed++
		case schemas.RowFailed:
			failed++
		}
	}
	return schemas.BatchView{
		ID:           b.id,
		Workflow:     b.workflowName,
		Status:       b.status,
		Total:        len(b.rows),
		Completed:    completed,
		Failed:       failed,
		CurrentIndex: b.currentIndex,
		Rows:         rows,
		Error:        b.errMsg,
		CreatedAt:    b.createdAt,
	}
}

func (b *Batch) markRunning() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	b.status = schemas.BatchRunning
}

// startRow advances to row i. currentIndex only ever grows.
func (b *Batch) startRow(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	if i > b.currentIndex {
		b.currentIndex = i
	}
	b.rows[i].status = schemas.RowRunning
}

func (b *Batch) finishRow(i int, status schemas.RowStatus, taskID, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	b.rows[i].status = status
	b.rows[i].taskID = taskID
	b.rows[i].errMsg = errMsg
}

func (b *Batch) complete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	b.status = schemas.BatchCompleted
}

// cancelFrom marks every row from index i as skipped and finalizes the
// batch as cancelled.
func (b *Batch) cancelFrom(i int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.status.Terminal() {
		return
	}
	for j := i; j < len(b.rows); j++ {
		if b.rows[j].status == schemas.RowPending {
			b.rows[j].status = schemas.RowSkipped
		}
	}
	b.status = schemas.BatchCancelled
}
