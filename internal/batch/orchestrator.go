// internal/batch/orchestrator.go
package batch

import (
	"context"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/replay"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

// RowRunner replays one substituted workflow and returns the terminal
// task for the row. The orchestrator inspects the task's final status;
// the returned error is for infrastructure failures only.
type RowRunner func(ctx context.Context, w *workflow.Workflow, mode replay.Mode) (*agent.Task, error)

// Orchestrator drives a batch run row by row.
type Orchestrator struct {
	runRow RowRunner
	bus    *events.Bus
	logger *zap.Logger
}

// NewOrchestrator wires a batch orchestrator around a row runner.
func NewOrchestrator(runRow RowRunner, bus *events.Bus, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{runRow: runRow, bus: bus, logger: logger.Named("batch")}
}

// Run executes every row of the batch in order against the loaded
// workflow. A failed row is recorded and the batch moves on; only
// cancellation stops the run early. Cancellation is observed between
// rows, so an in-flight row always finishes.
func (o *Orchestrator) Run(ctx context.Context, b *Batch, w *workflow.Workflow) error {
	log := o.logger.With(zap.String("batch_id", b.ID()), zap.String("workflow", w.Name))

	b.markRunning()
	o.publishProgress(b)

	view := b.View()
	for i := 0; i < view.Total; i++ {
		if b.CancelRequested() || ctx.Err() != nil {
			b.cancelFrom(i)
			o.publishProgress(b)
			log.Info("Batch cancelled.", zap.Int("row", i))
			return nil
		}

		b.startRow(i)
		o.publishProgress(b)

		params := b.View().Rows[i].Parameters
		resolved := w.Substitute(params)

		log.Info("Batch row started.", zap.Int("row", i), zap.Int("total", view.Total))
		task, err := o.runRow(ctx, resolved, b.Mode())
		if err != nil {
			b.finishRow(i, schemas.RowFailed, "", err.Error())
			log.Warn("Batch row failed.", zap.Int("row", i), zap.Error(err))
			o.publishProgress(b)
			continue
		}

		tv := task.View()
		switch tv.Status {
		case schemas.StatusCompleted:
			b.finishRow(i, schemas.RowCompleted, tv.ID, "")
		default:
			errMsg := tv.Error
			if errMsg == "" {
				errMsg = "task did not complete"
			}
			b.finishRow(i, schemas.RowFailed, tv.ID, errMsg)
			log.Warn("Batch row failed.", zap.Int("row", i), zap.String("error", errMsg))
		}
		o.publishProgress(b)
	}

	b.complete()
	o.publishProgress(b)

	final := b.View()
	log.Info("Batch finished.",
		zap.Int("completed", final.Completed),
		zap.Int("failed", final.Failed),
		zap.Int("total", final.Total))
	return nil
}

func (o *Orchestrator) publishProgress(b *Batch) {
	view := b.View()
	o.bus.Publish(schemas.Event{
		Type:         schemas.EventBatchProgress,
		BatchID:      view.ID,
		CurrentIndex: view.CurrentIndex,
		Total:        view.Total,
		Completed:    view.Completed,
		Failed:       view.Failed,
		Detail:       string(view.Status),
	})
}
