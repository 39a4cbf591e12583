// cmd/wire.go
package cmd

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/service"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

// runtime bundles the wired service with the collaborators a command
// needs to observe it.
type runtime struct {
	svc *service.Service
	bus *events.Bus
}

// buildRuntime wires the production dependency graph: real Chrome
// driver, configured decision provider, event bus and workflow store.
func buildRuntime(logger *zap.Logger) (*runtime, error) {
	scaler := browser.NewScaler(appCfg.Browser.WindowWidth, appCfg.Browser.WindowHeight)
	width, height := scaler.ModelSize()

	prov, err := provider.New(appCfg.Provider, width, height, logger)
	if err != nil {
		return nil, err
	}

	drv := browser.NewChrome(appCfg.Browser, logger)
	bus := events.NewBus(logger, appCfg.Events.BufferSize)
	store := workflow.NewFileStore(appCfg.Workflows.Dir, logger)

	svc := service.New(appCfg, service.Deps{
		Driver:   drv,
		Provider: prov,
		Bus:      bus,
		Store:    store,
	}, logger)
	return &runtime{svc: svc, bus: bus}, nil
}

// startRuntime launches the browser and returns a shutdown func.
func (r *runtime) start(ctx context.Context) (func(), error) {
	if err := r.svc.Start(ctx); err != nil {
		return nil, err
	}
	return func() { r.svc.Shutdown(context.Background()) }, nil
}

// streamProgress prints bus events for interactive commands until the
// returned stop func is called.
func (r *runtime) streamProgress(out func(format string, a ...any)) func() {
	_, ch, unsubscribe := r.bus.Subscribe()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range ch {
			switch ev.Type {
			case schemas.EventStep:
				out("  step %d: %s\n", ev.Step, ev.Action)
			case schemas.EventLoopDetected:
				out("  warning: repeated action detected, nudging the model\n")
			case schemas.EventTaskCompleted:
				out("  completed: %s\n", ev.Result)
			case schemas.EventTaskFailed:
				out("  failed: %s\n", ev.Error)
			case schemas.EventTaskCancelled:
				out("  cancelled: %s\n", ev.Result)
			case schemas.EventBatchProgress:
				out("  batch %s: row %d/%d (%d ok, %d failed)\n",
					ev.Detail, ev.CurrentIndex+1, ev.Total, ev.Completed, ev.Failed)
			}
		}
	}()
	return func() {
		unsubscribe()
		wg.Wait()
	}
}

// printTaskOutcome renders a finished task for the terminal and maps
// failure onto a non-nil error for the exit code.
func printTaskOutcome(view schemas.TaskView, out func(format string, a ...any)) error {
	switch view.Status {
	case schemas.StatusCompleted:
		out("Task %s completed after %d steps: %s\n", view.ID, view.StepsCompleted, view.Result)
		return nil
	case schemas.StatusCancelled:
		out("Task %s cancelled: %s\n", view.ID, view.Result)
		return nil
	default:
		return fmt.Errorf("task %s failed: %s", view.ID, view.Error)
	}
}
