// internal/replay/replay.go
// Package replay executes stored workflows against the live browser,
// either by dispatching the recorded steps literally or by asking a
// decision provider to perform each step from a screenshot.
package replay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/agent"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/provider"
	"github.com/webpilot-ai/webpilot/internal/workflow"
)

// Mode selects how a workflow is replayed.
type Mode string

const (
	// ModeDirect dispatches the recorded coordinates and text verbatim.
	ModeDirect Mode = "direct"
	// ModeAI asks the decision provider to perform each step visually.
	ModeAI Mode = "ai"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDirect, ModeAI:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown replay mode %q (want %q or %q)", s, ModeDirect, ModeAI)
	}
}

// stepAttemptBudget bounds provider attempts per step in AI mode.
const stepAttemptBudget = 3

// Interpreter replays workflows. It emits the same event shapes as the
// free-form agent loop so consumers cannot tell the two apart.
type Interpreter struct {
	driver      browser.Driver
	bus         *events.Bus
	direct      *agent.Translator
	model       *agent.Translator
	settleDelay time.Duration
	logger      *zap.Logger
}

// NewInterpreter wires a replay interpreter. Recorded coordinates are
// already viewport coordinates, so direct steps translate through an
// identity scaler; provider decisions in AI mode come back in model
// space and translate through the driver's scaler, exactly as the
// free-form agent loop does.
func NewInterpreter(driver browser.Driver, bus *events.Bus, cfg config.AgentConfig, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		driver:      driver,
		bus:         bus,
		direct:      agent.NewTranslator(browser.NewScaler(0, 0), cfg.MaxWait),
		model:       agent.NewTranslator(driver.Scaler(), cfg.MaxWait),
		settleDelay: cfg.StepDelay,
		logger:      logger.Named("replay"),
	}
}

// RunDirect replays the workflow by dispatching recorded steps
// literally. No decision provider is involved.
func (it *Interpreter) RunDirect(ctx context.Context, task *agent.Task, w *workflow.Workflow) error {
	log := it.logger.With(zap.String("task_id", task.ID()), zap.String("workflow", w.Name))

	task.MarkRunning()
	it.bus.Publish(schemas.Event{Type: schemas.EventTaskStarted, TaskID: task.ID()})

	if w.StartURL != "" {
		if err := it.driver.Navigate(ctx, w.StartURL); err != nil {
			it.failTask(task, fmt.Sprintf("failed to open starting URL: %v", err))
			return nil
		}
	}

	for i, step := range w.Steps {
		if task.CancelRequested() || ctx.Err() != nil {
			it.cancelTask(task, i)
			return nil
		}

		desc := step.Description
		if desc == "" {
			desc = step.Action
		}
		task.RecordStep(i+1, desc)
		log.Info("Replay step.", zap.Int("step", i+1), zap.Int("total", len(w.Steps)), zap.String("description", desc))

		if err := it.executeDirect(ctx, step); err != nil {
			it.failTask(task, fmt.Sprintf("Step %d failed: %v", i+1, err))
			return nil
		}

		it.bus.Publish(schemas.Event{Type: schemas.EventStep, TaskID: task.ID(), Step: i + 1, Action: desc})
		it.settle(ctx)
	}

	it.completeTask(task, w, log)
	return nil
}

// RunAI replays the workflow one step at a time through the decision
// provider: each step's rendered instruction plus a live screenshot is
// presented until the provider reports the step done or the attempt
// budget runs out.
func (it *Interpreter) RunAI(ctx context.Context, task *agent.Task, w *workflow.Workflow, prov provider.Provider) error {
	log := it.logger.With(zap.String("task_id", task.ID()), zap.String("workflow", w.Name))

	task.MarkRunning()
	it.bus.Publish(schemas.Event{Type: schemas.EventTaskStarted, TaskID: task.ID()})

	if w.StartURL != "" {
		if err := it.driver.Navigate(ctx, w.StartURL); err != nil {
			it.failTask(task, fmt.Sprintf("failed to open starting URL: %v", err))
			return nil
		}
	}

	for i, step := range w.Steps {
		if task.CancelRequested() || ctx.Err() != nil {
			it.cancelTask(task, i)
			return nil
		}

		desc := step.Description
		if desc == "" {
			desc = step.Action
		}
		task.RecordStep(i+1, desc)
		log.Info("AI replay step.", zap.Int("step", i+1), zap.Int("total", len(w.Steps)))

		if err := it.performStep(ctx, step, i+1, prov); err != nil {
			it.failTask(task, fmt.Sprintf("Step %d failed: %v", i+1, err))
			return nil
		}

		it.bus.Publish(schemas.Event{Type: schemas.EventStep, TaskID: task.ID(), Step: i + 1, Action: desc})
		it.settle(ctx)
	}

	it.completeTask(task, w, log)
	return nil
}

// performStep drives the provider until it reports the step done.
// Every decision consumes one attempt, so a step normally costs two:
// the action itself and the confirming done.
func (it *Interpreter) performStep(ctx context.Context, step workflow.Step, num int, prov provider.Provider) error {
	prov.Reset()
	instruction := fmt.Sprintf(
		"Perform this single step of a recorded workflow:\n%s\nWhen the step has been performed, respond with the done action.",
		step.Instruction(num))

	var history []schemas.HistoryEntry
	lastExecError := ""
	correctiveNote := ""

	for attempt := 1; attempt <= stepAttemptBudget; attempt++ {
		shot, err := it.driver.Screenshot(ctx)
		if err != nil {
			return fmt.Errorf("screenshot failed: %v", err)
		}

		action, err := prov.Decide(ctx, provider.DecisionContext{
			Instruction:    instruction,
			Screenshot:     shot,
			History:        history,
			LastExecError:  lastExecError,
			CorrectiveNote: correctiveNote,
		})
		lastExecError = ""
		correctiveNote = ""
		if err != nil {
			var decodeErr *provider.DecodeError
			if errors.As(err, &decodeErr) {
				correctiveNote = "Your previous reply was not a valid action. " +
					"Respond with exactly one action in the documented format."
				continue
			}
			return fmt.Errorf("decision provider error: %v", err)
		}

		switch action.Kind {
		case schemas.ActionDone:
			return nil
		case schemas.ActionError:
			return fmt.Errorf("provider gave up: %s", action.Text)
		}

		outcome := "ok"
		if execErr := it.executeAction(ctx, action); execErr != nil {
			lastExecError = execErr.Error()
			outcome = lastExecError
		}
		history = append(history, schemas.HistoryEntry{Step: attempt, Action: action, Outcome: outcome})
	}
	return fmt.Errorf("step not confirmed done after %d attempts", stepAttemptBudget)
}

// executeDirect dispatches one recorded step verbatim.
func (it *Interpreter) executeDirect(ctx context.Context, step workflow.Step) error {
	if step.Action == workflow.StepNavigate {
		if step.URL == "" {
			return fmt.Errorf("navigate step has no URL")
		}
		return it.driver.Navigate(ctx, step.URL)
	}

	cmds, err := it.directCommands(step)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := it.driver.Execute(ctx, cmd); err != nil {
			return err
		}
	}
	return nil
}

// directCommands maps a recorded step onto driver commands through the
// identity translator.
func (it *Interpreter) directCommands(step workflow.Step) ([]browser.Command, error) {
	switch step.Action {
	case workflow.StepClick:
		if len(step.Coordinates) != 2 {
			return nil, fmt.Errorf("click step has no recorded coordinates")
		}
		return it.direct.Translate(schemas.AgentAction{
			Kind:       schemas.ActionClick,
			Coordinate: &schemas.Point{X: step.Coordinates[0], Y: step.Coordinates[1]},
		})

	case workflow.StepType:
		if step.Text == "" {
			return nil, fmt.Errorf("type step has no text")
		}
		var cmds []browser.Command
		// Recorded coordinates focus the field first; without them the
		// field is assumed focused, as at the moment of recording.
		if len(step.Coordinates) == 2 {
			click, err := it.direct.Translate(schemas.AgentAction{
				Kind:       schemas.ActionClick,
				Coordinate: &schemas.Point{X: step.Coordinates[0], Y: step.Coordinates[1]},
			})
			if err != nil {
				return nil, err
			}
			cmds = append(cmds, click...)
		}
		typeCmds, err := it.direct.Translate(schemas.AgentAction{Kind: schemas.ActionType, Text: step.Text})
		if err != nil {
			return nil, err
		}
		return append(cmds, typeCmds...), nil

	case workflow.StepKey:
		if step.Key == "" {
			return nil, fmt.Errorf("key step has no key")
		}
		return it.direct.Translate(schemas.AgentAction{Kind: schemas.ActionKey, Key: step.Key})

	default:
		return nil, fmt.Errorf("unknown step action %q", step.Action)
	}
}

// executeAction runs one provider decision in AI mode. Coordinates arrive
// in model space because the provider saw a scaled screenshot.
func (it *Interpreter) executeAction(ctx context.Context, action schemas.AgentAction) error {
	cmds, err := it.model.Translate(action)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := it.driver.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("action %s failed: %w", action.Kind, err)
		}
	}
	return nil
}

func (it *Interpreter) settle(ctx context.Context) {
	if it.settleDelay <= 0 {
		return
	}
	select {
	case <-time.After(it.settleDelay):
	case <-ctx.Done():
	}
}

func (it *Interpreter) completeTask(task *agent.Task, w *workflow.Workflow, log *zap.Logger) {
	result := fmt.Sprintf("Workflow completed (%d steps)", len(w.Steps))
	task.Complete(result, len(w.Steps))
	it.bus.Publish(schemas.Event{Type: schemas.EventTaskCompleted, TaskID: task.ID(), Result: result})
	log.Info("Workflow replay completed.", zap.Int("steps", len(w.Steps)))
}

func (it *Interpreter) cancelTask(task *agent.Task, completed int) {
	result := fmt.Sprintf("Cancelled after %d steps", completed)
	task.Cancelled(result)
	it.bus.Publish(schemas.Event{Type: schemas.EventTaskCancelled, TaskID: task.ID(), Result: result})
	it.logger.Info("Workflow replay cancelled.", zap.String("task_id", task.ID()), zap.Int("steps", completed))
}

func (it *Interpreter) failTask(task *agent.Task, msg string) {
	task.Fail(msg)
	it.bus.Publish(schemas.Event{Type: schemas.EventTaskFailed, TaskID: task.ID(), Error: msg})
	it.logger.Warn("Workflow replay failed.", zap.String("task_id", task.ID()), zap.String("error", msg))
}
