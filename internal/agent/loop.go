// internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
	"github.com/webpilot-ai/webpilot/internal/events"
	"github.com/webpilot-ai/webpilot/internal/provider"
)

// stuckNote is the corrective feedback injected when loop detection fires.
const stuckNote = "You appear to be stuck repeating the same action. " +
	"Try a completely different approach."

// Runner executes the perceive-decide-act loop for one task at a time.
type Runner struct {
	driver     browser.Driver
	provider   provider.Provider
	bus        *events.Bus
	cfg        config.AgentConfig
	translator *Translator
	logger     *zap.Logger
}

// NewRunner wires a loop runner. The translator is built from the driver's
// scaler so decisions map onto the real viewport.
func NewRunner(driver browser.Driver, prov provider.Provider, bus *events.Bus, cfg config.AgentConfig, logger *zap.Logger) *Runner {
	return &Runner{
		driver:     driver,
		provider:   prov,
		bus:        bus,
		cfg:        cfg,
		translator: NewTranslator(driver.Scaler(), cfg.MaxWait),
		logger:     logger.Named("agent"),
	}
}

// Run drives the task to a terminal state. The returned error reports
// infrastructure failures only; task-level failures land in the task state.
func (r *Runner) Run(ctx context.Context, task *Task) error {
	log := r.logger.With(zap.String("task_id", task.ID()))
	r.provider.Reset()

	task.MarkRunning()
	r.bus.Publish(schemas.Event{Type: schemas.EventTaskStarted, TaskID: task.ID()})

	if task.URL() != "" {
		if err := r.driver.Navigate(ctx, task.URL()); err != nil {
			r.failTask(task, fmt.Sprintf("failed to open starting URL: %v", err))
			return nil
		}
	}

	var (
		history        []schemas.HistoryEntry
		recentSigs     []string
		decodeFailures int
		failStreak     int
		lastFailedSig  string
		lastExecError  string
		correctiveNote string
		executed       int
	)

	for step := 1; step <= task.MaxSteps(); step++ {
		// Cancellation is observed here only; an in-flight step always
		// runs to completion.
		if task.CancelRequested() || ctx.Err() != nil {
			result := fmt.Sprintf("Cancelled after %d steps", executed)
			task.Cancelled(result)
			r.bus.Publish(schemas.Event{Type: schemas.EventTaskCancelled, TaskID: task.ID(), Result: result})
			log.Info("Task cancelled.", zap.Int("steps", executed))
			return nil
		}

		log.Info("Agent step.", zap.Int("step", step), zap.Int("max_steps", task.MaxSteps()))

		shot, err := r.driver.Screenshot(ctx)
		if err != nil {
			r.failTask(task, fmt.Sprintf("screenshot failed: %v", err))
			return nil
		}

		dc := provider.DecisionContext{
			Instruction:    task.Instruction(),
			Screenshot:     shot,
			History:        history,
			LastExecError:  lastExecError,
			CorrectiveNote: correctiveNote,
		}
		lastExecError = ""
		correctiveNote = ""

		action, err := r.provider.Decide(ctx, dc)
		if err != nil {
			var decodeErr *provider.DecodeError
			if errors.As(err, &decodeErr) {
				decodeFailures++
				log.Warn("Model output could not be decoded.",
					zap.Int("consecutive", decodeFailures), zap.Error(err))
				if decodeFailures >= r.cfg.DecodeRetries {
					r.failTask(task, fmt.Sprintf("%s: model produced no usable action after %d attempts", ErrCodeDecodeFailure, decodeFailures))
					return nil
				}
				correctiveNote = "Your previous reply was not a valid action. " +
					"Respond with exactly one action in the documented format."
				continue
			}
			r.failTask(task, fmt.Sprintf("%s: decision provider error: %v", ErrCodeProviderFailure, err))
			return nil
		}
		decodeFailures = 0

		switch action.Kind {
		case schemas.ActionDone:
			result := action.Text
			if result == "" {
				result = "Task completed"
			}
			task.Complete(result, executed)
			r.bus.Publish(schemas.Event{Type: schemas.EventTaskCompleted, TaskID: task.ID(), Result: result})
			log.Info("Task completed.", zap.Int("steps", executed))
			return nil

		case schemas.ActionError:
			r.failTask(task, action.Text)
			return nil
		}

		// Loop detection: identical decisions across the whole window mean
		// the model is stuck. The repeated action is not executed; the
		// model gets corrective feedback instead.
		sig := action.Signature()
		recentSigs = append(recentSigs, sig)
		if len(recentSigs) > r.cfg.LoopWindow {
			recentSigs = recentSigs[1:]
		}
		if isStuck(recentSigs, r.cfg.LoopWindow) {
			log.Warn("Loop detected.", zap.String("signature", sig))
			r.bus.Publish(schemas.Event{
				Type:   schemas.EventLoopDetected,
				TaskID: task.ID(),
				Detail: sig,
			})
			correctiveNote = stuckNote
			recentSigs = recentSigs[:0]
			continue
		}

		outcome := "ok"
		if execErr := r.executeAction(ctx, action); execErr != nil {
			lastExecError = execErr.Error()
			outcome = lastExecError
			log.Warn("Action failed.", zap.String("action", action.Summary()), zap.Error(execErr))

			if sig == lastFailedSig {
				failStreak++
			} else {
				lastFailedSig = sig
				failStreak = 1
			}
			if failStreak >= r.cfg.ExecFailThreshold {
				r.failTask(task, fmt.Sprintf("%s: action %q failed %d times in a row: %s",
					ErrCodeExecutionFailure, action.Summary(), failStreak, lastExecError))
				return nil
			}
		} else {
			failStreak = 0
			lastFailedSig = ""
		}

		executed++
		task.RecordStep(executed, action.Summary())
		history = append(history, schemas.HistoryEntry{Step: executed, Action: action, Outcome: outcome})
		r.bus.Publish(schemas.Event{
			Type:   schemas.EventStep,
			TaskID: task.ID(),
			Step:   executed,
			Action: action.Summary(),
		})

		if r.cfg.StepDelay > 0 {
			select {
			case <-time.After(r.cfg.StepDelay):
			case <-ctx.Done():
			}
		}
	}

	r.failTask(task, fmt.Sprintf("%s: max steps (%d) reached without completing the task", ErrCodeMaxStepsReached, task.MaxSteps()))
	return nil
}

// executeAction translates and runs one action against the driver.
func (r *Runner) executeAction(ctx context.Context, action schemas.AgentAction) error {
	cmds, err := r.translator.Translate(action)
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := r.driver.Execute(ctx, cmd); err != nil {
			return fmt.Errorf("action %s failed: %w", action.Kind, err)
		}
	}
	return nil
}

func (r *Runner) failTask(task *Task, msg string) {
	task.Fail(msg)
	r.bus.Publish(schemas.Event{Type: schemas.EventTaskFailed, TaskID: task.ID(), Error: msg})
	r.logger.Warn("Task failed.", zap.String("task_id", task.ID()), zap.String("error", msg))
}

// isStuck reports whether the last window signatures are all identical.
func isStuck(recent []string, window int) bool {
	if window < 2 || len(recent) < window {
		return false
	}
	first := recent[len(recent)-window]
	for _, sig := range recent[len(recent)-window+1:] {
		if sig != first {
			return false
		}
	}
	return true
}
