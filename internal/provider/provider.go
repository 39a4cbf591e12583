// internal/provider/provider.go
// Package provider abstracts "given what the page looks like, what should
// the agent do next" behind a single interface with two implementations: a
// conversational computer-use provider that keeps the full multi-turn
// exchange, and a stateless single-turn provider for small local vision
// models.
package provider

import (
	"context"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
)

// DecisionContext is everything a provider may consult for one decision.
// Stateless providers use the instruction, history and latest screenshot;
// conversational providers additionally fold the execution feedback into
// their running exchange.
type DecisionContext struct {
	// Instruction is the task being pursued. Constant across a run.
	Instruction string

	// Screenshot is the current page, scaled to model space.
	Screenshot browser.Screenshot

	// History holds the executed steps so far, oldest first.
	History []schemas.HistoryEntry

	// LastExecError carries the failure message when the previous action
	// could not be executed, so the model can self-correct.
	LastExecError string

	// CorrectiveNote is injected guidance (e.g. after loop detection).
	CorrectiveNote string
}

// Provider produces the next action for a task. Implementations must be
// safe for sequential reuse across steps of one task; Reset discards any
// per-task conversation state before the provider serves another task.
type Provider interface {
	Decide(ctx context.Context, dc DecisionContext) (schemas.AgentAction, error)
	Reset()
	Name() string
}

// normalizeKind folds the native action vocabularies of both providers
// into the canonical kinds. Unknown names pass through so the executor can
// report them back to the model.
func normalizeKind(name string) schemas.ActionKind {
	switch name {
	case "left_click", "click", "middle_click", "triple_click":
		return schemas.ActionClick
	case "double_click":
		return schemas.ActionDoubleClick
	case "right_click":
		return schemas.ActionRightClick
	case "type":
		return schemas.ActionType
	case "key", "hold_key":
		return schemas.ActionKey
	case "scroll":
		return schemas.ActionScroll
	case "wait":
		return schemas.ActionWait
	case "screenshot", "cursor_position", "mouse_move":
		return schemas.ActionScreenshot
	case "done":
		return schemas.ActionDone
	default:
		return schemas.ActionKind(name)
	}
}
