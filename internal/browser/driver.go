// internal/browser/driver.go
// Package browser owns the managed Chrome instance: lifecycle, screenshot
// capture at model scale, low-level input dispatch, interaction recording
// and cookie persistence.
package browser

import (
	"context"
	"time"
)

// CommandOp enumerates the primitive operations the driver can execute.
// Commands are produced by the action translator; one agent action may
// expand to several commands.
type CommandOp string

const (
	OpNavigate CommandOp = "navigate"
	OpClick    CommandOp = "click"
	OpType     CommandOp = "type"
	OpKey      CommandOp = "key"
	OpScroll   CommandOp = "scroll"
	OpWait     CommandOp = "wait"
	OpNoop     CommandOp = "noop"
)

// Command is a fully resolved browser instruction. Coordinates are in
// viewport pixels; all model-space translation happens before a Command is
// built.
type Command struct {
	Op CommandOp

	// Mouse parameters.
	X, Y       float64
	Button     string // "left", "right"; empty means left
	ClickCount int    // 2 for double click

	// Keyboard parameters. Text is literal input for OpType; Key is a
	// normalized key name for OpKey, with zero or more modifiers.
	Text      string
	Key       string
	Modifiers []string

	// Scroll deltas in viewport pixels.
	DeltaX, DeltaY float64

	// Wait duration for OpWait.
	Duration time.Duration

	// Navigation target for OpNavigate.
	URL string
}

// Screenshot is a captured page image, already scaled to model space.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
}

// Driver abstracts the browser so the agent loop, replay interpreter and
// recorder can be tested without a live Chrome.
type Driver interface {
	// Start launches the browser and blocks until it is ready.
	Start(ctx context.Context) error

	// Navigate loads a URL and waits for the load event.
	Navigate(ctx context.Context, url string) error

	// CurrentURL reports the active page location.
	CurrentURL(ctx context.Context) (string, error)

	// Screenshot captures the viewport scaled for model consumption.
	Screenshot(ctx context.Context) (Screenshot, error)

	// Execute dispatches one resolved command.
	Execute(ctx context.Context, cmd Command) error

	// InjectOnLoad registers a script evaluated on every new document,
	// before any page script runs.
	InjectOnLoad(ctx context.Context, script string) error

	// Evaluate runs an expression in the page and unmarshals the result
	// into out. Pass nil to discard the result.
	Evaluate(ctx context.Context, expression string, out any) error

	// SaveSession and RestoreSession persist browser cookies to disk.
	SaveSession(ctx context.Context, path string) error
	RestoreSession(ctx context.Context, path string) error

	// Scaler exposes the coordinate mapping between viewport and model
	// space for the current viewport.
	Scaler() *Scaler

	// Close tears the browser down.
	Close(ctx context.Context) error
}
