// internal/browser/recorder.go
package browser

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RawEvent is one user interaction captured by the in-page recorder
// script, before distillation into workflow steps.
type RawEvent struct {
	Type      string      `json:"type"` // "click", "input", "key", "navigate"
	Timestamp float64     `json:"timestamp"`
	X         int         `json:"x,omitempty"`
	Y         int         `json:"y,omitempty"`
	Value     string      `json:"value,omitempty"`
	Key       string      `json:"key,omitempty"`
	URL       string      `json:"url,omitempty"`
	Element   ElementInfo `json:"element,omitempty"`
}

// ElementInfo describes the DOM element an event targeted. Descriptors are
// advisory: replay uses them to build instructions, never as strict
// locators.
type ElementInfo struct {
	Tag             string `json:"tag,omitempty"`
	ID              string `json:"id,omitempty"`
	Name            string `json:"name,omitempty"`
	Placeholder     string `json:"placeholder,omitempty"`
	Label           string `json:"label,omitempty"`
	Text            string `json:"text,omitempty"`
	AriaLabel       string `json:"aria_label,omitempty"`
	Role            string `json:"role,omitempty"`
	InputType       string `json:"input_type,omitempty"`
	Title           string `json:"title,omitempty"`
	Tooltip         string `json:"tooltip,omitempty"`
	ContentEditable bool   `json:"contenteditable,omitempty"`
	ParentContext   string `json:"parent_context,omitempty"`
	Selector        string `json:"selector,omitempty"`
}

// recorderScript runs before any page script on every new document. It
// appends interactions to a window-scoped buffer that Drain empties.
// Survives soft navigations because history pushState is wrapped.
const recorderScript = `
(() => {
  if (window.__wpRecorder) { return; }
  window.__wpRecorder = { events: [] };

  const describe = (el) => {
    if (!el || !el.tagName) { return {}; }
    const info = { tag: el.tagName.toLowerCase() };
    if (el.id) { info.id = el.id; }
    if (el.name) { info.name = el.name; }
    if (el.placeholder) { info.placeholder = el.placeholder; }
    if (el.labels && el.labels.length > 0) {
      info.label = el.labels[0].innerText.trim().slice(0, 80);
    }
    const text = (el.innerText || el.value || '').trim().slice(0, 80);
    if (text) { info.text = text; }
    const aria = el.getAttribute && el.getAttribute('aria-label');
    if (aria) { info.aria_label = aria; }
    const role = el.getAttribute && el.getAttribute('role');
    if (role) { info.role = role; }
    if (el.type) { info.input_type = el.type; }
    if (el.title) { info.title = el.title; }
    if (el.isContentEditable) { info.contenteditable = true; }
    const region = el.closest && el.closest('[aria-label], nav, header, footer, aside, form');
    if (region && region !== el) {
      info.parent_context = (region.getAttribute('aria-label') || region.tagName.toLowerCase());
    }
    if (el.id) {
      info.selector = '#' + el.id;
    } else if (el.name) {
      info.selector = el.tagName.toLowerCase() + '[name="' + el.name + '"]';
    }
    return info;
  };

  const push = (ev) => {
    ev.timestamp = Date.now() / 1000;
    window.__wpRecorder.events.push(ev);
    if (window.__wpRecorder.events.length > 5000) {
      window.__wpRecorder.events.shift();
    }
  };

  document.addEventListener('click', (e) => {
    push({ type: 'click', x: e.clientX, y: e.clientY, element: describe(e.target) });
  }, true);

  document.addEventListener('input', (e) => {
    const t = e.target;
    if (!t || t.type === 'password') { return; }
    push({ type: 'input', value: String(t.value || '').slice(0, 500), element: describe(t) });
  }, true);

  document.addEventListener('keydown', (e) => {
    if (e.key.length > 1) {
      push({ type: 'key', key: e.key, element: describe(e.target) });
    }
  }, true);

  const recordNav = () => push({ type: 'navigate', url: window.location.href });
  window.addEventListener('popstate', recordNav);
  const origPush = history.pushState;
  history.pushState = function (...args) {
    const r = origPush.apply(this, args);
    recordNav();
    return r;
  };
  recordNav();
})();
`

const drainScript = `(() => {
  if (!window.__wpRecorder) { return []; }
  const out = window.__wpRecorder.events;
  window.__wpRecorder.events = [];
  return out;
})()`

// Recorder captures raw interaction events from the live page.
type Recorder struct {
	driver Driver
	logger *zap.Logger

	recording bool
	events    []RawEvent
	started   time.Time
}

// NewRecorder builds a recorder bound to a driver.
func NewRecorder(driver Driver, logger *zap.Logger) *Recorder {
	return &Recorder{driver: driver, logger: logger.Named("recorder")}
}

// Start injects the capture script and begins accumulating events.
func (r *Recorder) Start(ctx context.Context) error {
	if r.recording {
		return fmt.Errorf("recorder already running")
	}
	if err := r.driver.InjectOnLoad(ctx, recorderScript); err != nil {
		return fmt.Errorf("failed to inject recorder script: %w", err)
	}
	// Arm the current document too; InjectOnLoad only covers future ones.
	if err := r.driver.Evaluate(ctx, recorderScript, nil); err != nil {
		return fmt.Errorf("failed to arm recorder on current page: %w", err)
	}
	r.recording = true
	r.events = r.events[:0]
	r.started = time.Now()
	r.logger.Info("Recording started.")
	return nil
}

// Drain pulls buffered events out of the page and appends them to the
// recording. Call it periodically and once more before Stop.
func (r *Recorder) Drain(ctx context.Context) error {
	if !r.recording {
		return nil
	}
	var batch []RawEvent
	if err := r.driver.Evaluate(ctx, drainScript, &batch); err != nil {
		return fmt.Errorf("failed to drain recorder events: %w", err)
	}
	r.events = append(r.events, batch...)
	return nil
}

// Stop finishes the recording and returns every captured event in order.
func (r *Recorder) Stop(ctx context.Context) ([]RawEvent, error) {
	if !r.recording {
		return nil, fmt.Errorf("recorder is not running")
	}
	if err := r.Drain(ctx); err != nil {
		r.logger.Warn("Final drain failed; returning events collected so far.", zap.Error(err))
	}
	r.recording = false
	out := make([]RawEvent, len(r.events))
	copy(out, r.events)
	r.events = nil
	r.logger.Info("Recording stopped.",
		zap.Int("events", len(out)),
		zap.Duration("duration", time.Since(r.started)))
	return out, nil
}

// Recording reports whether a capture is in progress.
func (r *Recorder) Recording() bool { return r.recording }
