// internal/browser/chrome.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotStarted is returned for any operation attempted before Start.
var ErrNotStarted = errors.New("browser: not started")

const defaultOpTimeout = 30 * time.Second

// Chrome drives a real Chrome instance over the DevTools protocol. It is
// the production Driver implementation; exactly one instance serves the
// whole process.
type Chrome struct {
	cfg    config.BrowserConfig
	logger *zap.Logger
	scaler *Scaler

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

var _ Driver = (*Chrome)(nil)

// NewChrome builds an unstarted driver.
func NewChrome(cfg config.BrowserConfig, logger *zap.Logger) *Chrome {
	return &Chrome{
		cfg:    cfg,
		logger: logger.Named("browser"),
		scaler: NewScaler(cfg.WindowWidth, cfg.WindowHeight),
	}
}

// Start launches Chrome and waits for the DevTools connection.
func (c *Chrome) Start(ctx context.Context) error {
	if c.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(c.cfg.WindowWidth, c.cfg.WindowHeight),
	)
	if c.cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if c.cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(c.cfg.UserDataDir))
	}

	c.allocCtx, c.allocCancel = chromedp.NewExecAllocator(ctx, opts...)
	c.browserCtx, c.browserCancel = chromedp.NewContext(c.allocCtx,
		chromedp.WithErrorf(c.logger.Sugar().Errorf),
	)

	if err := chromedp.Run(c.browserCtx); err != nil {
		c.teardown()
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	c.logger.Info("Browser started.",
		zap.Bool("headless", c.cfg.Headless),
		zap.Int("width", c.cfg.WindowWidth),
		zap.Int("height", c.cfg.WindowHeight))
	return nil
}

func (c *Chrome) teardown() {
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.browserCtx = nil
	c.allocCtx = nil
}

// run executes chromedp actions against the browser context, honoring both
// the per-op timeout and the caller's context.
func (c *Chrome) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if c.browserCtx == nil {
		return ErrNotStarted
	}
	runCtx, cancel := context.WithTimeout(c.browserCtx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a URL, waits for the load event, then applies the
// configured post-load settle delay.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	timeout := c.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c.logger.Info("Navigating.", zap.String("url", url))
	if err := c.run(ctx, timeout, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if c.cfg.PostLoadWait > 0 {
		select {
		case <-time.After(c.cfg.PostLoadWait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// CurrentURL reports the active page location.
func (c *Chrome) CurrentURL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, defaultOpTimeout, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

// Screenshot captures the viewport as PNG, downscaled to model space via a
// capture clip so no separate image pipeline is needed.
func (c *Chrome) Screenshot(ctx context.Context) (Screenshot, error) {
	var buf []byte
	capture := chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithClip(&page.Viewport{
				X:      0,
				Y:      0,
				Width:  float64(c.cfg.WindowWidth),
				Height: float64(c.cfg.WindowHeight),
				Scale:  c.scaler.Factor(),
			}).
			Do(ctx)
		return err
	})
	if err := c.run(ctx, defaultOpTimeout, capture); err != nil {
		return Screenshot{}, fmt.Errorf("screenshot capture failed: %w", err)
	}
	w, h := c.scaler.ModelSize()
	return Screenshot{PNG: buf, Width: w, Height: h}, nil
}

// Execute dispatches one resolved command via raw DevTools input events.
func (c *Chrome) Execute(ctx context.Context, cmd Command) error {
	switch cmd.Op {
	case OpNavigate:
		return c.Navigate(ctx, cmd.URL)

	case OpClick:
		return c.run(ctx, defaultOpTimeout, c.clickAction(cmd))

	case OpType:
		return c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(cmd.Text).Do(ctx)
		}))

	case OpKey:
		keys, opts, err := resolveKey(cmd.Key, cmd.Modifiers)
		if err != nil {
			return err
		}
		return c.run(ctx, defaultOpTimeout, chromedp.KeyEvent(keys, opts...))

	case OpScroll:
		return c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
			return input.DispatchMouseEvent(input.MouseWheel, cmd.X, cmd.Y).
				WithDeltaX(cmd.DeltaX).
				WithDeltaY(cmd.DeltaY).
				Do(ctx)
		}))

	case OpWait:
		select {
		case <-time.After(cmd.Duration):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case OpNoop:
		return nil

	default:
		return fmt.Errorf("unknown command op %q", cmd.Op)
	}
}

// clickAction dispatches a press/release pair at the command's coordinates.
func (c *Chrome) clickAction(cmd Command) chromedp.Action {
	button := input.Left
	if cmd.Button == "right" {
		button = input.Right
	}
	clicks := int64(cmd.ClickCount)
	if clicks < 1 {
		clicks = 1
	}
	return chromedp.ActionFunc(func(ctx context.Context) error {
		move := input.DispatchMouseEvent(input.MouseMoved, cmd.X, cmd.Y)
		if err := move.Do(ctx); err != nil {
			return err
		}
		for i := int64(1); i <= clicks; i++ {
			press := input.DispatchMouseEvent(input.MousePressed, cmd.X, cmd.Y).
				WithButton(button).
				WithClickCount(i)
			if err := press.Do(ctx); err != nil {
				return err
			}
			release := input.DispatchMouseEvent(input.MouseReleased, cmd.X, cmd.Y).
				WithButton(button).
				WithClickCount(i)
			if err := release.Do(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// namedKeys maps normalized key names to the control runes chromedp's
// keyboard layer understands.
var namedKeys = map[string]string{
	"Enter":      kb.Enter,
	"Tab":        kb.Tab,
	"Escape":     kb.Escape,
	"Backspace":  kb.Backspace,
	"Delete":     kb.Delete,
	"ArrowUp":    kb.ArrowUp,
	"ArrowDown":  kb.ArrowDown,
	"ArrowLeft":  kb.ArrowLeft,
	"ArrowRight": kb.ArrowRight,
	"Home":       kb.Home,
	"End":        kb.End,
	"PageUp":     kb.PageUp,
	"PageDown":   kb.PageDown,
}

var modifierBits = map[string]input.Modifier{
	"Control": input.ModifierCtrl,
	"Alt":     input.ModifierAlt,
	"Shift":   input.ModifierShift,
	"Meta":    input.ModifierMeta,
}

func resolveKey(key string, modifiers []string) (string, []chromedp.KeyOption, error) {
	keys, ok := namedKeys[key]
	if !ok {
		// Single characters pass through as-is; anything else is a key
		// name the vocabulary does not cover.
		if len([]rune(key)) != 1 {
			return "", nil, fmt.Errorf("unsupported key %q", key)
		}
		keys = key
	}

	var mods []input.Modifier
	for _, m := range modifiers {
		bit, ok := modifierBits[m]
		if !ok {
			return "", nil, fmt.Errorf("unsupported modifier %q", m)
		}
		mods = append(mods, bit)
	}
	var opts []chromedp.KeyOption
	if len(mods) > 0 {
		opts = append(opts, chromedp.KeyModifiers(mods...))
	}
	return keys, opts, nil
}

// InjectOnLoad registers a script evaluated on every new document.
func (c *Chrome) InjectOnLoad(ctx context.Context, script string) error {
	return c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		return err
	}))
}

// Evaluate runs an expression in the page context.
func (c *Chrome) Evaluate(ctx context.Context, expression string, out any) error {
	return c.run(ctx, defaultOpTimeout, chromedp.Evaluate(expression, out))
}

// persistedCookie is the on-disk cookie representation.
type persistedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	HTTPOnly bool    `json:"http_only,omitempty"`
	SameSite string  `json:"same_site,omitempty"`
}

// SaveSession writes the browser's cookies to path as JSON.
func (c *Chrome) SaveSession(ctx context.Context, path string) error {
	var cookies []*network.Cookie
	err := c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to read cookies: %w", err)
	}

	persisted := make([]persistedCookie, 0, len(cookies))
	for _, ck := range cookies {
		persisted = append(persisted, persistedCookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
			SameSite: string(ck.SameSite),
		})
	}
	data, err := json.MarshalIndent(persisted, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	c.logger.Info("Session saved.", zap.String("path", path), zap.Int("cookies", len(persisted)))
	return nil
}

// RestoreSession loads cookies from path. A missing file is not an error:
// there is simply no session to restore.
func (c *Chrome) RestoreSession(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read session file: %w", err)
	}
	var persisted []persistedCookie
	if err := json.Unmarshal(data, &persisted); err != nil {
		return fmt.Errorf("session file %s is corrupt: %w", path, err)
	}

	params := make([]*network.CookieParam, 0, len(persisted))
	for _, ck := range persisted {
		p := &network.CookieParam{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Secure:   ck.Secure,
			HTTPOnly: ck.HTTPOnly,
		}
		if ck.SameSite != "" {
			p.SameSite = network.CookieSameSite(ck.SameSite)
		}
		if ck.Expires > 0 {
			exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
			p.Expires = &exp
		}
		params = append(params, p)
	}
	if len(params) == 0 {
		return nil
	}
	err = c.run(ctx, defaultOpTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		return network.SetCookies(params).Do(ctx)
	}))
	if err != nil {
		return fmt.Errorf("failed to restore cookies: %w", err)
	}
	c.logger.Info("Session restored.", zap.String("path", path), zap.Int("cookies", len(params)))
	return nil
}

// Scaler exposes the coordinate mapping for the configured viewport.
func (c *Chrome) Scaler() *Scaler { return c.scaler }

// Close tears the browser down. Safe to call on an unstarted driver.
func (c *Chrome) Close(ctx context.Context) error {
	if c.browserCtx == nil {
		return nil
	}
	c.logger.Info("Closing browser.")
	// Give Chrome a chance to exit cleanly before cancelling contexts.
	if err := chromedp.Cancel(c.browserCtx); err != nil && !strings.Contains(err.Error(), "context canceled") {
		c.logger.Warn("Browser did not close cleanly.", zap.Error(err))
	}
	c.teardown()
	return nil
}
