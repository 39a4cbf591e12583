// internal/provider/stateless.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// statelessSystemPrompt teaches the single-turn JSON vocabulary. Small
// vision models cannot sustain long multi-turn exchanges, so every call is
// self-contained: system prompt, task, history summary, latest screenshot.
const statelessSystemPrompt = `You control a browser by looking at screenshots. Respond with ONLY a JSON object.

Actions you can take:
- Click: {"action": "left_click", "coordinate": [300, 500]}
- Type: {"action": "type", "text": "Amsterdam"}
- Key press: {"action": "key", "text": "Enter"}
- Scroll down: {"action": "scroll", "coordinate": [640, 400], "scroll_direction": "down", "scroll_amount": 3}
- Done: {"action": "done", "text": "describe what you see on screen"}

The coordinate is [horizontal, vertical] in pixels. Look at the screenshot and estimate where to click.
After typing in a search box, always press Enter next.

IMPORTANT: When the task appears to be complete (the expected page or result is visible on screen), you MUST respond with the done action. Do NOT repeat actions that were already completed. If you already typed and pressed Enter, and the result page loaded, say done.

Output ONLY the JSON. No other text.`

// historyWindow bounds the action summary included in each prompt.
const historyWindow = 6

// doneNudgeThreshold is the step count after which the prompt starts
// pushing the model to declare completion.
const doneNudgeThreshold = 4

// StatelessProvider drives an Ollama-compatible chat endpoint one turn at
// a time. It holds no conversation: all context is rebuilt per call.
type StatelessProvider struct {
	cfg        config.OllamaConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	// backoffFactory is swappable so tests do not wait out real intervals.
	backoffFactory func() backoff.BackOff
}

var _ Provider = (*StatelessProvider)(nil)

// NewStatelessProvider builds the provider. limiter paces calls to the
// model endpoint; pass nil to disable pacing.
func NewStatelessProvider(cfg config.OllamaConfig, limiter *rate.Limiter, logger *zap.Logger) *StatelessProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	return &StatelessProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		logger:     logger.Named("provider.stateless"),
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}
}

func (p *StatelessProvider) Name() string { return "stateless" }

// Reset is a no-op: the provider carries no per-task state.
func (p *StatelessProvider) Reset() {}

// -- Ollama chat API shapes --

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Decide sends one self-contained turn and parses the reply into an
// action. Unparseable replies surface as *DecodeError so the caller can
// apply its retry budget.
func (p *StatelessProvider) Decide(ctx context.Context, dc DecisionContext) (schemas.AgentAction, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return schemas.AgentAction{}, err
		}
	}

	userMsg := ollamaMessage{Role: "user", Content: p.buildUserPrompt(dc)}
	if len(dc.Screenshot.PNG) > 0 {
		userMsg.Images = []string{base64.StdEncoding.EncodeToString(dc.Screenshot.PNG)}
	}

	payload := ollamaChatRequest{
		Model: p.cfg.Model,
		Messages: []ollamaMessage{
			{Role: "system", Content: statelessSystemPrompt},
			userMsg,
		},
		Stream:  false,
		Options: map[string]any{"temperature": 0.1, "num_predict": 100},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.AgentAction{}, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	content, err := p.post(ctx, body)
	if err != nil {
		return schemas.AgentAction{}, err
	}
	p.logger.Debug("Model replied.", zap.String("content", truncate(content, 500)))

	var wa wireAction
	if !extractObject(content, &wa) || wa.Action == "" {
		return schemas.AgentAction{}, &DecodeError{Raw: content}
	}
	return wa.toAgentAction(), nil
}

// buildUserPrompt assembles task, recent history, completion nudge and any
// corrective feedback into one prompt.
func (p *StatelessProvider) buildUserPrompt(dc DecisionContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "TASK: %s\n", dc.Instruction)

	if len(dc.History) > 0 {
		start := 0
		if len(dc.History) > historyWindow {
			start = len(dc.History) - historyWindow
		}
		b.WriteString("\nActions already completed:\n")
		for i, entry := range dc.History[start:] {
			fmt.Fprintf(&b, "  %d. %s\n", start+i+1, entry.Action.Summary())
		}

		if len(dc.History) >= doneNudgeThreshold {
			b.WriteString("\nLook at the screenshot. Has the task been completed? " +
				"If yes, respond with: {\"action\": \"done\", \"text\": \"description of result\"}\n" +
				"If not, what is the NEXT action?\n")
		} else {
			b.WriteString("\nWhat is the NEXT action? Look at the screenshot carefully.\n")
		}
	} else {
		b.WriteString("\nThis is the starting screenshot. What is the first action to take?\n")
	}

	if dc.LastExecError != "" {
		fmt.Fprintf(&b, "\nThe previous action failed: %s\n", dc.LastExecError)
	}
	if dc.CorrectiveNote != "" {
		fmt.Fprintf(&b, "\n%s\n", dc.CorrectiveNote)
	}

	b.WriteString("\nRespond with ONLY a JSON object.")
	return b.String()
}

// post performs the HTTP exchange with transient-error retries.
func (p *StatelessProvider) post(ctx context.Context, body []byte) (string, error) {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/api/chat"

	var content string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.logger.Warn("Network error talking to model, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyHTTPError("ollama", resp.StatusCode, respBody)
		}

		var parsed ollamaChatResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		content = parsed.Message.Content
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(p.backoffFactory(), ctx)); err != nil {
		return "", err
	}
	return content, nil
}

// classifyHTTPError marks 429/5xx as retryable and everything else as
// permanent.
func classifyHTTPError(providerName string, status int, body []byte) error {
	err := &APIError{Provider: providerName, StatusCode: status, Body: string(body)}
	switch status {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable,
		http.StatusBadGateway, http.StatusInternalServerError:
		return err
	default:
		return backoff.Permanent(err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
