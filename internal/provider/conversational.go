// internal/provider/conversational.go
package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	stdjson "encoding/json"
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

const (
	anthropicVersion = "2023-06-01"
	computerUseBeta  = "computer-use-2025-01-24"
	computerToolType = "computer_20250124"

	conversationalSystemPrompt = `You are a browser automation agent. You control a Chromium browser through screenshots and actions.

## How you work
1. You see a screenshot of the browser.
2. You decide what action to take (click, type, scroll, etc.).
3. Your action is executed, and you get a new screenshot showing the result.
4. Repeat until the task is complete.

## Guidelines
- After each action, carefully examine the new screenshot to verify the action worked as expected before proceeding.
- If something didn't work, try an alternative approach (keyboard shortcuts, different coordinates, scrolling to find elements).
- Use keyboard shortcuts when UI elements are hard to click (Tab, Enter, Escape, Ctrl+A, etc.).
- When typing in fields, click the field first to ensure it's focused.
- Scroll to find elements that may be below the fold.
- Be precise with coordinates — click the center of buttons and links.
- When the task is complete, respond with a text message summarizing what you did.

## Important
- The user has already logged in manually. Do NOT try to log in.
- Work efficiently — minimize unnecessary actions.
- If you get stuck in a loop, try a completely different approach.`
)

// -- Anthropic Messages API shapes --

type anthImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use blocks.
	ID    string             `json:"id,omitempty"`
	Name  string             `json:"name,omitempty"`
	Input stdjson.RawMessage `json:"input,omitempty"`

	// tool_result blocks.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   any    `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image blocks.
	Source *anthImageSource `json:"source,omitempty"`
}

type anthMessage struct {
	Role    string             `json:"role"`
	Content []anthContentBlock `json:"content"`
}

type anthTool struct {
	Type            string `json:"type"`
	Name            string `json:"name"`
	DisplayWidthPx  int    `json:"display_width_px"`
	DisplayHeightPx int    `json:"display_height_px"`
}

type anthRequest struct {
	Model     string        `json:"model"`
	MaxTokens int           `json:"max_tokens"`
	System    string        `json:"system,omitempty"`
	Tools     []anthTool    `json:"tools"`
	Messages  []anthMessage `json:"messages"`
}

type anthResponse struct {
	Content    []anthContentBlock `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ConversationalProvider keeps the full multi-turn computer-use exchange:
// each decision extends the conversation with the previous action's result
// (screenshot or error) and the model's next tool call.
type ConversationalProvider struct {
	cfg        config.AnthropicConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger

	displayWidth  int
	displayHeight int

	messages      []anthMessage
	pendingToolID string
	started       bool

	backoffFactory func() backoff.BackOff
}

var _ Provider = (*ConversationalProvider)(nil)

// NewConversationalProvider builds the provider for a given model-space
// display size.
func NewConversationalProvider(cfg config.AnthropicConfig, displayWidth, displayHeight int, limiter *rate.Limiter, logger *zap.Logger) (*ConversationalProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ConversationalProvider{
		cfg:           cfg,
		httpClient:    &http.Client{Timeout: timeout},
		limiter:       limiter,
		logger:        logger.Named("provider.conversational"),
		displayWidth:  displayWidth,
		displayHeight: displayHeight,
		backoffFactory: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 2 * time.Minute
			b.MaxInterval = 30 * time.Second
			return b
		},
	}, nil
}

func (p *ConversationalProvider) Name() string { return "conversational" }

// Reset discards the conversation so the provider can serve a new task.
func (p *ConversationalProvider) Reset() {
	p.messages = nil
	p.pendingToolID = ""
	p.started = false
}

// Decide extends the exchange with the latest observation and returns the
// model's next action. A reply without a tool call means the task is done
// and the text is the result.
func (p *ConversationalProvider) Decide(ctx context.Context, dc DecisionContext) (schemas.AgentAction, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return schemas.AgentAction{}, err
		}
	}

	p.appendObservation(dc)

	payload := anthRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    conversationalSystemPrompt,
		Tools: []anthTool{{
			Type:            computerToolType,
			Name:            "computer",
			DisplayWidthPx:  p.displayWidth,
			DisplayHeightPx: p.displayHeight,
		}},
		Messages: p.messages,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return schemas.AgentAction{}, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	resp, err := p.post(ctx, body)
	if err != nil {
		return schemas.AgentAction{}, err
	}

	// Fold the assistant turn into the conversation before interpreting it.
	p.messages = append(p.messages, anthMessage{Role: "assistant", Content: resp.Content})

	var textParts []string
	var toolUse *anthContentBlock
	for i := range resp.Content {
		block := &resp.Content[i]
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			if toolUse == nil {
				toolUse = block
			}
		}
	}

	if toolUse == nil {
		p.pendingToolID = ""
		result := strings.Join(textParts, "\n")
		if result == "" {
			result = "Task completed"
		}
		return schemas.AgentAction{Kind: schemas.ActionDone, Text: result}, nil
	}

	// The tool call stays pending either way: the API rejects any
	// conversation whose tool_use has no tool_result in the next user
	// turn, so a decode failure must still be answered (with an is_error
	// result carrying the corrective note).
	p.pendingToolID = toolUse.ID
	var wa wireAction
	if err := json.Unmarshal(toolUse.Input, &wa); err != nil || wa.Action == "" {
		return schemas.AgentAction{}, &DecodeError{Raw: string(toolUse.Input)}
	}
	return wa.toAgentAction(), nil
}

// appendObservation adds the user turn for this decision: the opening
// instruction on the first call, the previous tool's result afterwards.
func (p *ConversationalProvider) appendObservation(dc DecisionContext) {
	image := &anthContentBlock{
		Type: "image",
		Source: &anthImageSource{
			Type:      "base64",
			MediaType: "image/png",
			Data:      base64.StdEncoding.EncodeToString(dc.Screenshot.PNG),
		},
	}

	if !p.started {
		p.started = true
		p.messages = append(p.messages, anthMessage{
			Role:    "user",
			Content: []anthContentBlock{{Type: "text", Text: dc.Instruction}, *image},
		})
		return
	}

	if p.pendingToolID == "" {
		// No outstanding tool call; send a plain observation.
		p.messages = append(p.messages, anthMessage{
			Role:    "user",
			Content: []anthContentBlock{*image},
		})
		return
	}

	result := anthContentBlock{Type: "tool_result", ToolUseID: p.pendingToolID}
	switch {
	case dc.CorrectiveNote != "":
		result.Content = dc.CorrectiveNote
		result.IsError = true
	case dc.LastExecError != "":
		result.Content = dc.LastExecError
		result.IsError = true
	default:
		result.Content = []anthContentBlock{*image}
	}
	p.messages = append(p.messages, anthMessage{Role: "user", Content: []anthContentBlock{result}})
	p.pendingToolID = ""
}

// post performs the HTTP exchange with transient-error retries.
func (p *ConversationalProvider) post(ctx context.Context, body []byte) (*anthResponse, error) {
	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/v1/messages"

	var parsed anthResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", p.cfg.APIKey)
		req.Header.Set("anthropic-version", anthropicVersion)
		req.Header.Set("anthropic-beta", computerUseBeta)

		start := time.Now()
		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyHTTPError("anthropic", resp.StatusCode, respBody)
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		p.logger.Info("Model decision complete.",
			zap.Duration("duration", time.Since(start)),
			zap.String("stop_reason", parsed.StopReason),
			zap.Int("input_tokens", parsed.Usage.InputTokens),
			zap.Int("output_tokens", parsed.Usage.OutputTokens))
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(p.backoffFactory(), ctx)); err != nil {
		return nil, err
	}
	return &parsed, nil
}
