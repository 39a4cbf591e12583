// internal/provider/provider_test.go
package provider

import (
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/webpilot-ai/webpilot/api/schemas"
	"github.com/webpilot-ai/webpilot/internal/browser"
	"github.com/webpilot-ai/webpilot/internal/config"
)

// -- JSON extraction --

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		text string
		want string
	}{
		{"raw object", `{"action": "done", "text": "ok"}`, "done"},
		{"fenced block", "Here you go:\n```json\n{\"action\": \"left_click\", \"coordinate\": [1, 2]}\n```", "left_click"},
		{"bare fence", "```\n{\"action\": \"type\", \"text\": \"hi\"}\n```", "type"},
		{"embedded braces", `I think the next step is {"action": "scroll"} probably`, "scroll"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var wa wireAction
			require.True(t, extractObject(tc.text, &wa))
			assert.Equal(t, tc.want, wa.Action)
		})
	}

	var wa wireAction
	assert.False(t, extractObject("no json here at all", &wa))
}

func TestWireActionNormalization(t *testing.T) {
	a := wireAction{Action: "left_click", Coordinate: []int{120, 340}}.toAgentAction()
	assert.Equal(t, schemas.ActionClick, a.Kind)
	require.NotNil(t, a.Coordinate)
	assert.Equal(t, 120, a.Coordinate.X)

	k := wireAction{Action: "key", Text: "ctrl+a"}.toAgentAction()
	assert.Equal(t, schemas.ActionKey, k.Kind)
	assert.Equal(t, "ctrl+a", k.Key)
	assert.Empty(t, k.Text)

	unknown := wireAction{Action: "teleport"}.toAgentAction()
	assert.Equal(t, schemas.ActionKind("teleport"), unknown.Kind)
}

// -- Stateless provider --

func fastBackoff() backoff.BackOff {
	return backoff.NewConstantBackOff(time.Millisecond)
}

func testScreenshot() browser.Screenshot {
	return browser.Screenshot{PNG: []byte{0x89, 'P', 'N', 'G'}, Width: 1280, Height: 800}
}

func newStateless(t *testing.T, url string) *StatelessProvider {
	t.Helper()
	p := NewStatelessProvider(config.OllamaConfig{BaseURL: url, Model: "test-model"}, nil, zaptest.NewLogger(t))
	p.backoffFactory = fastBackoff
	return p
}

func ollamaReply(content string) string {
	b, _ := stdjson.Marshal(map[string]any{"message": map[string]string{"content": content}})
	return string(b)
}

func TestStatelessDecideParsesAction(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, stdjson.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(ollamaReply(`{"action": "left_click", "coordinate": [300, 500]}`)))
	}))
	defer srv.Close()

	p := newStateless(t, srv.URL)
	action, err := p.Decide(context.Background(), DecisionContext{
		Instruction: "search for flights",
		Screenshot:  testScreenshot(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Kind)
	require.NotNil(t, action.Coordinate)
	assert.Equal(t, 300, action.Coordinate.X)

	// Request shape: system + single user turn carrying the screenshot.
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Contains(t, gotReq.Messages[1].Content, "TASK: search for flights")
	assert.Contains(t, gotReq.Messages[1].Content, "first action")
	assert.Len(t, gotReq.Messages[1].Images, 1)
}

func TestStatelessPromptNudgesDoneAfterEnoughSteps(t *testing.T) {
	p := newStateless(t, "http://unused")

	history := make([]schemas.HistoryEntry, 0, 5)
	for i := 0; i < 5; i++ {
		history = append(history, schemas.HistoryEntry{
			Step:   i + 1,
			Action: schemas.AgentAction{Kind: schemas.ActionClick, Coordinate: &schemas.Point{X: i, Y: i}},
		})
	}

	prompt := p.buildUserPrompt(DecisionContext{Instruction: "book it", History: history})
	assert.Contains(t, prompt, "Has the task been completed?")

	short := p.buildUserPrompt(DecisionContext{Instruction: "book it", History: history[:2]})
	assert.Contains(t, short, "What is the NEXT action?")
	assert.NotContains(t, short, "Has the task been completed?")
}

func TestStatelessPromptCarriesFeedback(t *testing.T) {
	p := newStateless(t, "http://unused")
	prompt := p.buildUserPrompt(DecisionContext{
		Instruction:    "do the thing",
		History:        []schemas.HistoryEntry{{Step: 1, Action: schemas.AgentAction{Kind: schemas.ActionClick}}},
		LastExecError:  "element not clickable",
		CorrectiveNote: "You appear to be stuck repeating the same action.",
	})
	assert.Contains(t, prompt, "element not clickable")
	assert.Contains(t, prompt, "stuck repeating")
}

func TestStatelessDecideReturnsDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(ollamaReply("I am not sure what to do next.")))
	}))
	defer srv.Close()

	p := newStateless(t, srv.URL)
	_, err := p.Decide(context.Background(), DecisionContext{Instruction: "x", Screenshot: testScreenshot()})

	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)
	assert.Contains(t, decodeErr.Raw, "not sure")
}

func TestStatelessRetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(ollamaReply(`{"action": "done", "text": "finished"}`)))
	}))
	defer srv.Close()

	p := newStateless(t, srv.URL)
	action, err := p.Decide(context.Background(), DecisionContext{Instruction: "x", Screenshot: testScreenshot()})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDone, action.Kind)
	assert.Equal(t, int32(3), calls.Load())
}

func TestStatelessPermanentErrorDoesNotRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": "bad model name"}`))
	}))
	defer srv.Close()

	p := newStateless(t, srv.URL)
	_, err := p.Decide(context.Background(), DecisionContext{Instruction: "x", Screenshot: testScreenshot()})

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

// -- Conversational provider --

func anthToolUseReply(id, input string) string {
	return `{"content": [{"type": "tool_use", "id": "` + id + `", "name": "computer", "input": ` + input + `}], "stop_reason": "tool_use", "usage": {"input_tokens": 10, "output_tokens": 5}}`
}

func newConversational(t *testing.T, url string) *ConversationalProvider {
	t.Helper()
	p, err := NewConversationalProvider(config.AnthropicConfig{
		APIKey:    "test-key",
		Model:     "test-model",
		BaseURL:   url,
		MaxTokens: 1024,
	}, 1280, 800, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	p.backoffFactory = fastBackoff
	return p
}

func TestConversationalFirstTurnAndToolUse(t *testing.T) {
	var gotReq anthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, computerUseBeta, r.Header.Get("anthropic-beta"))
		require.NoError(t, stdjson.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(anthToolUseReply("tu_1", `{"action": "left_click", "coordinate": [10, 20]}`)))
	}))
	defer srv.Close()

	p := newConversational(t, srv.URL)
	action, err := p.Decide(context.Background(), DecisionContext{
		Instruction: "open the menu",
		Screenshot:  testScreenshot(),
	})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionClick, action.Kind)

	// The computer tool advertises the scaled display size.
	require.Len(t, gotReq.Tools, 1)
	assert.Equal(t, computerToolType, gotReq.Tools[0].Type)
	assert.Equal(t, 1280, gotReq.Tools[0].DisplayWidthPx)

	// First user turn holds the instruction and the opening screenshot.
	require.Len(t, gotReq.Messages, 1)
	require.Len(t, gotReq.Messages[0].Content, 2)
	assert.Equal(t, "open the menu", gotReq.Messages[0].Content[0].Text)
	assert.Equal(t, "image", gotReq.Messages[0].Content[1].Type)
}

func TestConversationalSendsToolResults(t *testing.T) {
	replies := []string{
		anthToolUseReply("tu_1", `{"action": "type", "text": "hello"}`),
		anthToolUseReply("tu_2", `{"action": "key", "text": "Enter"}`),
	}
	var requests []anthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthRequest
		require.NoError(t, stdjson.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)
		w.Write([]byte(replies[len(requests)-1]))
	}))
	defer srv.Close()

	p := newConversational(t, srv.URL)
	ctx := context.Background()

	_, err := p.Decide(ctx, DecisionContext{Instruction: "greet", Screenshot: testScreenshot()})
	require.NoError(t, err)

	// Second decision reports an execution failure for the first tool call.
	_, err = p.Decide(ctx, DecisionContext{
		Instruction:   "greet",
		Screenshot:    testScreenshot(),
		LastExecError: "input not focused",
	})
	require.NoError(t, err)

	second := requests[1]
	// user(instruction), assistant(tool_use), user(tool_result)
	require.Len(t, second.Messages, 3)
	result := second.Messages[2].Content[0]
	assert.Equal(t, "tool_result", result.Type)
	assert.Equal(t, "tu_1", result.ToolUseID)
	assert.True(t, result.IsError)
	assert.Equal(t, "input not focused", result.Content)
}

func TestConversationalDecodeFailureAnswersPendingToolCall(t *testing.T) {
	replies := []string{
		anthToolUseReply("tu_1", `{"not_an_action": true}`),
		anthToolUseReply("tu_2", `{"action": "left_click", "coordinate": [10, 20]}`),
	}
	var requests []anthRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req anthRequest
		require.NoError(t, stdjson.NewDecoder(r.Body).Decode(&req))
		requests = append(requests, req)
		w.Write([]byte(replies[len(requests)-1]))
	}))
	defer srv.Close()

	p := newConversational(t, srv.URL)
	ctx := context.Background()

	_, err := p.Decide(ctx, DecisionContext{Instruction: "go", Screenshot: testScreenshot()})
	var decodeErr *DecodeError
	require.ErrorAs(t, err, &decodeErr)

	// The undecodable tool call must still be answered on the retry turn;
	// a dangling tool_use makes the whole conversation invalid.
	_, err = p.Decide(ctx, DecisionContext{
		Instruction:    "go",
		Screenshot:     testScreenshot(),
		CorrectiveNote: "Your previous reply was not a valid action.",
	})
	require.NoError(t, err)

	second := requests[1]
	// user(instruction), assistant(tool_use), user(tool_result)
	require.Len(t, second.Messages, 3)
	result := second.Messages[2].Content[0]
	assert.Equal(t, "tool_result", result.Type)
	assert.Equal(t, "tu_1", result.ToolUseID)
	assert.True(t, result.IsError)
	assert.Equal(t, "Your previous reply was not a valid action.", result.Content)
}

func TestConversationalTextOnlyReplyMeansDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content": [{"type": "text", "text": "Booked the flight for you."}], "stop_reason": "end_turn", "usage": {}}`))
	}))
	defer srv.Close()

	p := newConversational(t, srv.URL)
	action, err := p.Decide(context.Background(), DecisionContext{Instruction: "book", Screenshot: testScreenshot()})
	require.NoError(t, err)
	assert.Equal(t, schemas.ActionDone, action.Kind)
	assert.Equal(t, "Booked the flight for you.", action.Text)
}

func TestConversationalResetClearsConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(anthToolUseReply("tu_9", `{"action": "screenshot"}`)))
	}))
	defer srv.Close()

	p := newConversational(t, srv.URL)
	_, err := p.Decide(context.Background(), DecisionContext{Instruction: "a", Screenshot: testScreenshot()})
	require.NoError(t, err)
	assert.NotEmpty(t, p.messages)

	p.Reset()
	assert.Empty(t, p.messages)
	assert.Empty(t, p.pendingToolID)
	assert.False(t, p.started)
}

func TestConversationalRequiresAPIKey(t *testing.T) {
	_, err := NewConversationalProvider(config.AnthropicConfig{}, 100, 100, nil, zaptest.NewLogger(t))
	assert.Error(t, err)
}

// -- Factory --

func TestFactorySelectsProvider(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p, err := New(config.ProviderConfig{
		Kind:      "anthropic",
		Anthropic: config.AnthropicConfig{APIKey: "k", Model: "m"},
	}, 100, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, "conversational", p.Name())

	p, err = New(config.ProviderConfig{
		Kind:   "ollama",
		Ollama: config.OllamaConfig{BaseURL: "http://localhost:11434", Model: "m"},
	}, 100, 100, logger)
	require.NoError(t, err)
	assert.Equal(t, "stateless", p.Name())

	_, err = New(config.ProviderConfig{Kind: "mystery"}, 100, 100, logger)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider kind")
}
