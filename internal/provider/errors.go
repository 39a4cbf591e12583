// internal/provider/errors.go
package provider

import "fmt"

// DecodeError reports that the model replied but no usable action could be
// extracted. The agent loop retries these against its decode budget.
type DecodeError struct {
	Raw string
}

func (e *DecodeError) Error() string {
	raw := e.Raw
	if len(raw) > 200 {
		raw = raw[:200] + "..."
	}
	return fmt.Sprintf("could not decode an action from model output: %q", raw)
}

// APIError reports a non-retryable upstream failure after the transport
// retry policy is exhausted.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := e.Body
	if len(body) > 300 {
		body = body[:300] + "..."
	}
	return fmt.Sprintf("%s API error: status %d, body: %s", e.Provider, e.StatusCode, body)
}
