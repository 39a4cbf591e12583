// internal/agent/errors.go
package agent

// ErrorCode is a string type used for structured failure reporting from the
// loop and translator. Using a custom type ensures only predefined
// constants appear where an ErrorCode is expected.
type ErrorCode string

const (
	// -- Execution errors --
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION_TYPE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"

	// -- Decision errors --
	ErrCodeDecodeFailure   ErrorCode = "DECODE_FAILURE"
	ErrCodeProviderFailure ErrorCode = "PROVIDER_FAILURE"

	// -- Run-level errors --
	ErrCodeMaxStepsReached ErrorCode = "MAX_STEPS_REACHED"
)
