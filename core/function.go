package core

import "time"

// ParameterSpec describes one declared parameter of a sandboxed function.
// TypeTag is one of the schema type tags ("integer", "float", "string",
// "boolean", "table", "any"); Required is false for parameters annotated as
// optional or covered by the variadic marker.
type ParameterSpec struct {
	Name        string `json:"name"`
	TypeTag     string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// FunctionDescriptor describes a callable discovered in a soul's module
// source. Because souls are immutable, extracting descriptors for the same
// hash always yields the same set, including across process restarts.
//
// The descriptor shape is the stable contract consumed by tool-calling
// bridges; parameters preserve declaration order.
type FunctionDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  []ParameterSpec `json:"parameters,omitempty"`
	Variadic    bool            `json:"variadic,omitempty"`
}

// Execution result codes. Every failure mode of a sandboxed call maps to
// exactly one code so callers can branch without string matching.
const (
	ExecCodeSandboxViolation = "SANDBOX_VIOLATION"
	ExecCodeFunctionNotFound = "FUNCTION_NOT_FOUND"
	ExecCodeExecutionError   = "EXECUTION_ERROR"
	ExecCodeValidationError  = "VALIDATION_ERROR"
	ExecCodeTimeout          = "TIMEOUT"
)

// ExecError is the structured failure carried inside an ExecutionResult.
// Raised guest errors never propagate as host-level faults; they are always
// converted into this shape.
type ExecError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e *ExecError) Error() string {
	return "sandbox error [" + e.Code + "]: " + e.Message
}

// ExecutionResult is the outcome of running a sandboxed function. On success
// Result holds the converted return value (a slice when the function
// returned multiple values). Output collects everything the guest printed;
// nothing is written to the host's console.
type ExecutionResult struct {
	Success  bool          `json:"success"`
	Result   any           `json:"result,omitempty"`
	Error    *ExecError    `json:"error,omitempty"`
	Output   string        `json:"output"`
	Duration time.Duration `json:"duration"`
}

// Failure builds an unsuccessful result with the given code and message.
func Failure(code, message string) *ExecutionResult {
	return &ExecutionResult{Error: &ExecError{Code: code, Message: message}}
}
