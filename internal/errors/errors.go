package errors

import "fmt"

type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigNotFound = &AppError{Code: "CONFIG_001", Message: "configuration not found"}
	ErrConfigInvalid  = &AppError{Code: "CONFIG_002", Message: "invalid configuration"}

	ErrProviderNotConfigured = &AppError{Code: "LLM_001", Message: "no LLM provider configured"}
	ErrProviderUnavailable   = &AppError{Code: "LLM_002", Message: "LLM provider unavailable"}
	ErrMalformedResponse     = &AppError{Code: "LLM_003", Message: "malformed provider response"}
	ErrRateLimited           = &AppError{Code: "LLM_004", Message: "rate limit exceeded"}

	ErrToolNotFound = &AppError{Code: "TOOL_001", Message: "tool not found"}
	ErrToolBadArgs  = &AppError{Code: "TOOL_002", Message: "invalid tool arguments"}

	ErrMemoryNotFound  = &AppError{Code: "MEMORY_001", Message: "memory not found"}
	ErrMemoryCorrupted = &AppError{Code: "MEMORY_002", Message: "memory store corrupted"}

	ErrSessionNotFound = &AppError{Code: "SESSION_001", Message: "session not found"}

	ErrNotFound   = &AppError{Code: "GEN_001", Message: "resource not found"}
	ErrBadRequest = &AppError{Code: "GEN_002", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_003", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}
