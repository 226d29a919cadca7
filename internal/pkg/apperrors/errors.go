package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	// Upstream call taxonomy. Transient errors are retried by the reliable
	// layer; permanent errors surface immediately.
	ErrTransient   ErrorType = "TRANSIENT"
	ErrPermanent   ErrorType = "PERMANENT"
	ErrCircuit     ErrorType = "CIRCUIT_OPEN"
	ErrNoProvider  ErrorType = "NO_PROVIDERS"

	ErrRiskReject     ErrorType = "RISK_REJECT"
	ErrKillSwitch     ErrorType = "KILL_SWITCH"
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrConflict       ErrorType = "CONFLICT"
	ErrUpstream       ErrorType = "UPSTREAM_ERROR"
)

// Sentinel errors used on hot paths where allocation matters more than context.
var (
	ErrCircuitOpen  = New(ErrCircuit, "circuit open", nil)
	ErrNoProviders  = New(ErrNoProvider, "no providers registered", nil)
	ErrHaltedByKill = New(ErrKillSwitch, "kill switch engaged: new orders suspended", nil)
)

// AppError is the standard error struct for the application
type AppError struct {
	Type       ErrorType `json:"code"`
	Message    string    `json:"message"`
	Suggestion string    `json:"suggestion,omitempty"`
	HTTPStatus int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{
		Type:       errType,
		Message:    msg,
		Cause:      cause,
		HTTPStatus: mapTypeToStatus(errType),
		Suggestion: mapTypeToSuggestion(errType),
	}
}

func NewTransient(msg string, cause error) *AppError {
	return New(ErrTransient, msg, cause)
}

func NewPermanent(msg string, cause error) *AppError {
	return New(ErrPermanent, msg, cause)
}

func NewRiskReject(msg string) *AppError {
	return New(ErrRiskReject, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func NewNotFound(msg string) *AppError {
	return New(ErrNotFound, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsTransient reports whether err should be retried by the reliable layer.
// Circuit-open counts as transient for retry purposes: the next attempt
// re-selects a provider whose breaker may be closed.
func IsTransient(err error) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == ErrTransient || appErr.Type == ErrCircuit
}

func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == t
}

func mapTypeToStatus(t ErrorType) int {
	switch t {
	case ErrRiskReject, ErrInvalidRequest, ErrPermanent:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrConflict:
		return http.StatusConflict
	case ErrKillSwitch:
		return http.StatusServiceUnavailable
	case ErrNotFound:
		return http.StatusNotFound
	case ErrUpstream, ErrTransient:
		return http.StatusBadGateway
	case ErrCircuit, ErrNoProvider:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func mapTypeToSuggestion(t ErrorType) string {
	switch t {
	case ErrRiskReject:
		return "Check order parameters against risk limits."
	case ErrCircuit:
		return "Upstream temporarily suspended, retry shortly."
	case ErrNoProvider:
		return "Configure at least one RPC provider."
	case ErrKillSwitch:
		return "Trading is halted; disengage the kill switch to resume."
	case ErrAuthFailed:
		return "Check API key."
	case ErrTransient:
		return "Retry the request."
	default:
		return ""
	}
}
