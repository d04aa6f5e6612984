package errors

import (
	"encoding/json"
	"net/http"
)

// APIError is the outbound error envelope. Control-plane failures (gateway
// auth, empty pool) render a string-code shape; body-limit and proxy-side
// upstream failures render the numeric Gemini shape. A non-empty Status
// selects the Gemini shape. Upstream error bodies themselves pass through
// verbatim and never take this detour.
type APIError struct {
	HTTPStatus int
	Code       string
	Message    string
	Status     string
	Details    []map[string]interface{}
}

type controlError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// GeminiError mirrors Gemini Code Assist's error structure.
type GeminiError struct {
	Error struct {
		Code    int                      `json:"code"`
		Message string                   `json:"message"`
		Status  string                   `json:"status"`
		Details []map[string]interface{} `json:"details,omitempty"`
	} `json:"error"`
}

func New(httpStatus int, code, message string) *APIError {
	return &APIError{HTTPStatus: httpStatus, Code: code, Message: message}
}

// NewGemini builds a Gemini-shaped error carrying the canonical status
// string for the HTTP code.
func NewGemini(httpStatus int, message string) *APIError {
	return &APIError{HTTPStatus: httpStatus, Message: message, Status: toGeminiStatus(httpStatus)}
}

func (e *APIError) WithDetails(details []map[string]interface{}) *APIError {
	e.Details = details
	return e
}

func (e *APIError) ToJSON() ([]byte, error) {
	if e.Status != "" {
		return e.toGeminiJSON()
	}
	return e.toControlJSON()
}

func (e *APIError) toControlJSON() ([]byte, error) {
	errObj := controlError{}
	errObj.Error.Code = e.Code
	errObj.Error.Message = e.Message
	return json.Marshal(errObj)
}

func (e *APIError) toGeminiJSON() ([]byte, error) {
	errObj := GeminiError{}
	errObj.Error.Code = e.HTTPStatus
	errObj.Error.Message = e.Message
	errObj.Error.Status = e.Status
	if e.Details != nil {
		errObj.Error.Details = e.Details
	}
	return json.Marshal(errObj)
}

func toGeminiStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusRequestEntityTooLarge:
		return "PAYLOAD_TOO_LARGE"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusInternalServerError:
		return "INTERNAL"
	case http.StatusBadGateway:
		return "UNAVAILABLE"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		return "UNKNOWN"
	}
}
