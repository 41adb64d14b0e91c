// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client. Message is written
// for end users; Cause keeps the underlying error for logs.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeStream   // Ollama reported an error inside the stream
	ErrTypeCanceled // the caller gave up
)

// String returns a stable label, used for metrics and logs.
func (t ErrorType) String() string {
	switch t {
	case ErrTypeNotRunning:
		return "not_running"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeModelNotFound:
		return "model_not_found"
	case ErrTypeConnection:
		return "connection"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeStream:
		return "stream"
	case ErrTypeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// User-facing messages.
const (
	msgHealthTimeout   = "Connection to Ollama timed out. Please check if Ollama is responsive."
	msgChatTimeout     = "Request timed out. Please try again."
	msgStreamTimeout   = "Request timed out. Ollama may be overloaded."
	msgUnreachable     = "Cannot connect to Ollama. Please ensure Ollama is running."
	msgListNotFound    = "Ollama API endpoint not found. Please update Ollama to latest version."
	msgChatNotFound    = "Ollama API endpoint not found. Please check Ollama version."
	msgServerError     = "Ollama server error"
	msgInvalidResponse = "Invalid response from Ollama"
	msgCanceled        = "Request was cancelled"
	msgInterrupted     = "Connection to Ollama was interrupted"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

// transportError classifies a failure to reach Ollama or to keep reading
// from it.
func (c *Client) transportError(err error, timeoutMsg string) *ClientError {
	switch {
	case errors.Is(err, context.Canceled):
		return &ClientError{Type: ErrTypeCanceled, Message: msgCanceled, Cause: err}
	case errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err):
		return &ClientError{Type: ErrTypeTimeout, Message: timeoutMsg, Cause: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ClientError{
			Type:    ErrTypeNotRunning,
			Message: "Cannot connect to Ollama at " + c.config.BaseURL + ". Please start Ollama.",
			Cause:   err,
		}
	default:
		return &ClientError{Type: ErrTypeConnection, Message: msgUnreachable, Cause: err}
	}
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// statusError turns a non-200 response into a ClientError, preferring the
// error text Ollama put in the body.
func statusError(resp *http.Response, notFoundMsg string) *ClientError {
	var body OllamaError
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(data, &body)

	switch {
	case resp.StatusCode == http.StatusNotFound && body.Error != "":
		// Ollama answers 404 for unknown models.
		return &ClientError{Type: ErrTypeModelNotFound, Message: body.Error}
	case resp.StatusCode == http.StatusNotFound:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: notFoundMsg}
	case body.Error != "":
		return &ClientError{Type: ErrTypeInvalidResponse, Message: body.Error}
	case resp.StatusCode == http.StatusInternalServerError:
		return &ClientError{Type: ErrTypeInvalidResponse, Message: msgServerError}
	default:
		return &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "Ollama API error: " + strconv.Itoa(resp.StatusCode),
		}
	}
}

// =============================================================================
// HELPERS
// =============================================================================

// TypeOf returns the ErrorType of err, or ErrTypeUnknown.
func TypeOf(err error) ErrorType {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type
	}
	return ErrTypeUnknown
}

// UserMessage returns the user-facing message of err.
func UserMessage(err error) string {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Message
	}
	return "Failed to generate response"
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return TypeOf(err) == ErrTypeModelNotFound
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return TypeOf(err) == ErrTypeNotRunning
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return TypeOf(err) == ErrTypeTimeout
}

// IsCanceled checks if the caller abandoned the request.
func IsCanceled(err error) bool {
	return TypeOf(err) == ErrTypeCanceled
}
