// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package streamclient

import (
	"errors"
	"strconv"
)

var (
	// ErrAborted means the turn was cancelled by the user.
	ErrAborted = errors.New("request aborted")

	// ErrTimeout means the turn ran past the client request timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrIncomplete means the stream closed without a final event.
	ErrIncomplete = errors.New("stream ended before the reply finished")

	// ErrBusy means a turn is already in flight on this Chat.
	ErrBusy = errors.New("a message is already being sent")

	// ErrEmptyMessage means there was nothing to send.
	ErrEmptyMessage = errors.New("message is empty")
)

// APIError is a failure reported by the server, either as an error response
// or as a failed stream event (Status 0).
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return e.Message
	}
	return strconv.Itoa(e.Status) + ": " + e.Message
}

// Display messages.
const (
	msgTimeout    = "Request timed out. Please try again."
	msgAborted    = "Request was cancelled."
	msgConnect    = "Failed to connect to server. Please try again."
	msgIncomplete = "The reply was cut off. Please try again."
	msgNoResponse = "Failed to get response"
)

// DisplayMessage returns the text shown to the user for err.
func DisplayMessage(err error) string {
	var apiErr *APIError
	switch {
	case errors.Is(err, ErrTimeout):
		return msgTimeout
	case errors.Is(err, ErrAborted):
		return msgAborted
	case errors.Is(err, ErrIncomplete):
		return msgIncomplete
	case errors.As(err, &apiErr):
		if apiErr.Message == "" {
			return msgNoResponse
		}
		return apiErr.Message
	default:
		return msgConnect
	}
}
