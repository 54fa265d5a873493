// Package ipc implements the side-car IPC surface (spec.md §4.3): a
// loopback HTTP API served over a Unix domain socket, through which a
// node's user container asks for work, reports completion, publishes
// outputs, and declares itself finished. Translated from original_source's
// crates/compute_unit_runner/src/ipc.rs, generalized to the four-endpoint
// surface spec.md describes (that file's actix-web prototype only exposed
// two of the four).
package ipc

import (
	"context"
	"fmt"
)

// ErrorCode enumerates the IPC failure conditions spec.md §4.3 names
// explicitly; anything else is reported as Unknown with a message.
type ErrorCode string

const (
	ErrAlreadyFinish   ErrorCode = "AlreadyFinish"
	ErrInComingFinish  ErrorCode = "InComingFinish"
	ErrNotReady        ErrorCode = "NotReady"
	ErrNoAvailableData ErrorCode = "NoAvailableData"
	ErrDataMissing     ErrorCode = "DataMissing"
	ErrUnknown         ErrorCode = "Unknown"
)

// Error is the typed error surfaced over the IPC boundary.
type Error struct {
	Code ErrorCode `json:"code"`
	Msg  string    `json:"msg"`
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError builds a typed IPC error.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Unknown wraps an arbitrary error as an Unknown IPC error.
func Unknown(err error) *Error {
	return &Error{Code: ErrUnknown, Msg: err.Error()}
}

// AvailableData is the RequestAvailable response body when work exists.
type AvailableData struct {
	ID   string `json:"id"`
	Size uint32 `json:"size"`
}

// CompleteRequest is the CompleteResult request body.
type CompleteRequest struct {
	ID string `json:"id"`
}

// SubmitRequest is the SubmitOutput request body.
type SubmitRequest struct {
	ID                string `json:"id"`
	Size              uint32 `json:"size"`
	Priority          uint8  `json:"priority"`
	IsKeepData        bool   `json:"is_keep_data"`
	IsTransparentData bool   `json:"is_transparent_data"`
}

// Handler is implemented by a node's DataTracker to serve the IPC surface.
// A nil *AvailableData with a nil error from RequestAvailable means "no
// work available right now" (spec.md's "None").
type Handler interface {
	RequestAvailable(ctx context.Context, labelID string) (*AvailableData, error)
	CompleteResult(ctx context.Context, id string) error
	SubmitOutput(ctx context.Context, req SubmitRequest) error
	Finish(ctx context.Context) error
}
