// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"net/http"
)

// MatrixError is a structured error response from the homeserver.
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.Code == ErrCodeGuestAccessForbidden { ... }
type MatrixError struct {
	// Code is the Matrix error code (e.g. "M_FORBIDDEN").
	Code string `json:"errcode"`
	// Message is the server's human-readable description.
	Message string `json:"error"`
	// StatusCode is the HTTP status of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Matrix error codes the client reacts to.
const (
	ErrCodeForbidden            = "M_FORBIDDEN"
	ErrCodeUnknownToken         = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound             = "M_NOT_FOUND"
	ErrCodeLimitExceeded        = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized         = "M_UNRECOGNIZED"
	ErrCodeUnknown              = "M_UNKNOWN"
	ErrCodeGuestAccessForbidden = "M_GUEST_ACCESS_FORBIDDEN"
)

// IsMatrixError reports whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// IsTransient reports whether err is worth retrying: rate limiting or
// a server-side failure. Transport errors that never produced a
// response are also transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var matrixErr *MatrixError
	if !errors.As(err, &matrixErr) {
		return true
	}
	return matrixErr.Code == ErrCodeLimitExceeded || matrixErr.StatusCode >= http.StatusInternalServerError
}
