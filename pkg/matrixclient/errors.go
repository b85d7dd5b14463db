// Copyright 2024-2026 Aiku AI

package matrixclient

import (
	"errors"
	"fmt"

	"maunium.net/go/mautrix"
)

// ErrProtocol marks a homeserver response that was successful at the HTTP
// level but did not contain what the client needed.
var ErrProtocol = errors.New("unexpected homeserver response")

// MatrixError is returned for every non-2xx response from the homeserver.
// Callers can use errors.As to inspect it:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) && matrixErr.StatusCode == http.StatusForbidden { ... }
type MatrixError struct {
	// StatusCode is the HTTP status code of the response.
	StatusCode int
	// Code is the Matrix error code (e.g. "M_FORBIDDEN"), if the body had one.
	Code string
	// Message is the human-readable error from the body.
	Message string
	// Body is the raw response body.
	Body string

	err error
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Unwrap exposes the underlying mautrix error, so errors.Is(err,
// mautrix.MNotFound) keeps working.
func (e *MatrixError) Unwrap() error {
	return e.err
}

// IsMatrixError checks whether err is a *MatrixError with the given code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// wrapError converts mautrix HTTP errors that carry a response into a
// *MatrixError. Transport failures without a response are returned as-is.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	var httpErr mautrix.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Response == nil {
		return err
	}
	matrixErr := &MatrixError{
		StatusCode: httpErr.Response.StatusCode,
		Body:       httpErr.ResponseBody,
		Message:    httpErr.Message,
		err:        err,
	}
	if httpErr.RespError != nil {
		matrixErr.Code = httpErr.RespError.ErrCode
		matrixErr.Message = httpErr.RespError.Err
	}
	if matrixErr.Message == "" {
		matrixErr.Message = httpErr.Response.Status
	}
	return matrixErr
}
