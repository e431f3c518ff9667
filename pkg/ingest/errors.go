// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package ingest

import (
	"errors"
	"net/http"
)

// Error codes for ingest operations
type ErrorCode int

const (
	ErrCodeNone ErrorCode = iota
	ErrCodeDuplicate
	ErrCodeInvalidName
	ErrCodeInvalidPath
	ErrCodeInvalidMetadata
	ErrCodeMissingStaged
	ErrCodeReconstruction
	ErrCodeInsufficientStorage
	ErrCodeInternal
)

// Sentinels for errors.Is. Only the code is compared.
var (
	ErrDuplicate           = &Error{Code: ErrCodeDuplicate, Message: "file already exists"}
	ErrInvalidName         = &Error{Code: ErrCodeInvalidName, Message: "invalid file name"}
	ErrInvalidPath         = &Error{Code: ErrCodeInvalidPath, Message: "invalid target path"}
	ErrInvalidMetadata     = &Error{Code: ErrCodeInvalidMetadata, Message: "invalid upload metadata"}
	ErrMissingStaged       = &Error{Code: ErrCodeMissingStaged, Message: "staged content missing"}
	ErrReconstruction      = &Error{Code: ErrCodeReconstruction, Message: "reconstruction failed"}
	ErrInsufficientStorage = &Error{Code: ErrCodeInsufficientStorage, Message: "insufficient storage"}
)

// Error represents an ingest error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the code to the status returned to upload clients.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeDuplicate:
		return http.StatusConflict
	case ErrCodeInvalidName, ErrCodeInvalidPath, ErrCodeInvalidMetadata:
		return http.StatusBadRequest
	case ErrCodeInsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// CodeString is the machine-readable code sent to clients.
func (e *Error) CodeString() string {
	switch e.Code {
	case ErrCodeDuplicate:
		return "ERR_DUPLICATE_FILE"
	case ErrCodeInvalidName:
		return "ERR_INVALID_NAME"
	case ErrCodeInvalidPath:
		return "ERR_INVALID_PATH"
	case ErrCodeInvalidMetadata:
		return "ERR_INVALID_METADATA"
	case ErrCodeMissingStaged:
		return "ERR_MISSING_STAGED"
	case ErrCodeReconstruction:
		return "ERR_RECONSTRUCTION"
	case ErrCodeInsufficientStorage:
		return "ERR_INSUFFICIENT_STORAGE"
	default:
		return "ERR_INTERNAL"
	}
}

func newError(code ErrorCode, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the ingest code carried by err, or ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeNone
	}
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ErrCodeInternal
}
