// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

// Package apperr defines the error taxonomy shared by the category tree
// components. Every error carries a stable code and maps to an HTTP status,
// so handlers can report it without knowing which component produced it.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors matched with errors.Is.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrAlreadyExists = errors.New("resource already exists")
	ErrForbidden     = errors.New("forbidden")
	ErrCapacity      = errors.New("capacity exceeded")
	ErrConsistency   = errors.New("consistency check failed")
)

// AppError is a structured error with a machine-readable code.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports an unknown record.
func NotFound(resource string, id any) *AppError {
	return &AppError{
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s %v not found", resource, id),
		Status:  http.StatusNotFound,
		Err:     ErrNotFound,
	}
}

// Invalid reports bad input. Nothing was written.
func Invalid(format string, args ...any) *AppError {
	return &AppError{
		Code:    "INVALID_INPUT",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
		Err:     ErrInvalidInput,
	}
}

// AlreadyExists reports a uniqueness violation such as a duplicate URL code.
func AlreadyExists(resource, field, value string) *AppError {
	return &AppError{
		Code:    "ALREADY_EXISTS",
		Message: fmt.Sprintf("%s with %s %q already exists", resource, field, value),
		Status:  http.StatusConflict,
		Err:     ErrAlreadyExists,
	}
}

// Forbidden reports an operation the current state does not allow.
func Forbidden(format string, args ...any) *AppError {
	return &AppError{
		Code:    "FORBIDDEN",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusForbidden,
		Err:     ErrForbidden,
	}
}

// Capacity reports that a per-user limit has been reached.
func Capacity(format string, args ...any) *AppError {
	return &AppError{
		Code:    "CAPACITY_EXCEEDED",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusBadRequest,
		Err:     ErrCapacity,
	}
}

// Consistency reports a structural problem (cycle, ordering violation) that
// would corrupt the tree if the operation continued.
func Consistency(format string, args ...any) *AppError {
	return &AppError{
		Code:    "CONSISTENCY_ERROR",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusConflict,
		Err:     ErrConsistency,
	}
}

// HTTPStatus returns the HTTP status code for err.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAlreadyExists), errors.Is(err, ErrConsistency):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrCapacity):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
