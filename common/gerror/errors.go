package gerror

import (
	"errors"
	"net/http"
)

const (
	ErrCodeInternal             Code = "Internal"
	ErrCodeValidationFailed     Code = "ValidationFailed"
	ErrCodeNotFound             Code = "NotFound"
	ErrCodeAlreadyExists        Code = "AlreadyExists"
	ErrCodeOptimisticLockFailed Code = "OptimisticLockFailed"
	ErrCodeSizeLimitExceeded    Code = "SizeLimitExceeded"
	ErrCodeStorageIO            Code = "StorageIO"
	ErrCodeConsistencyFault     Code = "ConsistencyFault"
)

// ToError locates an Error in the provided error chain and returns it if it
// matches the provided code. Otherwise, returns nil.
func ToError(err error, code Code) *Error {
	if err == nil {
		return nil
	}
	var gErr Error
	if errors.As(err, &gErr) && gErr.Code() == code {
		return &gErr
	}
	return nil
}

func NewErrInternal() Error {
	return NewError(
		"An internal server error occurred",
		AudienceExternal,
		ErrCodeInternal,
		http.StatusInternalServerError,
		nil,
	)
}

func ToInternal(err error) *Error {
	return ToError(err, ErrCodeInternal)
}

func IsInternal(err error) bool {
	return ToInternal(err) != nil
}

func NewErrValidationFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeValidationFailed, http.StatusBadRequest, nil)
}

func ToValidationFailed(err error) *Error {
	return ToError(err, ErrCodeValidationFailed)
}

func IsValidationFailed(err error) bool {
	return ToValidationFailed(err) != nil
}

func NewErrNotFound(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeNotFound, http.StatusNotFound, nil)
}

func ToNotFound(err error) *Error {
	return ToError(err, ErrCodeNotFound)
}

func IsNotFound(err error) bool {
	return ToNotFound(err) != nil
}

func NewErrAlreadyExists(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeAlreadyExists, http.StatusBadRequest, nil)
}

func ToAlreadyExists(err error) *Error {
	return ToError(err, ErrCodeAlreadyExists)
}

func IsAlreadyExists(err error) bool {
	return ToAlreadyExists(err) != nil
}

func NewErrOptimisticLockFailed(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeOptimisticLockFailed, http.StatusPreconditionFailed, nil)
}

func ToOptimisticLockFailed(err error) *Error {
	return ToError(err, ErrCodeOptimisticLockFailed)
}

func IsOptimisticLockFailed(err error) bool {
	return ToOptimisticLockFailed(err) != nil
}

// NewErrSizeLimitExceeded is returned when an upload crosses the configured
// size ceiling. The upload is rejected before any ledger or blob mutation.
func NewErrSizeLimitExceeded(message string) Error {
	return NewError(message, AudienceExternal, ErrCodeSizeLimitExceeded, http.StatusBadRequest, nil)
}

func ToSizeLimitExceeded(err error) *Error {
	return ToError(err, ErrCodeSizeLimitExceeded)
}

func IsSizeLimitExceeded(err error) bool {
	return ToSizeLimitExceeded(err) != nil
}

// NewErrStorageIO is returned when the underlying byte storage is unavailable
// or fails mid-operation. No partial state is committed.
func NewErrStorageIO(message string, err error) Error {
	return NewError(message, AudienceInternal, ErrCodeStorageIO, http.StatusInternalServerError, err)
}

func ToStorageIO(err error) *Error {
	return ToError(err, ErrCodeStorageIO)
}

func IsStorageIO(err error) bool {
	return ToStorageIO(err) != nil
}

// NewErrConsistencyFault is returned when the reference ledger is observed in
// a state that must never occur under correct operation, such as a negative
// reference count. It is always logged and surfaced, never tolerated.
func NewErrConsistencyFault(message string) Error {
	return NewError(message, AudienceInternal, ErrCodeConsistencyFault, http.StatusInternalServerError, nil)
}

func ToConsistencyFault(err error) *Error {
	return ToError(err, ErrCodeConsistencyFault)
}

func IsConsistencyFault(err error) bool {
	return ToConsistencyFault(err) != nil
}
