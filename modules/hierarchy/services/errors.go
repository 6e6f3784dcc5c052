package services

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/iota-uz/orgtree/modules/hierarchy/domain/node"
	"github.com/iota-uz/orgtree/pkg/tenantlock"
)

type ErrorKind string

const (
	KindNotFound               ErrorKind = "NotFound"
	KindParentNotFound         ErrorKind = "ParentNotFound"
	KindInvalidOperation       ErrorKind = "InvalidOperation"
	KindCycleDetected          ErrorKind = "CycleDetected"
	KindParentInactive         ErrorKind = "ParentInactive"
	KindDepthExceeded          ErrorKind = "DepthExceeded"
	KindConcurrentModification ErrorKind = "ConcurrentModification"
	KindInternal               ErrorKind = "Internal"
)

const (
	CodeNotFound               = "HIER_NOT_FOUND"
	CodeParentNotFound         = "HIER_PARENT_NOT_FOUND"
	CodeInvalidOperation       = "HIER_INVALID_OPERATION"
	CodeInvalidBody            = "HIER_INVALID_BODY"
	CodeCycleDetected          = "HIER_CYCLE_DETECTED"
	CodeParentInactive         = "HIER_PARENT_INACTIVE"
	CodeDepthExceeded          = "HIER_DEPTH_EXCEEDED"
	CodeConcurrentModification = "HIER_CONCURRENT_MODIFICATION"
	CodeConflict               = "HIER_CONFLICT"
	CodeInternal               = "HIER_INTERNAL"
)

type ServiceError struct {
	Kind    ErrorKind
	Status  int
	Code    string
	Message string
	Cause   error
}

func (e *ServiceError) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the same call may succeed.
func (e *ServiceError) Retryable() bool {
	return e.Kind == KindConcurrentModification
}

func newServiceError(kind ErrorKind, status int, code, message string, cause error) *ServiceError {
	return &ServiceError{Kind: kind, Status: status, Code: code, Message: message, Cause: cause}
}

func errNotFound(message string, cause error) *ServiceError {
	return newServiceError(KindNotFound, http.StatusNotFound, CodeNotFound, message, cause)
}

func errParentNotFound(message string, cause error) *ServiceError {
	return newServiceError(KindParentNotFound, http.StatusUnprocessableEntity, CodeParentNotFound, message, cause)
}

func errInvalidOperation(message string) *ServiceError {
	return newServiceError(KindInvalidOperation, http.StatusUnprocessableEntity, CodeInvalidOperation, message, nil)
}

func errCycleDetected(message string) *ServiceError {
	return newServiceError(KindCycleDetected, http.StatusConflict, CodeCycleDetected, message, nil)
}

func errParentInactive(message string) *ServiceError {
	return newServiceError(KindParentInactive, http.StatusConflict, CodeParentInactive, message, nil)
}

func errDepthExceeded(level, limit int) *ServiceError {
	return newServiceError(KindDepthExceeded, http.StatusUnprocessableEntity, CodeDepthExceeded,
		fmt.Sprintf("depth %d exceeds the limit of %d levels", level, limit), nil)
}

func errConcurrentModification(message string, cause error) *ServiceError {
	return newServiceError(KindConcurrentModification, http.StatusConflict, CodeConcurrentModification, message, cause)
}

// KindOf returns the kind of the first ServiceError in err's chain, or
// KindInternal for any other non-nil error.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Kind
	}
	return KindInternal
}

func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// mapStoreError turns store and driver errors into ServiceErrors. Errors
// that are already ServiceErrors pass through.
func mapStoreError(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, node.ErrNotFound) || errors.Is(err, pgx.ErrNoRows) {
		return errNotFound("not found", err)
	}
	if errors.Is(err, tenantlock.ErrNotAcquired) {
		recordWriteConflict("lock")
		return errConcurrentModification("scope is locked by another structural change", err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return newServiceError(KindInternal, http.StatusInternalServerError, CodeInternal, "hierarchy store error", err)
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		recordWriteConflict("unique")
		return newServiceError(KindInvalidOperation, http.StatusConflict, CodeConflict, "unique constraint violated", err)
	case "23503": // foreign_key_violation
		recordWriteConflict("foreign_key")
		return errParentNotFound("parent not found", err)
	case "23514": // check_violation
		return newServiceError(KindInvalidOperation, http.StatusUnprocessableEntity, CodeInvalidOperation, "check constraint violated", err)
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		recordWriteConflict("serialization")
		return errConcurrentModification("concurrent structural change", err)
	default:
		return newServiceError(KindInternal, http.StatusInternalServerError, CodeInternal, fmt.Sprintf("database error (%s)", pgErr.Code), err)
	}
}
