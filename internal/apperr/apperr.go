// Package apperr holds the error kinds returned by the engines and their
// mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
)

type NotFoundError struct {
	Entity string
	ID     any
}

func (e *NotFoundError) Error() string {
	if e.ID == nil {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

type InvalidStateError struct {
	Msg string
}

func (e *InvalidStateError) Error() string { return e.Msg }

type DependencyUnmetError struct {
	TaskID int64
	Unmet  []int64
}

func (e *DependencyUnmetError) Error() string {
	return fmt.Sprintf("dependencies not met for task %d: %v", e.TaskID, e.Unmet)
}

type NotAssignedError struct {
	TaskID int64
	UserID int64
}

func (e *NotAssignedError) Error() string {
	return fmt.Sprintf("task %d is not assigned to user %d", e.TaskID, e.UserID)
}

type NotOwnedError struct {
	BranchID int64
	UserID   int64
}

func (e *NotOwnedError) Error() string {
	return fmt.Sprintf("branch %d has no active ownership for user %d", e.BranchID, e.UserID)
}

type AlreadyOwnedError struct {
	BranchID int64
	UserID   int64
}

func (e *AlreadyOwnedError) Error() string {
	return fmt.Sprintf("branch %d is already owned by user %d", e.BranchID, e.UserID)
}

type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

type UnauthorizedError struct {
	Msg string
}

func (e *UnauthorizedError) Error() string { return e.Msg }

type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func NotFound(entity string, id any) error { return &NotFoundError{Entity: entity, ID: id} }

func InvalidState(format string, args ...any) error {
	return &InvalidStateError{Msg: fmt.Sprintf(format, args...)}
}

func DependencyUnmet(taskID int64, unmet []int64) error {
	ids := append([]int64(nil), unmet...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &DependencyUnmetError{TaskID: taskID, Unmet: ids}
}

func Validation(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) error { return &UnauthorizedError{Msg: msg} }

func Conflict(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// Status maps an engine error to its HTTP status. Unknown errors are 500.
func Status(err error) int {
	var (
		notFound     *NotFoundError
		invalid      *InvalidStateError
		unmet        *DependencyUnmetError
		notAssigned  *NotAssignedError
		notOwned     *NotOwnedError
		alreadyOwned *AlreadyOwnedError
		validation   *ValidationError
		unauthorized *UnauthorizedError
		conflict     *ConflictError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &unmet), errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &notAssigned), errors.As(err, &notOwned):
		return http.StatusForbidden
	case errors.As(err, &alreadyOwned), errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &unauthorized):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
