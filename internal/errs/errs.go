package errs

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrTicketNotFound      = errors.New("ticket not found")
	ErrQueueNotFound       = errors.New("queue not found")
	ErrMessageNotFound     = errors.New("message not found")
	ErrContactNotFound     = errors.New("contact not found")
	ErrConnectionNotFound  = errors.New("whatsapp connection not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrCompanyNotFound     = errors.New("company not found")
	ErrIntegrationNotFound = errors.New("integration not found")
	// ErrDuplicate — нарушение уникального ограничения (гонка find-or-create).
	ErrDuplicate = errors.New("duplicate key violation")
)

// Stable codes surfaced to API callers.
const (
	CodeQueueNotFound = "ERR_UPDATE_TICKET_QUEUE_NOT_FOUND"
	CodeUpdateTicket  = "ERR_UPDATE_TICKET"
	CodeNoTicketFound = "ERR_NO_TICKET_FOUND"
)

// Error — типизированная ошибка с кодом и HTTP-статусом.
type Error struct {
	Code   string
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Validation wraps err as a caller mistake (400).
func Validation(code string, err error) *Error {
	return &Error{Code: code, Status: http.StatusBadRequest, Err: err}
}

// Unexpected wraps err as a generic failure of the operation identified by code (404, as the public API reports it).
func Unexpected(code string, err error) *Error {
	return &Error{Code: code, Status: http.StatusNotFound, Err: err}
}

// StatusOf returns the HTTP status for err: typed errors carry their own, known sentinels map to 404,
// anything else is 500.
func StatusOf(err error) int {
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	switch {
	case errors.Is(err, ErrTicketNotFound), errors.Is(err, ErrMessageNotFound),
		errors.Is(err, ErrContactNotFound), errors.Is(err, ErrConnectionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrQueueNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicate):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// CodeOf returns the stable code of a typed error, or "" for untyped ones.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
