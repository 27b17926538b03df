package storage

import (
	"fmt"
	"net/http"
)

// APIError is a non-2xx answer from the storage service.
type APIError struct {
	Op         string         `json:"-"`
	StatusCode int            `json:"-"`
	Message    string         `json:"message,omitempty"`
	Detail     string         `json:"error,omitempty"`
	Raw        map[string]any `json:"-"`
	RequestID  string         `json:"-"`
}

func (e *APIError) Error() string {
	msg := e.Detail
	if msg == "" {
		msg = e.Message
	}
	switch {
	case msg != "" && e.RequestID != "":
		return fmt.Sprintf("storage %s: status=%d request_id=%s message=%s", e.Op, e.StatusCode, e.RequestID, msg)
	case msg != "":
		return fmt.Sprintf("storage %s: status=%d message=%s", e.Op, e.StatusCode, msg)
	case e.RequestID != "":
		return fmt.Sprintf("storage %s: status=%d request_id=%s", e.Op, e.StatusCode, e.RequestID)
	}
	return fmt.Sprintf("storage %s: status=%d", e.Op, e.StatusCode)
}

// NotFoundError indicates the requested dataset, user or room does not exist.
type NotFoundError struct{ *APIError }

func (e *NotFoundError) Error() string { return fmt.Sprintf("not found: %s", e.APIError.Error()) }

// BadRequestError indicates the storage service rejected the request (4xx).
type BadRequestError struct{ *APIError }

func (e *BadRequestError) Error() string { return fmt.Sprintf("bad request: %s", e.APIError.Error()) }

// ServerError indicates 5xx errors from the storage service.
type ServerError struct{ *APIError }

func (e *ServerError) Error() string { return fmt.Sprintf("storage error: %s", e.APIError.Error()) }

// UnreachableError indicates the storage service could not be contacted.
type UnreachableError struct {
	Host string
	Err  error
}

func (e *UnreachableError) Error() string {
	if e == nil {
		return "unreachable"
	}
	if e.Host != "" {
		return fmt.Sprintf("storage unreachable at %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("storage unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// classify maps an APIError to a typed error by status. The storage service
// answers unknown ids with 400 and a gorm "record not found" message, which is
// reported as NotFoundError.
func classify(apiErr *APIError) error {
	sc := apiErr.StatusCode
	switch {
	case sc == http.StatusNotFound:
		return &NotFoundError{APIError: apiErr}
	case sc == http.StatusBadRequest && containsFold(apiErr.Detail, "record not found"):
		return &NotFoundError{APIError: apiErr}
	case sc >= 400 && sc <= 499:
		return &BadRequestError{APIError: apiErr}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}
