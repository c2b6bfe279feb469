// Package weberr attaches HTTP responses and log fields to errors, so that
// handlers can return plain errors and leave rendering to the Errors
// middleware.
package weberr

import (
	"net/http"
)

type ErrorResponse struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

type RequestError struct {
	Err error
}

func (r *RequestError) Error() string { return r.Err.Error() }

func (r *RequestError) Unwrap() error { return r.Err }

// NewError wraps err with a response carrying msg and status. Options run
// after the default response, so WithResponse or WithDetails replace it.
func NewError(err error, msg string, status int, opts ...Opt) error {
	e := &RequestError{Err: err}
	opts = append([]Opt{WithResponse(&ErrorResponse{Error: msg}, status)}, opts...)

	return Wrap(e, opts...)
}

func BadRequest(err error, opts ...Opt) error {
	return NewError(err, "bad request", http.StatusBadRequest, opts...)
}

func NotAuthorized(err error, opts ...Opt) error {
	return NewError(err, "not authorized to access resource", http.StatusUnauthorized, opts...)
}

func Forbidden(err error, opts ...Opt) error {
	return NewError(err, "not permitted to perform this operation", http.StatusForbidden, opts...)
}

func NotFound(err error, opts ...Opt) error {
	return NewError(err, "the resource could not be found", http.StatusNotFound, opts...)
}

func Conflict(err error, opts ...Opt) error {
	return NewError(err, "the operation conflicts with one in progress", http.StatusConflict, opts...)
}

func TooManyRequests(err error, opts ...Opt) error {
	return NewError(err, "too many requests, try again later", http.StatusTooManyRequests, opts...)
}

func InternalError(err error, opts ...Opt) error {
	return NewError(err, "the server encountered a problem and could not process your request", http.StatusInternalServerError, opts...)
}

func BadGateway(err error, opts ...Opt) error {
	return NewError(err, "an upstream service failed", http.StatusBadGateway, opts...)
}

func Unavailable(err error, opts ...Opt) error {
	return NewError(err, "the service is temporarily unavailable", http.StatusServiceUnavailable, opts...)
}

func GatewayTimeout(err error, opts ...Opt) error {
	return NewError(err, "the operation did not finish in time", http.StatusGatewayTimeout, opts...)
}
