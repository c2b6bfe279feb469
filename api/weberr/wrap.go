package weberr

import "errors"

type Opt func(error) error

func Wrap(err error, opts ...Opt) error {
	for _, opt := range opts {
		err = opt(err)
	}
	return err
}

// WithResponse sets the body and status rendered for the error.
func WithResponse(body interface{}, status int) Opt {
	return func(err error) error {
		return &responseError{error: err, body: body, status: status}
	}
}

// WithDetails keeps the status of the current response and attaches details
// to its body.
func WithDetails(details interface{}) Opt {
	return func(err error) error {
		body, status, ok := Response(err)
		if !ok {
			return err
		}
		msg := ""
		if er, ok := body.(*ErrorResponse); ok {
			msg = er.Error
		}
		return &responseError{error: err, body: &ErrorResponse{Error: msg, Details: details}, status: status}
	}
}

// WithFields adds structured log fields to the error.
func WithFields(fields map[string]interface{}) Opt {
	return func(err error) error {
		return &fieldsError{error: err, fields: fields}
	}
}

func Response(err error) (body interface{}, status int, ok bool) {
	var re *responseError
	if errors.As(err, &re) {
		return re.body, re.status, true
	}
	return nil, 0, false
}

func Fields(err error) (map[string]interface{}, bool) {
	var fe *fieldsError
	if errors.As(err, &fe) {
		return fe.fields, true
	}
	return nil, false
}

type responseError struct {
	error
	body   interface{}
	status int
}

func (e *responseError) Unwrap() error { return e.error }

type fieldsError struct {
	error
	fields map[string]interface{}
}

func (e *fieldsError) Unwrap() error { return e.error }
