package remote

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed remote call.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindServerRejected    ErrorKind = "server_rejected"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error is a failed remote call with its classification.
type Error struct {
	Kind       ErrorKind
	Op         string
	StatusCode int // set for KindServerRejected
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkError reports a transport failure: the request never produced a response.
func NetworkError(op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Message: "request failed", Err: err}
}

// RejectedError reports a non-success HTTP status.
func RejectedError(op string, status int, body string) *Error {
	msg := fmt.Sprintf("server returned %d", status)
	if body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	return &Error{Kind: KindServerRejected, Op: op, StatusCode: status, Message: msg}
}

// MalformedError reports a response that does not match the route's schema.
func MalformedError(op, message string, err error) *Error {
	return &Error{Kind: KindMalformedResponse, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of a remote error anywhere in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return ""
}
