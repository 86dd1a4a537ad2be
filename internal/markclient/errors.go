package markclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed submission.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindInvalidRequest
	KindUnauthorized
	KindNotFound
	KindServerError
	KindTimeout
	KindUnexpectedResponse
)

var kindKeys = map[ErrorKind]string{
	KindNetwork:            "submit_network",
	KindInvalidRequest:     "submit_invalid_request",
	KindUnauthorized:       "submit_unauthorized",
	KindNotFound:           "submit_not_found",
	KindServerError:        "submit_server_error",
	KindTimeout:            "submit_timeout",
	KindUnexpectedResponse: "submit_unexpected_response",
}

// Key is the feedback catalog key for k.
func (k ErrorKind) Key() string {
	if s, ok := kindKeys[k]; ok {
		return s
	}
	return "submit_network"
}

func (k ErrorKind) String() string { return k.Key() }

// SubmissionError is a classified mark failure.
type SubmissionError struct {
	Kind       ErrorKind
	StatusCode int
	// Message is the server-provided message, if any.
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Message != "" && e.StatusCode != 0:
		return fmt.Sprintf("%s (%d): %s", e.Kind.Key(), e.StatusCode, e.Message)
	case e.Message != "":
		return e.Kind.Key() + ": " + e.Message
	case e.Err != nil:
		return e.Kind.Key() + ": " + e.Err.Error()
	default:
		return e.Kind.Key()
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// KindOf returns the kind of err, defaulting to KindNetwork.
func KindOf(err error) ErrorKind {
	var se *SubmissionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindNetwork
}
