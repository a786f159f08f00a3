package protocol

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/KeeprDigital/stream-keepr/go/internal/topics"
)

// ErrorCode classifies failures reported to a client.
type ErrorCode string

const (
	CodeInvalidMessage        ErrorCode = "InvalidMessage"
	CodeInvalidTopic          ErrorCode = "InvalidTopic"
	CodeInvalidAction         ErrorCode = "InvalidAction"
	CodeNotSubscribed         ErrorCode = "NotSubscribed"
	CodeHandlerFailure        ErrorCode = "HandlerFailure"
	CodeTransportDisconnected ErrorCode = "TransportDisconnected"
	CodeAckTimeout            ErrorCode = "AckTimeout"
)

// Status maps a code onto an HTTP status.
func (c ErrorCode) Status() int {
	switch c {
	case CodeInvalidMessage, CodeInvalidTopic, CodeInvalidAction:
		return http.StatusBadRequest
	case CodeNotSubscribed:
		return http.StatusForbidden
	case CodeTransportDisconnected:
		return http.StatusServiceUnavailable
	case CodeAckTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a transport boundary failure.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
	Status  int       `json:"status"`
}

func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message, Status: code.Status()}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is matches errors by code so callers can compare against ErrNotSubscribed and friends.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrNotSubscribed = NewError(CodeNotSubscribed, "not subscribed to topic")
	ErrAckTimeout    = NewError(CodeAckTimeout, "acknowledgement timed out")
	ErrDisconnected  = NewError(CodeTransportDisconnected, "not connected")
)

// AsError classifies err into the protocol taxonomy.
func AsError(err error) *Error {
	var perr *Error
	if errors.As(err, &perr) {
		return perr
	}

	var verr *topics.ValidationError
	switch {
	case errors.As(err, &verr):
		e := NewError(CodeInvalidAction, verr.Error())
		e.Details = verr.Field
		return e
	case errors.Is(err, topics.ErrInvalidTopic):
		return NewError(CodeInvalidTopic, err.Error())
	case errors.Is(err, topics.ErrInvalidAction):
		return NewError(CodeInvalidAction, err.Error())
	default:
		return NewError(CodeHandlerFailure, err.Error())
	}
}
