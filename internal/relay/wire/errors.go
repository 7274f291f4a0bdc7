package wire

import (
	"errors"

	"github.com/zeusync/arsync/internal/core/session"
)

// Relay protocol errors
var (
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrInvalidFrame   = errors.New("invalid frame")
	ErrHandshake      = errors.New("handshake failed")
	ErrSendQueueFull  = errors.New("send queue is full")
	ErrUnknownRequest = errors.New("unknown request")
)

// ErrorCode is the numeric form of an error carried in a Result frame.
type ErrorCode int

const (
	ErrorCodeSuccess ErrorCode = 0

	// Connection error codes (1000-1999)

	ErrorCodeConnectionClosed ErrorCode = 1001
	ErrorCodeHandshake        ErrorCode = 1002

	// Frame error codes (3000-3999)

	ErrorCodeFrameTooLarge  ErrorCode = 3001
	ErrorCodeInvalidFrame   ErrorCode = 3002
	ErrorCodeSendQueueFull  ErrorCode = 3003
	ErrorCodeUnknownRequest ErrorCode = 3004

	// Store error codes (6000-6999)

	ErrorCodeEntityNotFound    ErrorCode = 6001
	ErrorCodeComponentNotFound ErrorCode = 6002
	ErrorCodeComponentExists   ErrorCode = 6003
	ErrorCodeUnknownType       ErrorCode = 6004
	ErrorCodeNotOwner          ErrorCode = 6005
	ErrorCodeActionRejected    ErrorCode = 6006

	ErrorCodeUnknownError ErrorCode = 9999
)

var errorCodeMap = map[error]ErrorCode{
	ErrHandshake:      ErrorCodeHandshake,
	ErrFrameTooLarge:  ErrorCodeFrameTooLarge,
	ErrInvalidFrame:   ErrorCodeInvalidFrame,
	ErrSendQueueFull:  ErrorCodeSendQueueFull,
	ErrUnknownRequest: ErrorCodeUnknownRequest,

	session.ErrEntityNotFound:    ErrorCodeEntityNotFound,
	session.ErrComponentNotFound: ErrorCodeComponentNotFound,
	session.ErrComponentExists:   ErrorCodeComponentExists,
	session.ErrUnknownType:       ErrorCodeUnknownType,
	session.ErrNotOwner:          ErrorCodeNotOwner,
	session.ErrActionRejected:    ErrorCodeActionRejected,
	session.ErrClosed:            ErrorCodeConnectionClosed,
}

var codeErrorMap = make(map[ErrorCode]error, len(errorCodeMap))

func init() {
	for err, code := range errorCodeMap {
		codeErrorMap[code] = err
	}
}

// Error is the wire form of a failed request.
type Error struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// Unwrap maps the code back to the sentinel it was produced from, so callers
// on the other side of the wire can use errors.Is.
func (e *Error) Unwrap() error { return codeErrorMap[e.Code] }

// GetErrorCode returns the code for err, following wrapped errors.
func GetErrorCode(err error) ErrorCode {
	if err == nil {
		return ErrorCodeSuccess
	}
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr.Code
	}
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ErrorCodeUnknownError
}

// NewError converts err for a Result frame. A nil err yields nil.
func NewError(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: GetErrorCode(err), Message: err.Error()}
}
