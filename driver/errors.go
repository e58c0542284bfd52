package driver

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code identifies a class of core error for programmatic handling.
type Code int

const (
	// CodeCardCommunication indicates a transport failure between the
	// reader and the card mid-APDU.
	CodeCardCommunication Code = iota + 1
	// CodeReaderCommunication indicates the driver/hardware itself is
	// unusable.
	CodeReaderCommunication
	// CodeUnexpectedStatusWord indicates a status word outside the
	// APDU's accepted set, in strict mode.
	CodeUnexpectedStatusWord
	// CodeIllegalState indicates API misuse: not registered, an empty
	// scenario, an observer added to a non-observable reader, etc.
	CodeIllegalState
	// CodePlugin indicates a driver failure surfacing from the registry
	// layer.
	CodePlugin
)

func (c Code) String() string {
	switch c {
	case CodeCardCommunication:
		return "CARD_COMMUNICATION"
	case CodeReaderCommunication:
		return "READER_COMMUNICATION"
	case CodeUnexpectedStatusWord:
		return "UNEXPECTED_STATUS_WORD"
	case CodeIllegalState:
		return "ILLEGAL_STATE"
	case CodePlugin:
		return "PLUGIN"
	default:
		return "UNKNOWN"
	}
}

// Error is the core's structured error type. It carries the operation that
// failed and, for communication errors, the reader or plugin name
// involved.
type Error struct {
	Code    Code
	Op      string
	Reader  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.Op == "" {
		return msg
	}
	if e.Reader != "" {
		return fmt.Sprintf("%s (reader %s): %s", e.Op, e.Reader, msg)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// MarshalJSON serializes the error as {"message": "..."} — the one wire
// shape errors take when surfaced over a transport. Codes, operations,
// and causes stay process-local.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Message string `json:"message"`
	}{Message: e.Error()})
}

func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// CardCommunicationError builds a CodeCardCommunication Error.
func CardCommunicationError(op, reader string, cause error) *Error {
	return &Error{Code: CodeCardCommunication, Op: op, Reader: reader, Message: "card communication failure", Cause: cause}
}

// ReaderCommunicationError builds a CodeReaderCommunication Error.
func ReaderCommunicationError(op, reader string, cause error) *Error {
	return &Error{Code: CodeReaderCommunication, Op: op, Reader: reader, Message: "reader communication failure", Cause: cause}
}

// UnexpectedStatusWordError builds a CodeUnexpectedStatusWord Error.
func UnexpectedStatusWordError(op string, sw uint16) *Error {
	return &Error{Code: CodeUnexpectedStatusWord, Op: op, Message: fmt.Sprintf("unexpected status word %04X", sw)}
}

// IllegalStateError builds a CodeIllegalState Error.
func IllegalStateError(op, message string) *Error {
	return &Error{Code: CodeIllegalState, Op: op, Message: message}
}

// PluginError builds a CodePlugin Error.
func PluginError(op string, cause error) *Error {
	return &Error{Code: CodePlugin, Op: op, Message: "plugin failure", Cause: cause}
}

// IsCode reports whether err is (or wraps) a *Error with the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
