package modem

import (
	"errors"
	"fmt"
)

// ErrorCode identifies why an operation failed. The set is closed: every
// error returned by this package carries exactly one of these codes.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeUART
	CodeNoBaud
	CodeTransport
	CodeUnresponsive
	CodeFunc
	CodeSIM
	CodeReg
	CodeAPN
	CodeAttach
	CodeGPRS
	CodeIP
	CodeRSSI

	// CodePoorSignal is reserved: GPRSConnect logs a weak signal but does
	// not refuse to connect on it, so no operation returns this code.
	CodePoorSignal

	CodeOperator
	CodeTCPNoStart
	CodeTCPNoConnect
	CodeTCPNoPrompt
	CodeTCPNoSendConfirm
	CodeTimeout
	CodeSequenceTooLong
	CodeOverflow
	CodeStorage
	CodeInvalidMode
	CodeInvalidArgument
)

var codeNames = map[ErrorCode]string{
	CodeOK:               "ok",
	CodeUART:             "uart error",
	CodeNoBaud:           "unsupported baud rate",
	CodeTransport:        "transport error",
	CodeUnresponsive:     "modem unresponsive",
	CodeFunc:             "not in full functionality mode",
	CodeSIM:              "sim not ready",
	CodeReg:              "not registered on network",
	CodeAPN:              "apn rejected",
	CodeAttach:           "gprs attach state change failed",
	CodeGPRS:             "ip stack activation failed",
	CodeIP:               "malformed ip address",
	CodeRSSI:             "signal quality unreadable",
	CodePoorSignal:       "poor signal",
	CodeOperator:         "operator name unreadable",
	CodeTCPNoStart:       "tcp connect not acknowledged",
	CodeTCPNoConnect:     "tcp connect not confirmed",
	CodeTCPNoPrompt:      "no send prompt",
	CodeTCPNoSendConfirm: "send not confirmed",
	CodeTimeout:          "timeout",
	CodeSequenceTooLong:  "sequence exceeds match window",
	CodeOverflow:         "capacity exceeded",
	CodeStorage:          "backing store failure",
	CodeInvalidMode:      "invalid mode",
	CodeInvalidArgument:  "invalid argument",
}

// String implements [fmt.Stringer].
func (c ErrorCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Category groups error codes by the layer that failed.
type Category int

const (
	CategoryNone Category = iota
	CategoryTransport
	CategoryLiveness
	CategoryBringUp
	CategoryNetwork
	CategorySignal
	CategoryTCPSession
	CategoryStream
	CategoryUsage
)

// String implements [fmt.Stringer].
func (c Category) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryLiveness:
		return "liveness"
	case CategoryBringUp:
		return "bringup"
	case CategoryNetwork:
		return "network"
	case CategorySignal:
		return "signal"
	case CategoryTCPSession:
		return "tcpsession"
	case CategoryStream:
		return "stream"
	case CategoryUsage:
		return "usage"
	default:
		return "none"
	}
}

// Category returns the taxonomy bucket of c.
func (c ErrorCode) Category() Category {
	switch c {
	case CodeUART, CodeNoBaud, CodeTransport:
		return CategoryTransport
	case CodeUnresponsive:
		return CategoryLiveness
	case CodeFunc, CodeSIM, CodeReg:
		return CategoryBringUp
	case CodeAPN, CodeAttach, CodeGPRS, CodeIP, CodeOperator:
		return CategoryNetwork
	case CodeRSSI, CodePoorSignal:
		return CategorySignal
	case CodeTCPNoStart, CodeTCPNoConnect, CodeTCPNoPrompt, CodeTCPNoSendConfirm,
		CodeTimeout, CodeSequenceTooLong:
		return CategoryTCPSession
	case CodeOverflow, CodeStorage:
		return CategoryStream
	case CodeInvalidMode, CodeInvalidArgument:
		return CategoryUsage
	default:
		return CategoryNone
	}
}

// Error is the error type returned by every operation of this package.
//
// Two errors are equal under [errors.Is] when their codes match, so callers
// test against the sentinels below regardless of Op or cause.
type Error struct {
	// Code is the failure code.
	Code ErrorCode

	// Op names the operation that failed, e.g. "status" or "http".
	Op string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for use with [errors.Is].
var (
	ErrUART             = &Error{Code: CodeUART}
	ErrNoBaud           = &Error{Code: CodeNoBaud}
	ErrTransport        = &Error{Code: CodeTransport}
	ErrUnresponsive     = &Error{Code: CodeUnresponsive}
	ErrFunc             = &Error{Code: CodeFunc}
	ErrSIM              = &Error{Code: CodeSIM}
	ErrReg              = &Error{Code: CodeReg}
	ErrAPN              = &Error{Code: CodeAPN}
	ErrAttach           = &Error{Code: CodeAttach}
	ErrGPRS             = &Error{Code: CodeGPRS}
	ErrIP               = &Error{Code: CodeIP}
	ErrRSSI             = &Error{Code: CodeRSSI}
	ErrPoorSignal       = &Error{Code: CodePoorSignal} // reserved, see CodePoorSignal
	ErrOperator         = &Error{Code: CodeOperator}
	ErrTCPNoStart       = &Error{Code: CodeTCPNoStart}
	ErrTCPNoConnect     = &Error{Code: CodeTCPNoConnect}
	ErrTCPNoPrompt      = &Error{Code: CodeTCPNoPrompt}
	ErrTCPNoSendConfirm = &Error{Code: CodeTCPNoSendConfirm}
	ErrTimeout          = &Error{Code: CodeTimeout}
	ErrSequenceTooLong  = &Error{Code: CodeSequenceTooLong}
	ErrOverflow         = &Error{Code: CodeOverflow}
	ErrStorage          = &Error{Code: CodeStorage}
	ErrInvalidMode      = &Error{Code: CodeInvalidMode}
	ErrInvalidArgument  = &Error{Code: CodeInvalidArgument}
)

func newError(code ErrorCode, op string, err error) *Error {
	return &Error{Code: code, Op: op, Err: err}
}

// CodeOf returns the code carried by err: [CodeOK] for nil and
// [CodeTransport] for errors that did not originate in this package.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeTransport
}

// reclassify wraps err as code to when it carries code from, and returns it
// unchanged otherwise. Session steps use it to turn a bare ErrTimeout into
// the step-specific code.
func reclassify(err error, from, to ErrorCode, op string) error {
	if CodeOf(err) == from {
		return newError(to, op, err)
	}
	return err
}
