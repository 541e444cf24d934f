// Package xerrors defines the structured error taxonomy used across the
// engine core: transport/decode failures from market data, book
// resynchronisation signals, and order/execution rejections.
package xerrors

import (
	"fmt"
	"runtime"
	"time"
)

// Code identifies a category of error in the taxonomy.
type Code string

const (
	// Transport and decode, from the book assembler and account/market feeds.
	CodeTransport              Code = "TRANSPORT"
	CodeDecode                 Code = "DECODE"
	CodeInvalidSequence        Code = "INVALID_SEQUENCE"
	CodeUnidentifiableSub      Code = "UNIDENTIFIABLE_SUBSCRIPTION"
	CodeInitialSnapshotMissing Code = "INITIAL_SNAPSHOT_MISSING"
	CodeInitialSnapshotInvalid Code = "INITIAL_SNAPSHOT_INVALID"

	// Order/execution rejections, per-order.
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeInstrumentInvalid    Code = "INSTRUMENT_INVALID"
	CodeUnsupportedOrderKind Code = "UNSUPPORTED_ORDER_KIND"
	CodeOrderAlreadyCancelled Code = "ORDER_ALREADY_CANCELLED"
	CodeOrderNotFound        Code = "ORDER_NOT_FOUND"
	CodeOrderRejected        Code = "ORDER_REJECTED"

	// Execution channel health.
	CodeExecutionChannelUnhealthy  Code = "EXECUTION_CHANNEL_UNHEALTHY"
	CodeExecutionChannelTerminated Code = "EXECUTION_CHANNEL_TERMINATED"
)

// Severity classifies how the engine should respond to an error.
type Severity string

const (
	SeverityRecoverable  Severity = "recoverable"
	SeverityUnrecoverable Severity = "unrecoverable"
	SeverityFatal        Severity = "fatal"
)

var defaultSeverity = map[Code]Severity{
	CodeTransport:                  SeverityRecoverable,
	CodeDecode:                     SeverityRecoverable,
	CodeInvalidSequence:            SeverityRecoverable,
	CodeUnidentifiableSub:          SeverityRecoverable,
	CodeInitialSnapshotMissing:     SeverityFatal,
	CodeInitialSnapshotInvalid:     SeverityFatal,
	CodeInsufficientBalance:        SeverityRecoverable,
	CodeInstrumentInvalid:          SeverityRecoverable,
	CodeUnsupportedOrderKind:       SeverityRecoverable,
	CodeOrderAlreadyCancelled:      SeverityRecoverable,
	CodeOrderNotFound:              SeverityRecoverable,
	CodeOrderRejected:              SeverityRecoverable,
	CodeExecutionChannelUnhealthy:  SeverityRecoverable,
	CodeExecutionChannelTerminated: SeverityUnrecoverable,
}

// Error is the structured error type used throughout the engine core.
type Error struct {
	Code      Code
	Message   string
	Severity  Severity
	Timestamp time.Time
	File      string
	Line      int
	Function  string
	Cause     error
	Fields    map[string]interface{}
}

// WithField attaches a structured detail to the error, e.g. the
// prev/first update identifiers of an InvalidSequence.
func (e *Error) WithField(key string, value interface{}) *Error {
	if e.Fields == nil {
		e.Fields = make(map[string]interface{})
	}
	e.Fields[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (caused by: %v)", e.Code, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Severity, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// WithCause attaches an underlying cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// New creates an Error with the default severity for its code.
func New(code Code, message string) *Error {
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	var funcName string
	if fn != nil {
		funcName = fn.Name()
	}
	return &Error{
		Code:      code,
		Message:   message,
		Severity:  defaultSeverity[code],
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Function:  funcName,
	}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error in an Error of the given code.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	pc, file, line, _ := runtime.Caller(1)
	fn := runtime.FuncForPC(pc)
	var funcName string
	if fn != nil {
		funcName = fn.Name()
	}
	return &Error{
		Code:      code,
		Message:   message,
		Severity:  defaultSeverity[code],
		Timestamp: time.Now(),
		File:      file,
		Line:      line,
		Function:  funcName,
		Cause:     err,
	}
}

// Is reports whether err is an *Error with the given code.
func Is(err error, code Code) bool {
	var e *Error
	if As(err, &e) {
		return e.Code == code
	}
	return false
}

// As finds the first *Error in err's chain and assigns it to target.
func As(err error, target **Error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		*target = e
		return true
	}
	if unwrapper, ok := err.(interface{ Unwrap() error }); ok {
		return As(unwrapper.Unwrap(), target)
	}
	return false
}

// GetCode extracts the Code from an error, or "" if it is not an *Error.
func GetCode(err error) Code {
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return ""
}

// GetSeverity extracts the Severity from an error, defaulting to Fatal for
// errors not from this package, since an unclassified error should never be
// silently treated as recoverable.
func GetSeverity(err error) Severity {
	var e *Error
	if As(err, &e) {
		return e.Severity
	}
	return SeverityFatal
}

// IsUnrecoverable reports whether the error should stop the engine reducer.
func IsUnrecoverable(err error) bool {
	sev := GetSeverity(err)
	return sev == SeverityUnrecoverable || sev == SeverityFatal
}
