// Package rpcerrors implements Nimbus's numeric error-code contract:
// every operation that crosses the RPC boundary reports one of a
// fixed set of codes, and the client folds those codes down to a
// POSIX-style errno for language bindings that expect one.
//
// Wraps errors with fmt.Errorf("...: %w", ...) throughout, the same
// idiom used across this module's other packages.
package rpcerrors

import "fmt"

// Code is a Nimbus RPC status code. 0 is success, 1xxx is
// client/parameter errors, 2xxx is scheduling domain errors, 3xxx is
// transport/availability errors, 4xxx is internal errors.
type Code int32

const (
	CodeOK                          Code = 0
	CodeParamInvalid                Code = 1001
	CodeFunctionNotFound             Code = 1002
	CodeConcurrencyOutOfRange        Code = 1003
	CodeLabelInvalid                Code = 1004
	CodeNoPreemptableInstance        Code = 2001
	CodeResourceExhausted            Code = 2002
	CodeScheduleTimeout              Code = 2003
	CodeGroupKillTimeout             Code = 2004
	CodeTransportUnavailable         Code = 3001
	CodeLeaderUnknown                Code = 3002
	CodeInternal                     Code = 4001
	CodeObjectCycle                  Code = 4002
)

// Status is a Nimbus error: a fixed code, a human message, and an
// optional wrapped cause.
type Status struct {
	Code    Code
	Message string
	Cause   error
}

// New builds a Status with no wrapped cause.
func New(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a Status that carries cause as its wrapped error.
func Wrap(code Code, cause error, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (s *Status) Error() string {
	if s.Cause != nil {
		return fmt.Sprintf("[%d] %s: %v", s.Code, s.Message, s.Cause)
	}
	return fmt.Sprintf("[%d] %s", s.Code, s.Message)
}

// Unwrap lets errors.Is/errors.As see through to the wrapped cause.
func (s *Status) Unwrap() error { return s.Cause }

// posixTable folds a Code down to the POSIX errno space non-Go
// language bindings expect.
var posixTable = map[Code]int{
	CodeOK:                   0,
	CodeParamInvalid:         22, // EINVAL
	CodeFunctionNotFound:     2,  // ENOENT
	CodeConcurrencyOutOfRange: 22,
	CodeLabelInvalid:         22,
	CodeNoPreemptableInstance: 11, // EAGAIN
	CodeResourceExhausted:    105, // ENOBUFS
	CodeScheduleTimeout:      110, // ETIMEDOUT
	CodeGroupKillTimeout:     110,
	CodeTransportUnavailable: 111, // ECONNREFUSED
	CodeLeaderUnknown:        111,
	CodeInternal:             5,  // EIO
	CodeObjectCycle:          62, // ELOOP
}

// ToPosix folds code to its POSIX errno equivalent, defaulting to EIO
// for any code not in the table.
func ToPosix(code Code) int {
	if v, ok := posixTable[code]; ok {
		return v
	}
	return 5
}
