// Package errors provides coded errors shared by every pzemd package.
// Each package declares its own ErrorCode constants; callers match them
// with HasCode or errors.Is against a bare sentinel built with New(code).
package errors

// ErrorCode identifies an error kind, e.g. "store_query_failed".
type ErrorCode string

// Error is a coded error carrying an optional message, payload and cause.
type Error interface {
	error
	Code() ErrorCode
	WithMessage(msg string) Error
	WithData(data any) Error
	GetData() any
	Unwrap() error
}

// Factory builds coded errors.
type Factory interface {
	New(code ErrorCode) Error
	Wrap(code ErrorCode, err error) Error
	WithMessage(code ErrorCode, msg string) Error
	WithData(code ErrorCode, data any) Error
}
