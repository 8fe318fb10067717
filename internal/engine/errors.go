package engine

import "codeberg.org/mutker/pzemd/internal/errors"

const (
	ErrRejected   = errors.ErrorCode("engine_reading_rejected")
	ErrNotRunning = errors.ErrorCode("engine_not_running")
	ErrPanic      = errors.ErrorCode("engine_handler_panic")
)
