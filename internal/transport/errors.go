package transport

import "codeberg.org/mutker/pzemd/internal/errors"

const (
	ErrMissingBroker = errors.ErrorCode("transport_missing_broker")
	ErrMissingTopics = errors.ErrorCode("transport_missing_topics")
	ErrInvalidQoS    = errors.ErrorCode("transport_invalid_qos")
	ErrConnect       = errors.ErrorCode("transport_connect_failed")
)
