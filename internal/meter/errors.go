package meter

import "codeberg.org/mutker/pzemd/internal/errors"

const (
	ErrMalformedPayload  = errors.ErrorCode("meter_malformed_payload")
	ErrIncompleteReading = errors.ErrorCode("meter_incomplete_reading")
	ErrDeviceStatus      = errors.ErrorCode("meter_device_status")
)
