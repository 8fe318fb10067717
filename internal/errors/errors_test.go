package errors_test

import (
	"fmt"
	"testing"

	"codeberg.org/mutker/pzemd/internal/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	errFactory := errors.New()

	err := errFactory.New(errors.ErrInvalidConfig)
	assert.Equal(t, "Invalid configuration (invalid_configuration)", err.Error())

	err = errFactory.WithMessage(errors.ErrInvalidConfig, "tiers are empty")
	assert.Equal(t, "tiers are empty (invalid_configuration)", err.Error())

	err = errFactory.WithData(errors.ErrInvalidConfig, "month_start_day=31")
	assert.Contains(t, err.Error(), "month_start_day=31")
}

func TestWrapUnwrap(t *testing.T) {
	errFactory := errors.New()
	cause := fmt.Errorf("connection refused")

	err := errFactory.Wrap(errors.ErrUnavailable, cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsByCode(t *testing.T) {
	errFactory := errors.New()
	sentinel := errFactory.New(errors.ErrTimeout)

	wrapped := fmt.Errorf("health probe: %w", errFactory.Wrap(errors.ErrTimeout, fmt.Errorf("deadline")))
	assert.ErrorIs(t, wrapped, sentinel)
	assert.NotErrorIs(t, wrapped, errFactory.New(errors.ErrInternal))
}

func TestHasCode(t *testing.T) {
	errFactory := errors.New()
	inner := errFactory.Wrap(errors.ErrTimeout, fmt.Errorf("deadline"))
	outer := errFactory.Wrap(errors.ErrRecovery, inner)

	assert.True(t, errors.HasCode(outer, errors.ErrRecovery))
	assert.True(t, errors.HasCode(outer, errors.ErrTimeout))
	assert.False(t, errors.HasCode(outer, errors.ErrInternal))
	assert.False(t, errors.HasCode(nil, errors.ErrInternal))
}
