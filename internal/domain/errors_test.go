package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("claim: %w", Conflict("already claimed"))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, "already claimed", Reason(err, "internal server error"))
	assert.Equal(t, "internal server error", Reason(errors.New("boom"), "internal server error"))
}

func TestErrorWithoutReasonUsesKind(t *testing.T) {
	err := &Error{Kind: ErrForbidden}
	assert.Equal(t, "forbidden", err.Error())
}
