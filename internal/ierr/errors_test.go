package ierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage(t *testing.T) {
	assert.Equal(t, "", Message(nil))
	assert.Equal(t, "device access has been revoked",
		Message(fmt.Errorf("%w: device access has been revoked", ErrForbidden)))
	assert.Equal(t, "license token expired",
		Message(fmt.Errorf("%w: %w", ErrInvalidToken, errors.New("license token expired"))))
	assert.Equal(t, "resource not found", Message(ErrNotFound))
	assert.Equal(t, "lookup subscription: boom",
		Message(fmt.Errorf("lookup subscription: %w", errors.New("boom"))))
}
