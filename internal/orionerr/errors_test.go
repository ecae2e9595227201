package orionerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrionErrorErrorMessage(t *testing.T) {
	t.Run("op and err", func(t *testing.T) {
		e := New("bus.Publish", "transport", errors.New("boom"))
		assert.Equal(t, "bus.Publish: boom", e.Error())
	})

	t.Run("op, id, and err", func(t *testing.T) {
		e := New("decider.Decide", "policy", errors.New("boom")).WithID("incident-1")
		assert.Equal(t, "decider.Decide [incident-1]: boom", e.Error())
	})

	t.Run("message only", func(t *testing.T) {
		e := &OrionError{Kind: "policy", Message: "no safe action"}
		assert.Equal(t, "no safe action", e.Error())
	})

	t.Run("kind only fallback", func(t *testing.T) {
		e := &OrionError{Kind: "policy"}
		assert.Equal(t, "policy error", e.Error())
	})
}

func TestOrionErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	e := New("executor.Run", "execution", cause)
	assert.True(t, errors.Is(e, cause))
	assert.Equal(t, cause, errors.Unwrap(e))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrStreamUnavailable))
	assert.True(t, IsRetryable(ErrConsumerGroupLost))
	assert.False(t, IsRetryable(ErrBreakerOpen))
	assert.False(t, IsRetryable(errors.New("unrelated")))
}

func TestIsFailClosed(t *testing.T) {
	assert.True(t, IsFailClosed(ErrBreakerOpen))
	assert.True(t, IsFailClosed(ErrCooldownActive))
	assert.True(t, IsFailClosed(ErrPolicyNotFound))
	assert.True(t, IsFailClosed(ErrContractViolation))
	assert.False(t, IsFailClosed(ErrApprovalExpired))
}
