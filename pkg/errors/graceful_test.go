package errors

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGracefulError(t *testing.T) {
	inner := errors.New("bind: address already in use")
	err := NewGracefulError("listen", inner)

	assert.Equal(t, "operation 'listen' failed: bind: address already in use", err.Error())
	assert.ErrorIs(t, err, inner)
}

func TestErrorHandlerSignalsOnce(t *testing.T) {
	eh := NewErrorHandler()

	_, ok := eh.WaitForExitWithTimeout(10 * time.Millisecond)
	assert.False(t, ok)

	eh.ConfigError("config.toml", os.ErrNotExist)
	eh.ValidationError("server.addr", fmt.Errorf("required"))
	eh.FatalError("serve", errors.New("boom"))

	code, ok := eh.WaitForExitWithTimeout(time.Second)
	assert.True(t, ok)
	assert.Equal(t, 1, code)

	_, ok = eh.WaitForExitWithTimeout(10 * time.Millisecond)
	assert.False(t, ok, "only the first error is signalled")
}
