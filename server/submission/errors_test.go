package submission

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSessionErrorMessage(t *testing.T) {
	err := &SessionError{Kind: ErrSequenceViolation, State: StateAwaitSender, Line: "DATA", Reply: replyBadSequence}
	assert.Equal(t, `submission: AWAIT_SENDER: command out of sequence (line "DATA")`, err.Error())

	err = &SessionError{Kind: ErrTransportFailure, State: StateAwaitGreeting, Err: io.EOF}
	assert.Equal(t, "submission: AWAIT_GREETING: transport failure: EOF", err.Error())

	inner := fmt.Errorf("%w after %d bytes", ErrIncompleteBody, 12)
	err = &SessionError{Kind: ErrIncompleteBody, State: StateReadingBody, Err: inner}
	assert.Equal(t, "submission: READING_BODY: stream ended before end of body after 12 bytes", err.Error())
}

func TestKind(t *testing.T) {
	assert.Nil(t, Kind(nil))
	assert.Nil(t, Kind(errors.New("other")))

	for _, kind := range []error{ErrParseMismatch, ErrSequenceViolation, ErrIncompleteBody, ErrBodyTooLarge, ErrTransportFailure} {
		err := fmt.Errorf("wrapped: %w", &SessionError{Kind: kind, State: StateAwaitGreeting})
		assert.Equal(t, kind, Kind(err))
	}
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "parse_mismatch", kindLabel(ErrParseMismatch))
	assert.Equal(t, "sequence_violation", kindLabel(ErrSequenceViolation))
	assert.Equal(t, "incomplete_body", kindLabel(ErrIncompleteBody))
	assert.Equal(t, "body_too_large", kindLabel(ErrBodyTooLarge))
	assert.Equal(t, "transport_failure", kindLabel(ErrTransportFailure))
	assert.Equal(t, "unknown", kindLabel(errors.New("x")))
}
