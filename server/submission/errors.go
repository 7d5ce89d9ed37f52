package submission

import (
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-smtp"
)

// Error kinds. Every error returned by Session.Run matches exactly one of
// these with errors.Is.
var (
	ErrParseMismatch     = errors.New("command not recognized")
	ErrSequenceViolation = errors.New("command out of sequence")
	ErrIncompleteBody    = errors.New("stream ended before end of body")
	ErrTransportFailure  = errors.New("transport failure")
	ErrBodyTooLarge      = errors.New("message body exceeds size limit")
)

// Replies sent for protocol-level failures.
var (
	replyUnrecognized = &smtp.SMTPError{
		Code:         502,
		EnhancedCode: smtp.NoEnhancedCode,
		Message:      "Unrecognized command.",
	}
	replyBadSequence = &smtp.SMTPError{
		Code:         503,
		EnhancedCode: smtp.NoEnhancedCode,
		Message:      "Bad sequence of commands",
	}
	replyTooLarge = &smtp.SMTPError{
		Code:         552,
		EnhancedCode: smtp.NoEnhancedCode,
		Message:      "Message size exceeds fixed maximum message size",
	}
)

// SessionError describes why a session attempt ended without a Message.
type SessionError struct {
	Kind  error           // one of the Err* kinds above
	State State           // state the session was in when it failed
	Line  string          // offending command line, if any
	Reply *smtp.SMTPError // reply sent to the peer, nil if none was sent
	Err   error           // underlying cause, e.g. an I/O error
}

func (e *SessionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "submission: %s: ", e.State)
	switch {
	case e.Err == nil:
		b.WriteString(e.Kind.Error())
	case errors.Is(e.Err, e.Kind):
		b.WriteString(e.Err.Error())
	default:
		fmt.Fprintf(&b, "%v: %v", e.Kind, e.Err)
	}
	if e.Line != "" {
		fmt.Fprintf(&b, " (line %q)", e.Line)
	}
	return b.String()
}

func (e *SessionError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Kind reports the error kind of err, or nil if err did not come from a
// session.
func Kind(err error) error {
	for _, kind := range []error{ErrParseMismatch, ErrSequenceViolation, ErrIncompleteBody, ErrBodyTooLarge, ErrTransportFailure} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// kindLabel is the metrics label for an error kind.
func kindLabel(err error) string {
	switch Kind(err) {
	case ErrParseMismatch:
		return "parse_mismatch"
	case ErrSequenceViolation:
		return "sequence_violation"
	case ErrIncompleteBody:
		return "incomplete_body"
	case ErrBodyTooLarge:
		return "body_too_large"
	case ErrTransportFailure:
		return "transport_failure"
	default:
		return "unknown"
	}
}
