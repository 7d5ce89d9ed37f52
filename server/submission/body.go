package submission

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

const dot = '.'

var (
	crlf           = []byte("\r\n")
	terminatorLine = []byte(".\r\n")
)

// ReadBody consumes a dot-stuffed message body from src up to and including
// the terminator line (".\r\n" at the start of a line) and returns the body
// with transparency undone (RFC 5321 §4.5.2).
//
// Only CRLF ends a line. A bare LF is ordinary body data, so the text after
// it is not a line start: it can neither terminate the body nor be
// unstuffed. One leading dot is removed from every other line that starts
// with a dot. The CRLF that precedes the terminator belongs to the
// terminator and is not part of the body, so ".\r\n" alone yields an empty
// body.
//
// When maxSize > 0 and the body grows past it, ReadBody keeps consuming up
// to the terminator without storing anything, so the stream stays usable
// for a reply, and then returns ErrBodyTooLarge.
func ReadBody(src RawLineReader, maxSize int64) (string, error) {
	var (
		body        bytes.Buffer
		consumed    int64
		tooLarge    bool
		atLineStart = true
		lastByte    byte
	)

	for {
		piece, err := src.ReadRawLine()
		consumed += int64(len(piece))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return "", fmt.Errorf("%w after %d bytes", ErrIncompleteBody, consumed)
			}
			return "", fmt.Errorf("%w: %w", ErrTransportFailure, err)
		}
		if len(piece) == 0 {
			continue
		}

		prev := lastByte
		lastByte = piece[len(piece)-1]
		startsLine := atLineStart
		atLineStart = endsWithCRLF(piece, prev)

		if startsLine {
			if bytes.Equal(piece, terminatorLine) {
				break
			}
			if piece[0] == dot {
				piece = piece[1:]
			}
		}
		if tooLarge {
			continue
		}
		// The final CRLF is trimmed below, so allow for it here.
		if maxSize > 0 && int64(body.Len()+len(piece)) > maxSize+int64(len(crlf)) {
			tooLarge = true
			body = bytes.Buffer{}
			continue
		}
		body.Write(piece)
	}

	if tooLarge {
		return "", ErrBodyTooLarge
	}

	out := bytes.TrimSuffix(body.Bytes(), crlf)
	if maxSize > 0 && int64(len(out)) > maxSize {
		return "", ErrBodyTooLarge
	}
	return string(out), nil
}

// endsWithCRLF reports whether piece completes a CRLF line. prev is the last
// byte of the piece before it, for a CR and LF split across two reads.
func endsWithCRLF(piece []byte, prev byte) bool {
	n := len(piece)
	if piece[n-1] != '\n' {
		return false
	}
	if n >= 2 {
		return piece[n-2] == '\r'
	}
	return prev == '\r'
}

// EncodeBody is the inverse of ReadBody: it dot-stuffs body and appends the
// terminator line. Only dots that follow a CRLF are stuffed.
func EncodeBody(body string) []byte {
	if body == "" {
		return bytes.Clone(terminatorLine)
	}

	out := make([]byte, 0, len(body)+len(body)/64+5)
	atLineStart := true
	for i := 0; i < len(body); i++ {
		b := body[i]
		if atLineStart && b == dot {
			out = append(out, dot)
		}
		out = append(out, b)
		atLineStart = b == '\n' && i > 0 && body[i-1] == '\r'
	}
	out = append(out, crlf...)
	return append(out, terminatorLine...)
}
