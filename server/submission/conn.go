package submission

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// MaxCommandLineLen is the longest command line accepted, CRLF included
// (RFC 5321 §4.5.3.1.4).
const MaxCommandLineLen = 512

const connBufferSize = 4096

// errLineTooLong is returned by ReadLine for oversized command lines. The
// rest of the line has been consumed so the stream stays line aligned.
var errLineTooLong = errors.New("line too long")

// LineSource produces one protocol line per call with the CRLF stripped.
type LineSource interface {
	ReadLine() (string, error)
}

// ResponseSink writes one reply line; the implementation appends CRLF.
type ResponseSink interface {
	WriteLine(line string) error
}

// RawLineReader returns the next piece of a line including its line ending.
// A piece that does not end in '\n' is followed by the rest of the same
// line; lines shorter than the reader's buffer are never split. The final
// piece of a stream may come back without a line ending, together with
// io.EOF. The returned slice is only valid until the next call.
type RawLineReader interface {
	ReadRawLine() ([]byte, error)
}

// Conn is the buffered line transport a Session runs over. It serves as
// the LineSource, RawLineReader and ResponseSink for one connection.
type Conn struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewConn wraps rw, usually a net.Conn.
func NewConn(rw io.ReadWriter) *Conn {
	return NewConnFrom(rw, rw)
}

// NewConnFrom builds a Conn from separate read and write halves.
func NewConnFrom(r io.Reader, w io.Writer) *Conn {
	return &Conn{
		r: bufio.NewReaderSize(r, connBufferSize),
		w: bufio.NewWriterSize(w, connBufferSize),
	}
}

// ReadLine reads a command line. Both CRLF and a bare LF end a line.
func (c *Conn) ReadLine() (string, error) {
	var line []byte
	for {
		chunk, isPrefix, err := c.r.ReadLine()
		if err != nil {
			return "", err
		}
		line = append(line, chunk...)
		if !isPrefix {
			break
		}
		if len(line) > MaxCommandLineLen {
			for isPrefix {
				if _, isPrefix, err = c.r.ReadLine(); err != nil {
					return "", err
				}
			}
			return "", fmt.Errorf("%w (%d bytes, max %d)", errLineTooLong, len(line), MaxCommandLineLen)
		}
	}
	if len(line) > MaxCommandLineLen-2 {
		return "", fmt.Errorf("%w (%d bytes, max %d)", errLineTooLong, len(line)+2, MaxCommandLineLen)
	}
	return string(line), nil
}

// ReadRawLine reads up to and including the next '\n', or a full buffer of
// a longer line. The returned slice aliases the read buffer.
func (c *Conn) ReadRawLine() ([]byte, error) {
	line, err := c.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		err = nil
	}
	return line, err
}

// WriteLine writes line followed by CRLF and flushes.
func (c *Conn) WriteLine(line string) error {
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}
