// Package stream turns live HTTP response bodies into discrete lines and
// owns the timeout and error handling shared by every streaming call.
//
// The package has three pieces:
//   - Framer splits a body into newline-terminated lines
//   - CheckResponse gates entry into streaming on the response status
//   - Controller runs the connect and stream timeout budgets over one context
//
// Nothing here knows about execution events or log records; the sandbox and
// logtail packages layer their parsers on top.
package stream

import (
	"bytes"
	"errors"
	"io"
	"iter"
	"strings"
	"unicode/utf8"
)

// Trailing decides what happens to bytes left without a terminating newline
// when the body ends.
type Trailing int

const (
	// DiscardTrailing drops an unterminated final line.
	DiscardTrailing Trailing = iota

	// EmitTrailing returns an unterminated final line as if it were terminated.
	EmitTrailing
)

// readSize is the size of each read from the underlying body. Reads may
// return fewer bytes; nothing depends on how the body is chunked.
const readSize = 4096

// Framer reads a body and yields complete lines in arrival order.
//
// A Framer must only be used by one goroutine. Bytes belonging to an
// incomplete line (including a multi-byte character cut by a read boundary)
// stay in the buffer until the delimiter arrives, so the decoded lines do
// not depend on how the transport chunked the body.
type Framer struct {
	r        io.Reader
	trailing Trailing
	buf      []byte
	chunk    []byte
	err      error
}

// NewFramer creates a Framer over r.
func NewFramer(r io.Reader, trailing Trailing) *Framer {
	return &Framer{
		r:        r,
		trailing: trailing,
		chunk:    make([]byte, readSize),
	}
}

// Next returns the next complete line with its delimiter stripped. It
// returns io.EOF once the body is exhausted, or the read error that ended
// the body. Next blocks while waiting for more bytes.
func (f *Framer) Next() (string, error) {
	for {
		if i := bytes.IndexByte(f.buf, '\n'); i >= 0 {
			line := decode(f.buf[:i])
			f.buf = f.buf[i+1:]
			return line, nil
		}

		if f.err != nil {
			if errors.Is(f.err, io.EOF) && len(f.buf) > 0 && f.trailing == EmitTrailing {
				line := decode(f.buf)
				f.buf = nil
				return line, nil
			}
			f.buf = nil
			return "", f.err
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
		}
		if err != nil {
			f.err = err
		}
	}
}

// Buffered returns the number of bytes held for a line not yet terminated.
func (f *Framer) Buffered() int {
	return len(f.buf)
}

// Lines returns the remaining lines as a lazy sequence. The sequence stops
// at io.EOF; any other read error is yielded once as the final element.
func (f *Framer) Lines() iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for {
			line, err := f.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield("", err)
				return
			}
			if !yield(line, nil) {
				return
			}
		}
	}
}

// decode converts a complete line to text, dropping a CR from a CRLF
// delimiter and replacing invalid UTF-8 with U+FFFD.
func decode(b []byte) string {
	b = bytes.TrimSuffix(b, []byte{'\r'})
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
