/*
Copyright 2011-2025 Frederic Langlet
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
you may obtain a copy of the License at

                http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package internal

import (
	"io"

	"github.com/pkg/errors"
)

// BufferStream a closable read/write stream of bytes backed by a slice
type BufferStream struct {
	buf    []byte
	off    int
	closed bool
}

// NewBufferStream creates a new instance of BufferStream
func NewBufferStream(args ...[]byte) *BufferStream {
	this := &BufferStream{}

	if len(args) == 1 {
		this.buf = args[0]
	} else {
		this.buf = make([]byte, 0)
	}

	return this
}

// ensureOpen returns an error if the stream has been closed, nil otherwise.
func (this *BufferStream) ensureOpen() error {
	if this.closed == true {
		return errors.New("Stream closed")
	}

	return nil
}

// Write returns an error if the stream is closed, otherwise writes the given
// data to the internal buffer (growing the buffer as needed).
// Returns the number of bytes written.
func (this *BufferStream) Write(b []byte) (int, error) {
	if err := this.ensureOpen(); err != nil {
		return 0, err
	}

	this.buf = append(this.buf, b...)
	return len(b), nil
}

// Read returns an error if the stream is closed, otherwise reads data from
// the internal buffer at the read offset position.
// Returns the number of bytes read or (0, io.EOF) when no more data remains.
func (this *BufferStream) Read(b []byte) (int, error) {
	if err := this.ensureOpen(); err != nil {
		return 0, err
	}

	if this.off >= len(this.buf) && len(b) > 0 {
		return 0, io.EOF
	}

	n := copy(b, this.buf[this.off:])
	this.off += n
	return n, nil
}

// Close makes the stream unavailable for future reads or writes.
func (this *BufferStream) Close() error {
	this.closed = true
	return nil
}

// Len returns the size of the stream
func (this *BufferStream) Len() int {
	return len(this.buf)
}

// Available returns the number of bytes available for read
func (this *BufferStream) Available() int {
	if this.closed == true {
		return 0
	}

	return len(this.buf) - this.off
}

// Offset returns the offset of the read pointer
func (this *BufferStream) Offset() int {
	return this.off
}

// SetOffset sets the offset of the read pointer.
// Returns an error if the offset value is invalid or the stream is closed.
func (this *BufferStream) SetOffset(off int) error {
	if err := this.ensureOpen(); err != nil {
		return err
	}

	if off < 0 || off >= this.Len() {
		return errors.New("Invalid offset")
	}

	this.off = off
	return nil
}
