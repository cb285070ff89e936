// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import "sync"

// Frame is a message on its way to one or more connections. The
// encoding is computed on first use and cached; a Frame must not be
// modified after it is created.
type Frame struct {
	message *Message

	once    sync.Once
	encoded []byte
	err     error
}

// NewFrame wraps m.
func NewFrame(m *Message) *Frame {
	return &Frame{message: m}
}

// Message returns the wrapped message. Callers must not modify it.
func (f *Frame) Message() *Message { return f.message }

// Bytes returns the encoded message. Concurrent callers share a single
// encoding.
func (f *Frame) Bytes() ([]byte, error) {
	f.once.Do(func() {
		f.encoded, f.err = Encode(f.message)
	})
	return f.encoded, f.err
}

// Droppable reports whether the frame may be discarded under
// backpressure.
func (f *Frame) Droppable() bool { return f.message.Droppable() }
