// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Stream is a bidirectional, message-framed connection to one peer.
//
// Send and Receive may be called concurrently with each other, but
// concurrent Sends (or concurrent Receives) must be serialized by the
// caller. Both honor ctx: a deadline surfaces as ErrTimeout and a
// cancellation as ctx.Err(). Receive returns io.EOF once the peer has
// closed the stream.
type Stream interface {
	Send(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) ([]byte, error)
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// Listener produces inbound streams.
type Listener interface {
	// Accept blocks until a peer connects, ctx is done, or the
	// listener is closed (net.ErrClosed).
	Accept(ctx context.Context) (Stream, error)

	Addr() net.Addr

	Close() error
}

// Dialer opens outbound streams.
type Dialer interface {
	Dial(ctx context.Context, address string) (Stream, error)
}

// MaxFrameSize bounds a single frame payload on every transport.
const MaxFrameSize = 32 << 20

// ErrTimeout is matched by every error caused by an expired deadline.
var ErrTimeout = errors.New("transport: timed out")

// ErrFrameTooLarge is returned for frames above MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("transport: frame exceeds %d bytes", MaxFrameSize)

// contextError converts an I/O error into the error reported to the
// caller. Deadline expiry from either ctx or the connection becomes
// ErrTimeout; cancellation becomes ctx.Err().
func contextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrTimeout, ctxErr)
		}
		return ctxErr
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}

// deadlineSetter is the half of net.Conn that bounds one direction.
type deadlineSetter func(t time.Time) error

// bindContext applies ctx to the next I/O on one direction of a
// connection: its deadline becomes the I/O deadline, and cancellation
// forces the pending I/O to return. The returned function restores an
// unbounded deadline and must be called when the I/O is done.
func bindContext(ctx context.Context, set deadlineSetter) (release func()) {
	if deadline, ok := ctx.Deadline(); ok {
		set(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		set(expired)
	})
	return func() {
		stop()
		set(time.Time{})
	}
}

// expired is a deadline in the past, used to interrupt blocked I/O.
var expired = time.Unix(1, 0)
