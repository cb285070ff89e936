// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"net"
	"sync"
)

// streamQueue hands streams produced by HTTP handlers to Accept.
type streamQueue struct {
	streams   chan Stream
	closed    chan struct{}
	closeOnce sync.Once
}

func newStreamQueue() *streamQueue {
	return &streamQueue{
		streams: make(chan Stream, 64),
		closed:  make(chan struct{}),
	}
}

// push delivers stream to the next Accept. It closes the stream and
// returns false once the queue is closed or ctx is done.
func (q *streamQueue) push(ctx context.Context, stream Stream) bool {
	select {
	case q.streams <- stream:
		return true
	case <-q.closed:
	case <-ctx.Done():
	}
	stream.Close()
	return false
}

func (q *streamQueue) accept(ctx context.Context) (Stream, error) {
	select {
	case stream := <-q.streams:
		return stream, nil
	case <-q.closed:
		return nil, net.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops the queue and closes streams nobody accepted.
func (q *streamQueue) close() {
	q.closeOnce.Do(func() {
		close(q.closed)
		for {
			select {
			case stream := <-q.streams:
				stream.Close()
			default:
				return
			}
		}
	})
}
