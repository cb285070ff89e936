// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"io"
	"net"
	"sync"
	"time"
)

// DataChannelConn adapts a detached pion data channel to net.Conn so a
// ConnStream can frame it. SCTP reassembles messages, so the channel
// behaves like a byte stream.
//
// Deadlines are timers that close the channel when they fire, the way
// net.Pipe handles them. A conn whose deadline fired is permanently
// broken.
type DataChannelConn struct {
	rwc        io.ReadWriteCloser
	localLabel string
	peerLabel  string

	// onClose releases the peer connection that owns the channel.
	onClose func()

	mu             sync.Mutex
	readTimer      *time.Timer
	writeTimer     *time.Timer
	deadlineClosed bool
	closed         bool
}

var _ net.Conn = (*DataChannelConn)(nil)

// NewDataChannelConn wraps rwc. The labels name the endpoints in
// LocalAddr and RemoteAddr. onClose, if non-nil, runs once after the
// channel is closed.
func NewDataChannelConn(rwc io.ReadWriteCloser, localLabel, peerLabel string, onClose func()) *DataChannelConn {
	return &DataChannelConn{
		rwc:        rwc,
		localLabel: localLabel,
		peerLabel:  peerLabel,
		onClose:    onClose,
	}
}

func (c *DataChannelConn) Read(buffer []byte) (int, error) {
	n, err := c.rwc.Read(buffer)
	return n, c.deadlineError(err)
}

func (c *DataChannelConn) Write(buffer []byte) (int, error) {
	n, err := c.rwc.Write(buffer)
	return n, c.deadlineError(err)
}

// deadlineError reports I/O failures caused by a fired deadline as
// os.ErrDeadlineExceeded-style timeouts.
func (c *DataChannelConn) deadlineError(err error) error {
	if err == nil {
		return nil
	}
	c.mu.Lock()
	fired := c.deadlineClosed
	c.mu.Unlock()
	if fired {
		return &deadlineExceededError{cause: err}
	}
	return err
}

func (c *DataChannelConn) Close() error {
	c.mu.Lock()
	c.stopTimersLocked()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	err := c.rwc.Close()
	if !alreadyClosed && c.onClose != nil {
		c.onClose()
	}
	return err
}

func (c *DataChannelConn) LocalAddr() net.Addr {
	return &dataChannelAddr{label: c.localLabel}
}

func (c *DataChannelConn) RemoteAddr() net.Addr {
	return &dataChannelAddr{label: c.peerLabel}
}

func (c *DataChannelConn) SetDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

func (c *DataChannelConn) SetReadDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readTimer = c.armLocked(c.readTimer, deadline)
	return nil
}

func (c *DataChannelConn) SetWriteDeadline(deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeTimer = c.armLocked(c.writeTimer, deadline)
	return nil
}

// armLocked replaces timer with one firing at deadline. A zero deadline
// clears it; a past deadline fires immediately.
func (c *DataChannelConn) armLocked(timer *time.Timer, deadline time.Time) *time.Timer {
	if timer != nil {
		timer.Stop()
	}
	if deadline.IsZero() || c.deadlineClosed {
		return nil
	}
	duration := time.Until(deadline)
	if duration <= 0 {
		c.closeFromDeadlineLocked()
		return nil
	}
	return time.AfterFunc(duration, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.closeFromDeadlineLocked()
	})
}

func (c *DataChannelConn) closeFromDeadlineLocked() {
	if c.deadlineClosed {
		return
	}
	c.deadlineClosed = true
	c.rwc.Close()
}

func (c *DataChannelConn) stopTimersLocked() {
	if c.readTimer != nil {
		c.readTimer.Stop()
		c.readTimer = nil
	}
	if c.writeTimer != nil {
		c.writeTimer.Stop()
		c.writeTimer = nil
	}
}

// deadlineExceededError satisfies net.Error with Timeout() true.
type deadlineExceededError struct {
	cause error
}

func (e *deadlineExceededError) Error() string   { return "data channel deadline exceeded: " + e.cause.Error() }
func (e *deadlineExceededError) Unwrap() error   { return e.cause }
func (e *deadlineExceededError) Timeout() bool   { return true }
func (e *deadlineExceededError) Temporary() bool { return false }

type dataChannelAddr struct {
	label string
}

func (a *dataChannelAddr) Network() string { return "webrtc" }
func (a *dataChannelAddr) String() string  { return a.label }
