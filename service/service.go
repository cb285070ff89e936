// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "github.com/bureau-foundation/hostlink/protocol"

// Subscriber receives a service's output. Connections implement it.
type Subscriber interface {
	// ID is the connection id allocated by the registry.
	ID() int32

	// Deliver queues f for sending. It must not call back into the
	// service.
	Deliver(f *protocol.Frame)
}

// Service is a named producer multiplexed to subscribers.
type Service interface {
	Name() string

	// OnSubscribe adds s. Subscribing an id twice is a no-op.
	OnSubscribe(s Subscriber)

	// OnUnsubscribe removes id. Unknown ids are ignored.
	OnUnsubscribe(id int32)

	IsSubscribed(id int32) bool

	// SetOption applies a key/value option such as "fps" or
	// "high-resolution". Unknown keys are recorded and ignored.
	SetOption(key, value string)

	// Send delivers m to every subscriber with a frame of its own.
	Send(m *protocol.Message)

	// SendShared delivers m to every subscriber with one frame,
	// encoded once.
	SendShared(m *protocol.Message)

	// OK reports whether the worker is running and has at least one
	// subscriber.
	OK() bool

	// Join stops the worker and waits for it to exit. Idempotent.
	Join()
}

// State is what a Repeat worker releases when it goes idle or fails.
type State interface {
	Reset()
}

// StateFunc adapts a function to State.
type StateFunc func()

func (f StateFunc) Reset() { f() }
