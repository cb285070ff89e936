// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service is the contract between capture producers and the
// connections that consume them.
//
// A [Service] has a stable name, a set of subscribed connections, and
// one worker goroutine producing messages. [Base] implements the whole
// interface; a concrete service embeds it and starts its worker with
// one of two patterns:
//
//   - [Base.Repeat] calls a step function once per interval while the
//     service has subscribers, and resets the service's state when it
//     has none. Used for pollers such as cursor position and displays.
//   - [Base.Run] hands control to a loop that drives itself, restarting
//     it with exponential backoff after errors. Used for producers with
//     their own event source such as the clipboard.
//
// Services created with NeedSnapshot hold new subscribers in a pending
// set until the worker calls [Base.Snapshot], so a late joiner first
// receives the full current state and then the same deltas as everyone
// else.
//
// Lock order: a service's mutex is never held while calling a
// Subscriber, and services never call into the registry.
package service
