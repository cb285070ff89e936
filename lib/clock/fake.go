// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a Clock whose time only moves when Advance is called.
// Safe for concurrent use.
//
// AfterFunc callbacks run synchronously inside Advance. A callback must
// not call Advance or Sleep on the same clock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*pendingEvent
	changed *sync.Cond
}

type pendingEvent struct {
	due      time.Time
	period   time.Duration // non-zero for tickers
	channel  chan time.Time
	callback func()
	done     bool
}

// Fake returns a FakeClock reading initial until advanced.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{now: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.now
		return channel
	}
	c.scheduleLocked(&pendingEvent{due: c.now.Add(d), channel: channel})
	return channel
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	if d <= 0 {
		f()
		return &Timer{stop: func() bool { return false }}
	}

	c.mu.Lock()
	event := &pendingEvent{due: c.now.Add(d), callback: f}
	c.scheduleLocked(event)
	c.mu.Unlock()

	return &Timer{stop: func() bool { return c.cancel(event) }}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	event := &pendingEvent{due: c.now.Add(d), period: d, channel: channel}
	c.scheduleLocked(event)

	return &Ticker{
		C:    channel,
		stop: func() { c.cancel(event) },
		reset: func(period time.Duration) {
			c.mu.Lock()
			defer c.mu.Unlock()
			event.period = period
			event.due = c.now.Add(period)
			if event.done {
				event.done = false
				c.scheduleLocked(event)
			}
		},
	}
}

func (c *FakeClock) Sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	<-c.After(d)
}

// Advance moves time forward by d and fires everything that fell due,
// earliest first. A ticker spanning several periods fires once per
// period, with overflow ticks dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		for _, event := range due {
			if event.callback != nil {
				event.callback()
				continue
			}
			select {
			case event.channel <- target:
			default:
			}
		}
	}
}

// WaitForTimers blocks until at least n events are pending. Use it to
// make sure a goroutine has registered its timer before advancing.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of scheduled events.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *FakeClock) scheduleLocked(event *pendingEvent) {
	c.pending = append(c.pending, event)
	c.changed.Broadcast()
}

func (c *FakeClock) cancel(event *pendingEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if event.done {
		return false
	}
	event.done = true
	for index, candidate := range c.pending {
		if candidate == event {
			c.pending = append(c.pending[:index], c.pending[index+1:]...)
			break
		}
	}
	return true
}

// takeDue removes the events due at or before target, reschedules
// tickers, and returns what should fire in due order.
func (c *FakeClock) takeDue(target time.Time) []*pendingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, keep []*pendingEvent
	for _, event := range c.pending {
		if event.due.After(target) {
			keep = append(keep, event)
			continue
		}
		due = append(due, event)
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].due.Before(due[j].due) })

	for _, event := range due {
		if event.period > 0 {
			event.due = event.due.Add(event.period)
			keep = append(keep, event)
		} else {
			event.done = true
		}
	}
	c.pending = keep
	return due
}
