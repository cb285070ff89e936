// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/hostlink/lib/clock"
	"github.com/bureau-foundation/hostlink/protocol"
)

const (
	// runMinBackoff and runMaxBackoff bound the delay before a Run
	// loop is restarted after an error.
	runMinBackoff = 30 * time.Millisecond
	runMaxBackoff = time.Second

	// runHibernate is the pause between Run loop entries, and the poll
	// period while the service has no subscribers.
	runHibernate = 30 * time.Millisecond
)

// OptionHandler applies one option to a concrete service.
type OptionHandler func(key, value string) error

// Config configures a Base.
type Config struct {
	Name string

	// NeedSnapshot holds new subscribers as pending until Snapshot.
	NeedSnapshot bool

	// OnOption is called by SetOption. Errors are logged.
	OnOption OptionHandler

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Base implements Service. Concrete services embed *Base and start a
// worker with Repeat or Run.
type Base struct {
	name         string
	needSnapshot bool
	onOption     OptionHandler
	clock        clock.Clock
	logger       *slog.Logger

	mu          sync.Mutex
	subscribers map[int32]Subscriber
	pending     map[int32]Subscriber
	options     map[string]string
	interval    time.Duration

	// wake interrupts the worker's sleep when a subscriber arrives or
	// the interval changes.
	wake chan struct{}

	running  atomic.Bool
	started  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	joinOnce sync.Once
}

var _ Service = (*Base)(nil)

// NewBase creates a Base with no worker.
func NewBase(config Config) *Base {
	clk := config.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Base{
		name:         config.Name,
		needSnapshot: config.NeedSnapshot,
		onOption:     config.OnOption,
		clock:        clk,
		logger:       logger.With("service", config.Name),
		subscribers:  make(map[int32]Subscriber),
		pending:      make(map[int32]Subscriber),
		options:      make(map[string]string),
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
}

func (b *Base) Name() string { return b.name }

// Logger returns the service's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Clock returns the service's clock.
func (b *Base) Clock() clock.Clock { return b.clock }

func (b *Base) OnSubscribe(s Subscriber) {
	b.mu.Lock()
	id := s.ID()
	_, subscribed := b.subscribers[id]
	_, waiting := b.pending[id]
	if subscribed || waiting {
		b.mu.Unlock()
		return
	}
	if b.needSnapshot {
		b.pending[id] = s
	} else {
		b.subscribers[id] = s
	}
	b.mu.Unlock()

	b.logger.Debug("subscribed", "connection_id", id)
	b.poke()
}

func (b *Base) OnUnsubscribe(id int32) {
	b.mu.Lock()
	_, subscribed := b.subscribers[id]
	_, waiting := b.pending[id]
	delete(b.subscribers, id)
	delete(b.pending, id)
	b.mu.Unlock()

	if subscribed || waiting {
		b.logger.Debug("unsubscribed", "connection_id", id)
	}
}

func (b *Base) IsSubscribed(id int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, subscribed := b.subscribers[id]
	_, waiting := b.pending[id]
	return subscribed || waiting
}

// SubscriberIDs returns the subscribed ids, pending included, sorted.
func (b *Base) SubscriberIDs() []int32 {
	b.mu.Lock()
	ids := make([]int32, 0, len(b.subscribers)+len(b.pending))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// HasSubscribers reports whether anyone, pending included, is
// subscribed.
func (b *Base) HasSubscribers() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)+len(b.pending) > 0
}

// HasPending reports whether subscribers are waiting for a snapshot.
func (b *Base) HasPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending) > 0
}

func (b *Base) SetOption(key, value string) {
	b.mu.Lock()
	b.options[key] = value
	b.mu.Unlock()

	if b.onOption == nil {
		return
	}
	if err := b.onOption(key, value); err != nil {
		b.logger.Warn("applying option failed", "key", key, "value", value, "error", err)
	}
}

// Option returns the last value set for key.
func (b *Base) Option(key string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	value, ok := b.options[key]
	return value, ok
}

// Options returns a copy of every option set so far.
func (b *Base) Options() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	options := make(map[string]string, len(b.options))
	for key, value := range b.options {
		options[key] = value
	}
	return options
}

// established returns the promoted subscribers.
func (b *Base) established() []Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	subscribers := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

func (b *Base) Send(m *protocol.Message) {
	for _, s := range b.established() {
		s.Deliver(protocol.NewFrame(m))
	}
}

func (b *Base) SendShared(m *protocol.Message) {
	subscribers := b.established()
	if len(subscribers) == 0 {
		return
	}
	frame := protocol.NewFrame(m)
	for _, s := range subscribers {
		s.Deliver(frame)
	}
}

// Snapshot calls fn with a send function reaching only the pending
// subscribers, then promotes them. It does nothing when none are
// pending. Subscribers that leave while fn runs are not promoted.
func (b *Base) Snapshot(fn func(send func(*protocol.Message))) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	waiting := make([]Subscriber, 0, len(b.pending))
	for _, s := range b.pending {
		waiting = append(waiting, s)
	}
	b.mu.Unlock()

	fn(func(m *protocol.Message) {
		frame := protocol.NewFrame(m)
		for _, s := range waiting {
			s.Deliver(frame)
		}
	})

	b.mu.Lock()
	for _, s := range waiting {
		id := s.ID()
		if current, ok := b.pending[id]; ok && current == s {
			delete(b.pending, id)
			b.subscribers[id] = s
		}
	}
	b.mu.Unlock()
}

func (b *Base) OK() bool {
	return b.running.Load() && b.HasSubscribers()
}

// Join stops the worker and waits for it. Safe to call before a worker
// was started and from several goroutines.
func (b *Base) Join() {
	b.joinOnce.Do(func() {
		b.running.Store(false)
		b.cancel()
		if b.started.Load() {
			<-b.done
		}
	})
}

// Interval returns the current Repeat interval.
func (b *Base) Interval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.interval
}

// SetInterval changes the Repeat interval. The worker picks it up
// immediately.
func (b *Base) SetInterval(interval time.Duration) {
	if interval <= 0 {
		return
	}
	b.mu.Lock()
	b.interval = interval
	b.mu.Unlock()
	b.poke()
}

func (b *Base) poke() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// start launches worker exactly once.
func (b *Base) start(worker func(ctx context.Context)) {
	if !b.started.CompareAndSwap(false, true) {
		panic("service: worker already started for " + b.name)
	}
	if b.ctx.Err() != nil {
		// Joined before start.
		close(b.done)
		return
	}
	b.running.Store(true)
	go func() {
		defer close(b.done)
		worker(b.ctx)
	}()
}

// sleep waits for d or cancellation. An interruptible sleep also ends
// on a poke.
func (b *Base) sleep(ctx context.Context, d time.Duration, interruptible bool) {
	if d <= 0 {
		return
	}
	fired := make(chan struct{})
	timer := b.clock.AfterFunc(d, func() { close(fired) })
	defer timer.Stop()

	wake := b.wake
	if !interruptible {
		wake = nil
	}
	select {
	case <-fired:
	case <-wake:
	case <-ctx.Done():
	}
}

// drainWake discards a poke that arrived before the worker looked at
// its subscribers, so it does not cut the next sleep short.
func (b *Base) drainWake() {
	select {
	case <-b.wake:
	default:
	}
}

// Repeat starts a worker that calls step every interval while the
// service has subscribers. When there are none, or step fails, state is
// reset. state may be nil.
func (b *Base) Repeat(interval time.Duration, state State, step func(ctx context.Context) error) {
	if state == nil {
		state = StateFunc(func() {})
	}
	b.mu.Lock()
	b.interval = interval
	b.mu.Unlock()

	b.start(func(ctx context.Context) {
		defer state.Reset()
		for b.running.Load() && ctx.Err() == nil {
			began := b.clock.Now()
			b.drainWake()
			if b.HasSubscribers() {
				if err := step(ctx); err != nil && ctx.Err() == nil {
					b.logger.Warn("service step failed", "error", err)
					state.Reset()
				}
			} else {
				state.Reset()
			}
			b.sleep(ctx, b.Interval()-b.clock.Now().Sub(began), true)
		}
	})
}

// Run starts a worker that calls loop while the service is subscribed.
// loop must return when ctx is done or OK turns false. Errors restart
// it after an exponential backoff.
func (b *Base) Run(loop func(ctx context.Context) error) {
	b.start(func(ctx context.Context) {
		backoff := runMinBackoff
		for b.running.Load() && ctx.Err() == nil {
			b.drainWake()
			if !b.HasSubscribers() {
				b.sleep(ctx, runHibernate, true)
				continue
			}
			if err := loop(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				b.logger.Warn("service loop failed, restarting", "error", err, "backoff", backoff)
				b.sleep(ctx, backoff, false)
				backoff *= 2
				if backoff > runMaxBackoff {
					backoff = runMaxBackoff
				}
				continue
			}
			backoff = runMinBackoff
			b.sleep(ctx, runHibernate, false)
		}
	})
}
