// Package eventbus is a small in-process publish/subscribe bus carrying
// profile lifecycle notifications between the registry and its consumers.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// Bus orchestrates topic-based publish/subscribe messaging.
type Bus struct {
	logger       *zap.Logger
	mu           sync.RWMutex
	subscribers  map[Topic]map[uint64]*Subscription
	topicBuffers map[Topic]int
	nextID       atomic.Uint64
	published    atomic.Uint64
}

// BusOption customises bus behaviour.
type BusOption func(*Bus)

// New constructs a bus.
func New(opts ...BusOption) *Bus {
	bus := &Bus{
		logger:      zap.NewNop(),
		subscribers: make(map[Topic]map[uint64]*Subscription),
		topicBuffers: map[Topic]int{
			TopicProfilesLifecycle: 128,
			TopicProfilesValidated: 64,
			TopicProfilesRefreshed: 16,
		},
	}
	for _, opt := range opts {
		opt(bus)
	}
	return bus
}

// WithLogger overrides the logger used for drop warnings.
func WithLogger(logger *zap.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithTopicBuffer sets the subscription buffer for a topic.
func WithTopicBuffer(topic Topic, size int) BusOption {
	return func(b *Bus) {
		if size <= 0 {
			size = 1
		}
		b.topicBuffers[topic] = size
	}
}

// Publish delivers env to every subscriber of its topic. Delivery never
// blocks: a full subscriber loses its oldest event. A nil bus is a no-op.
func (b *Bus) Publish(ctx context.Context, env Envelope) {
	if b == nil || env.Topic == "" {
		return
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}
	if env.Source == "" {
		env.Source = SourceUnknown
	}
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers[env.Topic] {
		sub.deliver(ctx, env, b.logger)
	}
}

// Published returns the number of envelopes accepted by Publish.
func (b *Bus) Published() uint64 {
	if b == nil {
		return 0
	}
	return b.published.Load()
}

// Subscribe registers a subscriber for topic. A nil bus returns a closed
// subscription.
func (b *Bus) Subscribe(topic Topic, opts ...SubscriptionOption) *Subscription {
	if b == nil {
		sub := &Subscription{ch: make(chan Envelope), done: make(chan struct{})}
		sub.closed.Store(true)
		close(sub.ch)
		close(sub.done)
		return sub
	}

	cfg := subscriptionConfig{bufferSize: b.topicBuffers[topic]}
	if cfg.bufferSize <= 0 {
		cfg.bufferSize = defaultBuffer
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		topic: topic,
		id:    b.nextID.Add(1),
		name:  cfg.name,
		ch:    make(chan Envelope, cfg.bufferSize),
		done:  make(chan struct{}),
		bus:   b,
	}

	b.mu.Lock()
	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[uint64]*Subscription)
	}
	b.subscribers[topic][sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Shutdown closes every subscription. A nil bus is a no-op.
func (b *Bus) Shutdown() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.subscribers {
		for _, sub := range subs {
			sub.closeLocked()
		}
		delete(b.subscribers, topic)
	}
}

// SubscriptionOption customises individual subscriptions.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	bufferSize int
	name       string
	ctx        context.Context
}

// WithSubscriptionBuffer overrides the channel buffer for a subscription.
func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.bufferSize = size
		}
	}
}

// WithSubscriptionName records an identifier used in logs.
func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) { cfg.name = name }
}

// WithContext closes the subscription when ctx is cancelled.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscription represents a consumer listening to a topic.
type Subscription struct {
	topic   Topic
	id      uint64
	name    string
	ch      chan Envelope
	done    chan struct{}
	bus     *Bus
	closed  atomic.Bool
	dropped atomic.Uint64
}

// C exposes the event channel. It is closed when the subscription closes.
func (s *Subscription) C() <-chan Envelope { return s.ch }

// Dropped returns how many events were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close removes the subscription and closes its channel.
func (s *Subscription) Close() {
	if s.bus == nil {
		s.closeLocked()
		return
	}
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if subs := s.bus.subscribers[s.topic]; subs != nil {
		delete(subs, s.id)
	}
	s.closeLocked()
}

func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	close(s.ch)
}

// deliver runs under the bus read lock, so the channel cannot close mid-send.
func (s *Subscription) deliver(ctx context.Context, env Envelope, logger *zap.Logger) {
	if s.closed.Load() || ctx.Err() != nil {
		return
	}
	select {
	case s.ch <- env:
		return
	default:
	}

	select {
	case <-s.ch:
		s.recordDrop(logger)
	default:
	}
	select {
	case s.ch <- env:
	default:
		s.recordDrop(logger)
	}
}

func (s *Subscription) recordDrop(logger *zap.Logger) {
	n := s.dropped.Add(1)
	name := s.name
	if name == "" {
		name = "subscription"
	}
	logger.Warn("eventbus: dropped event",
		zap.String("subscriber", name),
		zap.String("topic", string(s.topic)),
		zap.Uint64("dropped", n),
	)
}
