// ABOUTME: In-process Broker implementation with the same at-most-once semantics as Redis.
// ABOUTME: Used by tests and local single-process development.

package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrBrokerClosed is returned by operations on a closed MemoryBroker.
var ErrBrokerClosed = errors.New("broker is closed")

// MemoryBroker is an in-process Broker. It mirrors the delivery contract of
// the Redis broker: a publish with no subscriber is dropped silently, and a
// subscriber that stops draining loses excess traffic rather than blocking
// publishers.
type MemoryBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[int]*memorySubscription
	nextID int
	closed bool
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		subs: make(map[string]map[int]*memorySubscription),
	}
}

// Publish delivers payload to every current subscriber of channel.
func (b *MemoryBroker) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBrokerClosed
	}

	for _, sub := range b.subs[channel] {
		select {
		case sub.out <- payload:
		default:
			// Slow subscriber; drop rather than block the publisher.
		}
	}
	return nil
}

// Subscribe registers a new subscription on channel. The subscription is
// live before Subscribe returns.
func (b *MemoryBroker) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBrokerClosed
	}

	id := b.nextID
	b.nextID++

	sub := &memorySubscription{
		broker:  b,
		channel: channel,
		id:      id,
		out:     make(chan []byte, subscriptionBuffer),
	}

	if b.subs[channel] == nil {
		b.subs[channel] = make(map[int]*memorySubscription)
	}
	b.subs[channel][id] = sub
	return sub, nil
}

// Close shuts the broker down and closes every open subscription.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, channelSubs := range b.subs {
		for _, sub := range channelSubs {
			sub.closeLocked()
		}
	}
	b.subs = make(map[string]map[int]*memorySubscription)
	return nil
}

// SubscriberCount reports the number of live subscriptions on channel.
// Tests use this to assert that waiters release their subscriptions.
func (b *MemoryBroker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[channel])
}

// memorySubscription is a single registration in a MemoryBroker.
type memorySubscription struct {
	broker  *MemoryBroker
	channel string
	id      int
	out     chan []byte

	closeOnce sync.Once
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.out
}

// Close removes the subscription from the broker and closes its stream.
func (s *memorySubscription) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()

	if channelSubs, ok := s.broker.subs[s.channel]; ok {
		delete(channelSubs, s.id)
		if len(channelSubs) == 0 {
			delete(s.broker.subs, s.channel)
		}
	}
	s.closeLocked()
	return nil
}

// closeLocked closes the message stream. Caller holds the broker lock.
func (s *memorySubscription) closeLocked() {
	s.closeOnce.Do(func() {
		close(s.out)
	})
}
