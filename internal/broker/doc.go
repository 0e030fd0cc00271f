// Package broker provides the shared publish/subscribe transport between
// the gateway and remote agent processes.
//
// # Overview
//
// The gateway and its agents exchange JSON envelopes over named channels on
// a non-durable pub/sub broker. Delivery is at-most-once: a message
// published to a channel with no current subscriber is silently lost. The
// relay layer builds its request/response correlation on top of this by
// subscribing to a unique callback channel before publishing each request.
//
// # Interfaces
//
// Broker is the connection-level interface:
//
//	Publish(ctx, channel, payload)    — fire-and-forget send
//	Subscribe(ctx, channel)           — open a live subscription handle
//	Close()                           — release the connection
//
// Subscription is a per-channel handle:
//
//	Messages() — stream of delivered payloads
//	Close()    — unsubscribe
//
// # Subscribe Ordering
//
// Subscribe returns only once the subscription is established. A payload
// published after Subscribe returns is guaranteed to be delivered to the
// handle (subject to the at-most-once buffer). The relay's
// subscribe-before-publish invariant depends on this.
//
// # Implementations
//
// RedisBroker runs on Redis pub/sub via go-redis. It confirms each
// subscription with the server before returning and adapts each PubSub to
// a Subscription handle, so concurrent relay calls never share a cursor.
//
// MemoryBroker is an in-process implementation with identical semantics,
// used by tests and local development.
//
// # Concurrency
//
// Both implementations are safe for concurrent use. Nothing serializes
// unrelated publishes and subscribes; isolation between concurrent relay
// calls comes entirely from channel-name uniqueness.
package broker
