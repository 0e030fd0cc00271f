// ABOUTME: Broker and Subscription interfaces for the shared pub/sub transport.
// ABOUTME: Defines fire-and-forget publish and per-channel subscription handles.

package broker

import "context"

// Broker is the shared publish/subscribe transport between the gateway and
// remote agent processes. Delivery is at-most-once: a publish with no
// current subscriber on the channel is silently lost. One Broker is shared
// by all concurrent relay calls; implementations must allow publishes and
// subscribes to interleave freely without cross-talk.
type Broker interface {
	// Publish sends payload to every current subscriber of channel.
	// There is no acknowledgement of receipt.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe opens a subscription to channel. When Subscribe returns,
	// the subscription is established: a payload published afterwards will
	// be delivered. The caller must Close the subscription when done.
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	// Close releases the broker connection. Open subscriptions are closed.
	Close() error
}

// Subscription is a handle to a single channel subscription.
type Subscription interface {
	// Messages returns the stream of payloads delivered on the channel.
	// The channel is closed when the subscription is closed.
	Messages() <-chan []byte

	// Close unsubscribes and releases the handle. Safe to call more than once.
	Close() error
}
