// ABOUTME: Blocks a relay call on its correlation channel until a matching response or deadline.
// ABOUTME: The one suspension point of a blocking relay; a real wait, not a poll loop.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// errSubscriptionClosed indicates the broker closed the correlation stream
// underneath a pending wait, such as during shutdown.
var errSubscriptionClosed = errors.New("correlation subscription closed before a response arrived")

// awaitResponse blocks until a response envelope echoing correlationChannel
// arrives on messages, the timeout elapses, or ctx is cancelled. Payloads
// that fail to decode or carry a different correlation channel are
// discarded and the wait continues; channel names are unique per request,
// so the echo check only matters if a name is ever reused, but it is what
// keeps concurrent relays from ever crossing.
//
// The caller owns the subscription and releases it; awaitResponse only reads.
func (s *Service) awaitResponse(ctx context.Context, messages <-chan []byte, correlationChannel string, timeout time.Duration) (*ResponseEnvelope, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timer.C:
			return nil, ErrWaitTimeout

		case payload, ok := <-messages:
			if !ok {
				return nil, errSubscriptionClosed
			}

			var env ResponseEnvelope
			if err := json.Unmarshal(payload, &env); err != nil {
				s.logger.Warn("discarding undecodable payload on correlation channel",
					"channel", correlationChannel,
					"error", err,
				)
				continue
			}

			if env.CorrelationChannel != correlationChannel {
				s.logger.Warn("discarding response for different correlation channel",
					"channel", correlationChannel,
					"got", env.CorrelationChannel,
				)
				continue
			}

			return &env, nil
		}
	}
}
