// ABOUTME: Orchestrates a relay call: validate, resolve, subscribe, publish, wait, map.
// ABOUTME: Subscribe-before-publish is the one ordering invariant the design depends on.

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/carelink/relay/internal/broker"
)

// Request is one inbound relay operation.
type Request struct {
	// Agent identifies the target: a direct agent ID, or an external
	// identifier pair in the form "system|value".
	Agent string

	// ContentType tags the payload; see the ContentType constants.
	ContentType ContentType

	// Body is the opaque payload. A nil pointer means the field was
	// absent, which is an error; an empty string is accepted.
	Body *string

	// Destination is a device reference, a device search expression, or a
	// raw address string (ping only).
	Destination string

	// WaitForResponse makes the call block until the agent answers on the
	// correlation channel or the deadline passes.
	WaitForResponse bool

	// WaitTimeout bounds the blocking wait. Zero or negative means "use
	// the configured default". Values above the configured maximum are
	// rejected before any broker interaction.
	WaitTimeout time.Duration
}

// Options are the relay tunables, normally sourced from config.
type Options struct {
	ChannelPrefix      string
	DefaultWaitTimeout time.Duration
	MaxWaitTimeout     time.Duration
}

// Service is the agent message relay core. One Service is shared by all
// concurrent relay calls; isolation between calls comes from per-call
// correlation channel names, not locking.
type Service struct {
	broker   broker.Broker
	registry Registry
	opts     Options
	logger   *slog.Logger
}

// NewService creates a relay service on the given broker and registry.
func NewService(b broker.Broker, registry Registry, opts Options, logger *slog.Logger) *Service {
	return &Service{
		broker:   b,
		registry: registry,
		opts:     opts,
		logger:   logger.With("component", "relay"),
	}
}

// Relay forwards the request payload to the target agent and, if asked,
// blocks until the agent's correlated response arrives or the deadline
// passes. Validation and resolution failures surface before anything
// touches the broker. A remote-reported failure is not an error return: it
// comes back as a Result with an Outcome attached.
func (s *Service) Relay(ctx context.Context, req *Request) (*Result, error) {
	if err := s.validate(req); err != nil {
		relayTotal.WithLabelValues(outcomeValidation).Inc()
		return nil, err
	}

	agent, err := s.resolveAgent(ctx, req.Agent)
	if err != nil {
		relayTotal.WithLabelValues(s.resolveOutcome(err)).Inc()
		return nil, err
	}

	address, err := s.resolveDestination(ctx, req.Destination, req.ContentType)
	if err != nil {
		relayTotal.WithLabelValues(s.resolveOutcome(err)).Inc()
		return nil, err
	}

	correlationChannel := NewCorrelationChannel(s.opts.ChannelPrefix)
	targetChannel := AgentChannel(s.opts.ChannelPrefix, agent.ID)

	envelope := &RequestEnvelope{
		CorrelationChannel: correlationChannel,
		ContentType:        req.ContentType,
		Body:               *req.Body,
		Destination:        address,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}

	if !req.WaitForResponse {
		if err := s.broker.Publish(ctx, targetChannel, payload); err != nil {
			relayTotal.WithLabelValues(outcomeTransport).Inc()
			return nil, err
		}
		s.logger.Debug("relayed without waiting",
			"agent_id", agent.ID,
			"content_type", req.ContentType,
		)
		relayTotal.WithLabelValues(outcomeAccepted).Inc()
		return acceptedResult(), nil
	}

	return s.relayAndWait(ctx, agent.ID, targetChannel, correlationChannel, payload, s.effectiveTimeout(req))
}

// relayAndWait performs the blocking half of a relay call. The correlation
// subscription is established strictly before the publish, closing the race
// where an agent replies faster than the subscription comes up, and is
// released on every exit path.
func (s *Service) relayAndWait(ctx context.Context, agentID, targetChannel, correlationChannel string, payload []byte, timeout time.Duration) (*Result, error) {
	sub, err := s.broker.Subscribe(ctx, correlationChannel)
	if err != nil {
		relayTotal.WithLabelValues(outcomeTransport).Inc()
		return nil, fmt.Errorf("subscribing to correlation channel: %w", err)
	}
	defer sub.Close()

	if err := s.broker.Publish(ctx, targetChannel, payload); err != nil {
		relayTotal.WithLabelValues(outcomeTransport).Inc()
		return nil, err
	}

	s.logger.Debug("relayed, waiting for response",
		"agent_id", agentID,
		"correlation_channel", correlationChannel,
		"timeout", timeout,
	)

	relayPendingWaits.Inc()
	start := time.Now()
	response, err := s.awaitResponse(ctx, sub.Messages(), correlationChannel, timeout)
	relayPendingWaits.Dec()
	relayWaitSeconds.Observe(time.Since(start).Seconds())

	switch {
	case errors.Is(err, ErrWaitTimeout):
		s.logger.Warn("no response before deadline",
			"agent_id", agentID,
			"correlation_channel", correlationChannel,
			"timeout", timeout,
		)
		relayTotal.WithLabelValues(outcomeTimeout).Inc()
		return nil, err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		relayTotal.WithLabelValues(outcomeCancelled).Inc()
		return nil, err
	case err != nil:
		relayTotal.WithLabelValues(outcomeTransport).Inc()
		return nil, err
	}

	result := mapResponse(response)
	if result.OK() {
		relayTotal.WithLabelValues(outcomeSuccess).Inc()
	} else {
		relayTotal.WithLabelValues(outcomeRemoteErr).Inc()
	}
	return result, nil
}

// validate enforces the request contract before any registry or broker
// interaction. Order matters to callers: content type, body, destination,
// then wait timeout.
func (s *Service) validate(req *Request) error {
	if req.ContentType == "" {
		return ErrMissingContentType
	}
	if !req.ContentType.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidContentType, req.ContentType)
	}
	if req.Body == nil {
		return ErrMissingBody
	}
	if req.Destination == "" {
		return ErrMissingDestination
	}
	if req.WaitTimeout > s.opts.MaxWaitTimeout {
		return fmt.Errorf("%w: %s > %s", ErrInvalidWaitTimeout, req.WaitTimeout, s.opts.MaxWaitTimeout)
	}
	return nil
}

// effectiveTimeout picks the deadline for a blocking wait: the caller's
// timeout when supplied, otherwise the configured default.
func (s *Service) effectiveTimeout(req *Request) time.Duration {
	if req.WaitTimeout > 0 {
		return req.WaitTimeout
	}
	return s.opts.DefaultWaitTimeout
}

// resolveOutcome picks the metric label for a pre-publish failure.
func (s *Service) resolveOutcome(err error) string {
	if IsResolutionError(err) {
		return outcomeResolution
	}
	return outcomeTransport
}
