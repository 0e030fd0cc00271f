// ABOUTME: Transmit envelopes, content types, and broker channel naming.
// ABOUTME: Envelopes are the JSON records exchanged with agents over the broker.

package relay

import (
	"fmt"

	"github.com/google/uuid"
)

// ContentType tags the payload an envelope carries. The relay never
// inspects the body; the tag tells the agent how to handle it.
type ContentType string

const (
	// ContentTypeText is an opaque plain-text payload.
	ContentTypeText ContentType = "text/plain"

	// ContentTypeDocument is a JSON-shaped structured clinical document.
	ContentTypeDocument ContentType = "application/json"

	// ContentTypeHL7v2 is a healthcare interchange message: carriage-return
	// delimited segment text.
	ContentTypeHL7v2 ContentType = "x-application/hl7-v2+er7"

	// ContentTypePing asks the agent to run a network reachability check
	// against the destination address.
	ContentTypePing ContentType = "x-text/ping"
)

// Valid reports whether c is one of the supported content types.
func (c ContentType) Valid() bool {
	switch c {
	case ContentTypeText, ContentTypeDocument, ContentTypeHL7v2, ContentTypePing:
		return true
	}
	return false
}

// RequestEnvelope is the outbound message record published on an agent's
// inbound channel. CorrelationChannel names the freshly generated callback
// channel the agent must answer on; it is unique for the lifetime of the
// pending request so concurrent relays never cross-talk.
type RequestEnvelope struct {
	CorrelationChannel string            `json:"correlationChannel"`
	ContentType        ContentType       `json:"contentType"`
	Body               string            `json:"body"`
	Destination        string            `json:"destination"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// ResponseEnvelope is the message record an agent publishes on the
// correlation channel. CorrelationChannel must echo the request's; a waiter
// discards anything else it receives.
type ResponseEnvelope struct {
	CorrelationChannel string      `json:"correlationChannel"`
	StatusCode         int         `json:"statusCode"`
	ContentType        ContentType `json:"contentType"`
	Body               string      `json:"body"`
}

// AgentChannel returns the well-known inbound channel for an agent. Stable
// per agent; every relay to the same agent publishes here.
func AgentChannel(prefix, agentID string) string {
	return fmt.Sprintf("%s.agents.%s", prefix, agentID)
}

// NewCorrelationChannel returns a fresh collision-resistant callback
// channel name. The callbacks namespace keeps generated names apart from
// the agent inbound channel namespace.
func NewCorrelationChannel(prefix string) string {
	return fmt.Sprintf("%s.callbacks.%s", prefix, uuid.New().String())
}
