// ABOUTME: Error taxonomy for the relay core.
// ABOUTME: Validation and resolution errors surface before any broker interaction.

package relay

import "errors"

// Validation errors, detected before any registry or broker interaction.
var (
	// ErrMissingContentType indicates the request carried no content type.
	ErrMissingContentType = errors.New("contentType is required")

	// ErrInvalidContentType indicates an unsupported content type value.
	ErrInvalidContentType = errors.New("unsupported contentType")

	// ErrMissingBody indicates the body field was absent. An empty body is
	// accepted; only the absence of the field fails.
	ErrMissingBody = errors.New("body is required")

	// ErrMissingDestination indicates the request carried no destination.
	ErrMissingDestination = errors.New("destination is required")

	// ErrInvalidWaitTimeout indicates a caller-supplied wait timeout above
	// the configured ceiling.
	ErrInvalidWaitTimeout = errors.New("waitTimeout exceeds the maximum allowed")
)

// Resolution errors, detected against the registry before publish.
var (
	// ErrAgentNotFound indicates the target agent reference resolved to
	// no registered agent.
	ErrAgentNotFound = errors.New("agent not found")

	// ErrDestinationNotFound indicates the destination token resolved to
	// no device: an unknown reference, a search matching zero or more than
	// one device, or a token that parses as none of the accepted forms.
	ErrDestinationNotFound = errors.New("destination not found")

	// ErrMissingAddress indicates the destination device exists but
	// carries no address.
	ErrMissingAddress = errors.New("destination device has no address")
)

// ErrWaitTimeout indicates no response arrived on the correlation channel
// before the deadline. Distinct from the agent reporting its own error,
// which surfaces as a Result outcome. The caller may retry the whole
// operation; a retry gets a fresh correlation channel.
var ErrWaitTimeout = errors.New("timed out waiting for agent response")

// ErrorCode returns the short machine-oriented category for a relay error,
// suitable for the error surface alongside the human-readable diagnostic.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingContentType):
		return "MissingContentType"
	case errors.Is(err, ErrInvalidContentType):
		return "InvalidContentType"
	case errors.Is(err, ErrMissingBody):
		return "MissingBody"
	case errors.Is(err, ErrMissingDestination):
		return "MissingDestination"
	case errors.Is(err, ErrInvalidWaitTimeout):
		return "InvalidWaitTimeout"
	case errors.Is(err, ErrAgentNotFound):
		return "AgentNotFound"
	case errors.Is(err, ErrDestinationNotFound):
		return "DestinationNotFound"
	case errors.Is(err, ErrMissingAddress):
		return "MissingAddress"
	case errors.Is(err, ErrWaitTimeout):
		return "Timeout"
	default:
		return "Internal"
	}
}

// IsValidationError reports whether err is one of the request validation
// errors that must surface before any broker interaction.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrMissingContentType) ||
		errors.Is(err, ErrInvalidContentType) ||
		errors.Is(err, ErrMissingBody) ||
		errors.Is(err, ErrMissingDestination) ||
		errors.Is(err, ErrInvalidWaitTimeout)
}

// IsResolutionError reports whether err came from resolving the agent or
// destination against the registry.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrAgentNotFound) ||
		errors.Is(err, ErrDestinationNotFound) ||
		errors.Is(err, ErrMissingAddress)
}
