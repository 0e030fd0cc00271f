// Package relay is the agent message relay core: it forwards an opaque
// payload to a remote, possibly offline, edge agent over the shared pub/sub
// broker and optionally blocks the caller until the agent's correlated
// response arrives or a deadline passes.
//
// # Control Flow
//
// A relay call runs through six steps:
//
//  1. Validate the request: content type, body, destination, wait timeout.
//     Failures surface before any registry or broker interaction.
//  2. Resolve the target agent (direct ID or system|value identifier pair)
//     to its well-known inbound channel.
//  3. Resolve the destination token (device reference, device search, or a
//     raw address for pings) to a single address string.
//  4. Build a request envelope with a freshly generated correlation
//     channel name.
//  5. If blocking: subscribe to the correlation channel, then publish the
//     envelope to the agent channel — strictly in that order, so a fast
//     agent reply cannot be lost between publish and subscribe.
//  6. Wait for the matching response, map it into a Result, and release
//     the subscription.
//
// Non-blocking calls skip steps 5–6 and return a generic acknowledgement
// immediately after publish.
//
// # Correlation
//
// Every call generates a unique callback channel name. A pending wait
// accepts only an envelope echoing that exact name and discards everything
// else, so any number of concurrent relays — even to the same agent in the
// same millisecond — never receive each other's responses. Nothing about
// the shared broker connection is locked for the duration of a wait.
//
// # Delivery
//
// The broker is non-durable: publishing to an agent that is offline loses
// the envelope silently. That is the transport contract, not a bug — a
// blocking caller surfaces it as a timeout, and retrying the operation
// generates a fresh correlation channel.
//
// # Errors
//
// Validation and resolution failures are sentinel errors checkable with
// errors.Is. A timeout is ErrWaitTimeout, distinct from the agent
// reporting its own failure: the latter is a Result with an Outcome whose
// Diagnostics field carries the agent's text verbatim.
package relay
