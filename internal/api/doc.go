// Package api exposes the relay operation over HTTP.
//
// # Endpoints
//
//	POST /api/relay   — forward a payload to an agent, optionally blocking
//	GET  /api/agents  — list registered agents
//
// # Status Mapping
//
// The relay outcome maps onto response codes as follows:
//
//	200 — agent success (or generic acknowledgement for non-blocking calls)
//	400 — every request validation and resolution failure
//	500 — the agent reported its own error (outcome JSON in the body)
//	504 — no response arrived before the wait deadline
//
// Successful responses carry the agent's content type and body unchanged.
// Error responses carry a JSON object with a short machine-oriented code
// and a human-readable diagnostics string; a remote-reported failure keeps
// the agent's text verbatim in the diagnostics field.
//
// Authentication and richer routing belong to the deployment's front
// proxy, not this package.
package api
