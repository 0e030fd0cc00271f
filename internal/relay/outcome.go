// ABOUTME: Maps agent response envelopes into caller-facing results.
// ABOUTME: Remote failures keep the agent's diagnostic text verbatim, apart from the summary.

package relay

import "net/http"

// Result is the caller-facing outcome of a relay call. A successful relay
// passes the agent's body and content type through unchanged. When the
// agent reports a failure, Outcome is set and carries the detail.
type Result struct {
	StatusCode  int
	ContentType ContentType
	Body        string
	Outcome     *Outcome
}

// OK reports whether the relay carried a successful agent response (or a
// non-blocking acknowledgement).
func (r *Result) OK() bool {
	return r.Outcome == nil
}

// Outcome is an operational-outcome style failure description. Summary is
// a generic marker; Diagnostics preserves the agent-reported text verbatim
// so operators can tell "the relay worked but the agent's action failed"
// from a relay failure.
type Outcome struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Summary     string `json:"summary"`
	Diagnostics string `json:"diagnostics"`
}

// remoteErrorSummary is the generic human-readable marker for an
// agent-reported failure. The agent's own text goes in Diagnostics.
const remoteErrorSummary = "Internal error"

// mapResponse translates a received response envelope into a Result.
// Success-range status codes pass body and content type through untouched;
// anything else becomes an error outcome.
func mapResponse(env *ResponseEnvelope) *Result {
	if env.StatusCode >= 200 && env.StatusCode < 300 {
		return &Result{
			StatusCode:  env.StatusCode,
			ContentType: env.ContentType,
			Body:        env.Body,
		}
	}

	return &Result{
		StatusCode: env.StatusCode,
		Outcome: &Outcome{
			Severity:    "error",
			Code:        "processing",
			Summary:     remoteErrorSummary,
			Diagnostics: env.Body,
		},
	}
}

// acceptedResult is the generic acknowledgement a non-blocking relay
// returns immediately after publish. No body: nothing has answered yet.
func acceptedResult() *Result {
	return &Result{
		StatusCode:  http.StatusOK,
		ContentType: ContentTypeText,
	}
}
