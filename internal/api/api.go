// ABOUTME: HTTP handlers exposing the relay operation and agent listing.
// ABOUTME: Maps relay outcomes onto status codes: 400 validation/resolution, 500 remote, 504 timeout.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/carelink/relay/internal/device"
	"github.com/carelink/relay/internal/relay"
)

// Relayer is the relay operation the API fronts.
type Relayer interface {
	Relay(ctx context.Context, req *relay.Request) (*relay.Result, error)
}

// AgentLister lists registered agents for GET /api/agents.
type AgentLister interface {
	ListAgents(ctx context.Context) ([]*device.Agent, error)
}

// Server holds the HTTP handlers for the relay API.
type Server struct {
	relayer Relayer
	agents  AgentLister
	logger  *slog.Logger
}

// NewServer creates an API server over the given relayer and agent lister.
func NewServer(relayer Relayer, agents AgentLister, logger *slog.Logger) *Server {
	return &Server{
		relayer: relayer,
		agents:  agents,
		logger:  logger.With("component", "api"),
	}
}

// Register attaches the API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/relay", s.handleRelay)
	mux.HandleFunc("/api/agents", s.handleListAgents)
}

// RelayRequest is the JSON request body for POST /api/relay.
type RelayRequest struct {
	Agent           string  `json:"agent"`
	ContentType     string  `json:"contentType"`
	Body            *string `json:"body"`
	Destination     string  `json:"destination"`
	WaitForResponse bool    `json:"waitForResponse"`
	WaitTimeout     string  `json:"waitTimeout,omitempty"` // Go duration string, e.g. "30s"
}

// AgentResponse is one entry in the GET /api/agents listing.
type AgentResponse struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Identifiers []IdentifierPayload `json:"identifiers,omitempty"`
}

// IdentifierPayload is an external system+value pair on an agent.
type IdentifierPayload struct {
	System string `json:"system"`
	Value  string `json:"value"`
}

// errorResponse is the structured error surface: a short machine-oriented
// code plus a longer human-readable diagnostic.
type errorResponse struct {
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics"`
}

// handleRelay handles POST /api/relay requests.
func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var body RelayRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "InvalidRequest", "malformed request body: "+err.Error())
		return
	}

	req := &relay.Request{
		Agent:           body.Agent,
		ContentType:     relay.ContentType(body.ContentType),
		Body:            body.Body,
		Destination:     body.Destination,
		WaitForResponse: body.WaitForResponse,
	}

	if body.WaitTimeout != "" {
		d, err := time.ParseDuration(body.WaitTimeout)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "InvalidWaitTimeout", "malformed waitTimeout: "+err.Error())
			return
		}
		req.WaitTimeout = d
	}

	result, err := s.relayer.Relay(r.Context(), req)
	if err != nil {
		s.writeRelayError(w, err)
		return
	}

	// The agent reported its own failure: the relay worked, the action did not.
	if !result.OK() {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(result.Outcome)
		return
	}

	if result.ContentType != "" {
		w.Header().Set("Content-Type", string(result.ContentType))
	}
	w.WriteHeader(http.StatusOK)
	if result.Body != "" {
		w.Write([]byte(result.Body))
	}
}

// writeRelayError maps a relay error onto the HTTP surface. Every
// validation and resolution failure is a 400; a wait timeout is a 504,
// kept distinct from the agent reporting its own error.
func (s *Server) writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case relay.IsValidationError(err), relay.IsResolutionError(err):
		s.writeError(w, http.StatusBadRequest, relay.ErrorCode(err), err.Error())
	case errors.Is(err, relay.ErrWaitTimeout):
		s.writeError(w, http.StatusGatewayTimeout, relay.ErrorCode(err), err.Error())
	case errors.Is(err, context.Canceled):
		// Caller went away; nothing useful to write.
		s.writeError(w, http.StatusBadRequest, "Cancelled", err.Error())
	default:
		s.logger.Error("relay failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}

// handleListAgents handles GET /api/agents requests.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	agents, err := s.agents.ListAgents(r.Context())
	if err != nil {
		s.logger.Error("listing agents failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal", err.Error())
		return
	}

	out := make([]AgentResponse, 0, len(agents))
	for _, agent := range agents {
		resp := AgentResponse{ID: agent.ID, Name: agent.Name}
		for _, ident := range agent.Identifiers {
			resp.Identifiers = append(resp.Identifiers, IdentifierPayload{
				System: ident.System,
				Value:  ident.Value,
			})
		}
		out = append(out, resp)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// writeError writes the structured error surface.
func (s *Server) writeError(w http.ResponseWriter, status int, code, diagnostics string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Code: code, Diagnostics: diagnostics})
}
