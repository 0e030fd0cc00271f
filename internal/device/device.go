// ABOUTME: Domain types and the Store interface for the agent/device registry.
// ABOUTME: Agents are remote edge processes; devices are the endpoints they talk to.

package device

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested agent or device does not exist.
var ErrNotFound = errors.New("not found")

// Agent is a registered logical endpoint representing one remote edge
// process. Its inbound broker channel is derived from its stable ID.
type Agent struct {
	ID          string
	Name        string
	Identifiers []Identifier
	CreatedAt   time.Time
}

// Identifier is an external system+value pair naming an agent, such as a
// facility-assigned code. A single agent may carry several.
type Identifier struct {
	System string
	Value  string
}

// Device is an endpoint record an agent can reach: a modem, an analyzer,
// an interface engine. Address may be empty for a registered-but-unplaced
// device; the relay treats that as a resolution failure.
type Device struct {
	ID        string
	Name      string
	Status    string
	Address   string
	CreatedAt time.Time
}

// SearchParams are the query parameters a device search expression
// supports. Zero-valued fields are not applied.
type SearchParams struct {
	Name       string
	Status     string
	Identifier string // matches the device ID
	Address    string
}

// Store is the registry the destination resolver reads. Implementations
// must be safe for concurrent use.
type Store interface {
	// GetAgent returns the agent with the given ID, or ErrNotFound.
	GetAgent(ctx context.Context, id string) (*Agent, error)

	// GetAgentByIdentifier returns the agent carrying the given external
	// system+value pair, or ErrNotFound.
	GetAgentByIdentifier(ctx context.Context, system, value string) (*Agent, error)

	// GetDevice returns the device with the given ID, or ErrNotFound.
	GetDevice(ctx context.Context, id string) (*Device, error)

	// SearchDevices returns every device matching all supplied parameters.
	SearchDevices(ctx context.Context, params SearchParams) ([]*Device, error)

	// PutAgent creates or replaces an agent record and its identifiers.
	PutAgent(ctx context.Context, agent *Agent) error

	// PutDevice creates or replaces a device record.
	PutDevice(ctx context.Context, dev *Device) error

	// ListAgents returns all registered agents.
	ListAgents(ctx context.Context) ([]*Agent, error)

	// Close releases the underlying storage.
	Close() error
}
