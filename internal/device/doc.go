// Package device is the registry of agents and the devices they can reach.
//
// # Overview
//
// An Agent is a remote edge process registered with the gateway. Each agent
// has a stable ID, a display name, and zero or more external identifiers
// (system+value pairs) assigned by outside systems. A Device is an endpoint
// record an agent can address: it carries a network address URL which may
// be empty until the device is placed.
//
// The relay's destination resolver reads this registry to turn a
// caller-supplied destination token into a concrete address. The registry
// is read-only from the relay's point of view; registration happens through
// normal resource management.
//
// # Store
//
// The Store interface covers lookups by ID and by external identifier,
// device search by query parameters, and upserts for registration:
//
//	store, err := device.NewSQLiteStore("/var/lib/relay/registry.db")
//
// SQLiteStore keeps agents, their identifier pairs, and devices in three
// tables with WAL enabled. All methods are safe for concurrent use.
package device
