// ABOUTME: SQLite implementation of the registry Store using modernc.org/sqlite
// ABOUTME: Provides agent/device persistence with automatic schema creation

package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "registry")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("registry store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS agents (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_identifiers (
			agent_id TEXT NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
			system TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (agent_id, system, value)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_agent_identifiers_pair
			ON agent_identifiers(system, value);

		CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			address TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_devices_name ON devices(name);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetAgent returns the agent with the given ID, or ErrNotFound.
func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	query := `SELECT id, name, created_at FROM agents WHERE id = ?`

	agent, err := s.scanAgent(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := s.loadIdentifiers(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// GetAgentByIdentifier returns the agent carrying the given external
// system+value pair, or ErrNotFound.
func (s *SQLiteStore) GetAgentByIdentifier(ctx context.Context, system, value string) (*Agent, error) {
	query := `
		SELECT a.id, a.name, a.created_at
		FROM agents a
		JOIN agent_identifiers ai ON ai.agent_id = a.id
		WHERE ai.system = ? AND ai.value = ?
	`

	agent, err := s.scanAgent(s.db.QueryRowContext(ctx, query, system, value))
	if err != nil {
		return nil, err
	}

	if err := s.loadIdentifiers(ctx, agent); err != nil {
		return nil, err
	}
	return agent, nil
}

// scanAgent reads one agent row.
func (s *SQLiteStore) scanAgent(row *sql.Row) (*Agent, error) {
	var agent Agent
	err := row.Scan(&agent.ID, &agent.Name, &agent.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return &agent, nil
}

// loadIdentifiers fills in the agent's external identifier pairs.
func (s *SQLiteStore) loadIdentifiers(ctx context.Context, agent *Agent) error {
	query := `SELECT system, value FROM agent_identifiers WHERE agent_id = ? ORDER BY system, value`

	rows, err := s.db.QueryContext(ctx, query, agent.ID)
	if err != nil {
		return fmt.Errorf("querying agent identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ident Identifier
		if err := rows.Scan(&ident.System, &ident.Value); err != nil {
			return fmt.Errorf("scanning agent identifier: %w", err)
		}
		agent.Identifiers = append(agent.Identifiers, ident)
	}
	return rows.Err()
}

// GetDevice returns the device with the given ID, or ErrNotFound.
func (s *SQLiteStore) GetDevice(ctx context.Context, id string) (*Device, error) {
	query := `SELECT id, name, status, address, created_at FROM devices WHERE id = ?`

	var dev Device
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&dev.ID, &dev.Name, &dev.Status, &dev.Address, &dev.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning device: %w", err)
	}
	return &dev, nil
}

// SearchDevices returns every device matching all supplied parameters.
func (s *SQLiteStore) SearchDevices(ctx context.Context, params SearchParams) ([]*Device, error) {
	query := `SELECT id, name, status, address, created_at FROM devices WHERE 1=1`
	args := []any{}

	if params.Name != "" {
		query += " AND name = ?"
		args = append(args, params.Name)
	}
	if params.Status != "" {
		query += " AND status = ?"
		args = append(args, params.Status)
	}
	if params.Identifier != "" {
		query += " AND id = ?"
		args = append(args, params.Identifier)
	}
	if params.Address != "" {
		query += " AND address = ?"
		args = append(args, params.Address)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		var dev Device
		if err := rows.Scan(&dev.ID, &dev.Name, &dev.Status, &dev.Address, &dev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, &dev)
	}
	return devices, rows.Err()
}

// PutAgent creates or replaces an agent record and its identifiers.
func (s *SQLiteStore) PutAgent(ctx context.Context, agent *Agent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := agent.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO agents (id, name, created_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	if _, err := tx.ExecContext(ctx, query, agent.ID, agent.Name, createdAt); err != nil {
		return fmt.Errorf("upserting agent: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_identifiers WHERE agent_id = ?`, agent.ID); err != nil {
		return fmt.Errorf("clearing agent identifiers: %w", err)
	}
	for _, ident := range agent.Identifiers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO agent_identifiers (agent_id, system, value) VALUES (?, ?, ?)`,
			agent.ID, ident.System, ident.Value); err != nil {
			return fmt.Errorf("inserting agent identifier: %w", err)
		}
	}

	return tx.Commit()
}

// PutDevice creates or replaces a device record.
func (s *SQLiteStore) PutDevice(ctx context.Context, dev *Device) error {
	createdAt := dev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	status := dev.Status
	if status == "" {
		status = "active"
	}

	query := `
		INSERT INTO devices (id, name, status, address, created_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			address = excluded.address
	`
	if _, err := s.db.ExecContext(ctx, query, dev.ID, dev.Name, status, dev.Address, createdAt); err != nil {
		return fmt.Errorf("upserting device: %w", err)
	}
	return nil
}

// ListAgents returns all registered agents ordered by ID.
func (s *SQLiteStore) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var agent Agent
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning agent: %w", err)
		}
		agents = append(agents, &agent)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, agent := range agents {
		if err := s.loadIdentifiers(ctx, agent); err != nil {
			return nil, err
		}
	}
	return agents, nil
}
