// ABOUTME: Entry point for the relay-gateway server
// ABOUTME: Relays payloads from the API to edge agents over the shared broker

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carelink/relay/internal/api"
	"github.com/carelink/relay/internal/broker"
	"github.com/carelink/relay/internal/config"
	"github.com/carelink/relay/internal/device"
	"github.com/carelink/relay/internal/relay"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                 _                            _
  _ __ ___  ___| | __ _ _   _       __ _ ___| |_ ___
 | '__/ _ \/ __| |/ _' | | | |____ / _' / __| __/ _ \
 | | |  __/ (__| | (_| | |_| |____| (_| \__ \ ||  __/
 |_|  \___|\___|_|\__,_|\__, |     \__, |___/\__\___|
                        |___/      |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/carelink/relay.yaml > ~/.config/carelink/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "carelink", "relay.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relay-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                               Start the gateway server")
		fmt.Println("  init                                Create a starter config file")
		fmt.Println("  register-agent --id ID --name NAME  Register an edge agent")
		fmt.Println("  register-device --id ID --name NAME --address ADDR")
		fmt.Println("                                      Register a destination device")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "register-agent":
		err = runRegisterAgent(ctx)
	case "register-device":
		err = runRegisterDevice(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	color.Cyan(banner)
	color.White("  relay-gateway %s", version)
	fmt.Println()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	store, err := device.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening registry: %w", err)
	}
	defer store.Close()

	b, err := broker.NewRedisBroker(ctx, broker.RedisOptions{
		Addr:     cfg.Broker.RedisAddr,
		Password: cfg.Broker.RedisPassword,
		DB:       cfg.Broker.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("connecting broker: %w", err)
	}
	defer b.Close()

	svc := relay.NewService(b, store, relay.Options{
		ChannelPrefix:      cfg.Broker.ChannelPrefix,
		DefaultWaitTimeout: cfg.Relay.DefaultWaitTimeout,
		MaxWaitTimeout:     cfg.Relay.MaxWaitTimeout,
	}, logger)

	mux := http.NewServeMux()
	api.NewServer(svc, store, logger).Register(mux)

	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.Handler())
		logger.Info("metrics enabled", "path", cfg.Metrics.Path)
	}

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("relay-gateway listening",
			"addr", cfg.Server.HTTPAddr,
			"channel_prefix", cfg.Broker.ChannelPrefix,
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// setupLogger builds the process logger from the logging config.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

const starterConfig = `server:
  http_addr: "127.0.0.1:8080"

broker:
  redis_addr: "localhost:6379"
  redis_password: "${RELAY_REDIS_PASSWORD}"
  redis_db: 0
  channel_prefix: "relay"

database:
  path: "./relay-registry.db"

relay:
  default_wait_timeout: "10s"
  max_wait_timeout: "1m"

logging:
  level: "info"
  format: "text"

metrics:
  enabled: true
  path: "/metrics"
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	color.Green("Wrote starter config to %s", configPath)
	return nil
}

// identifierList collects repeated --identifier system|value flags.
type identifierList []device.Identifier

func (l *identifierList) String() string {
	return fmt.Sprintf("%d identifiers", len(*l))
}

func (l *identifierList) Set(value string) error {
	system, val, ok := strings.Cut(value, "|")
	if !ok || system == "" || val == "" {
		return fmt.Errorf("identifier must be in the form system|value, got %q", value)
	}
	*l = append(*l, device.Identifier{System: system, Value: val})
	return nil
}

func runRegisterAgent(ctx context.Context) error {
	fs := flag.NewFlagSet("register-agent", flag.ExitOnError)
	id := fs.String("id", "", "stable agent ID (required)")
	name := fs.String("name", "", "display name (required)")
	var idents identifierList
	fs.Var(&idents, "identifier", "external identifier as system|value (repeatable)")
	fs.Parse(os.Args[2:])

	if *id == "" || *name == "" {
		return fmt.Errorf("--id and --name are required")
	}

	store, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutAgent(ctx, &device.Agent{
		ID:          *id,
		Name:        *name,
		Identifiers: idents,
	}); err != nil {
		return fmt.Errorf("registering agent: %w", err)
	}

	color.Green("Registered agent %s (%s)", *id, *name)
	return nil
}

func runRegisterDevice(ctx context.Context) error {
	fs := flag.NewFlagSet("register-device", flag.ExitOnError)
	id := fs.String("id", "", "device ID (required)")
	name := fs.String("name", "", "device name (required)")
	address := fs.String("address", "", "network address the owning agent dials")
	status := fs.String("status", "active", "device status")
	fs.Parse(os.Args[2:])

	if *id == "" || *name == "" {
		return fmt.Errorf("--id and --name are required")
	}

	store, err := openStoreFromConfig()
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.PutDevice(ctx, &device.Device{
		ID:      *id,
		Name:    *name,
		Address: *address,
		Status:  *status,
	}); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}

	color.Green("Registered device %s (%s)", *id, *name)
	return nil
}

func openStoreFromConfig() (*device.SQLiteStore, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return device.NewSQLiteStore(cfg.Database.Path)
}
