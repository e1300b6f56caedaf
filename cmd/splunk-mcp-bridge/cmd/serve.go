package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/adapter/inbound/rest"
	auditstore "github.com/splunk-bridge/splunk-mcp-bridge/internal/adapter/outbound/audit"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/adapter/outbound/mcp"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/config"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/domain/audit"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/port/outbound"
	"github.com/splunk-bridge/splunk-mcp-bridge/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bridge server",
	Long: `Start the Splunk MCP bridge server.

The bridge connects lazily: the MCP session is established on the
first REST call, not at startup, so the bridge starts even when the
MCP server is down.

Examples:
  # Start with config file settings
  splunk-mcp-bridge serve

  # Start with a specific config file
  splunk-mcp-bridge --config /path/to/config.yaml serve

  # Start against a local MCP server without a config file
  SPLUNK_MCP_BRIDGE_MCP_SERVER_URL=http://localhost:8765/mcp splunk-mcp-bridge serve`,
	RunE: runServe,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, payload logging)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// Load without validation so the CLI flag can override DevMode first.
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// stop() restores default signal handling so a second Ctrl+C does a
	// hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "splunk-mcp-bridge stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("splunk-mcp-bridge stopped")
	return nil
}

// run wires all components together and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("development mode enabled, payload logging active")
	}

	// ===== Audit pipeline =====
	auditStore, err := createAuditStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create audit store: %w", err)
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(parseDurationOr(logger, "audit.flush_interval", cfg.Audit.FlushInterval, time.Second)),
		service.WithSendTimeout(parseDurationOr(logger, "audit.send_timeout", cfg.Audit.SendTimeout, 100*time.Millisecond)),
	)
	auditService.Start(ctx)
	defer auditService.Stop()

	// ===== MCP session =====
	requestTimeout := parseDurationOr(logger, "mcp_server.request_timeout", cfg.MCPServer.RequestTimeout, 30*time.Second)
	factory := mcpTransportFactory(cfg, requestTimeout, logger)

	correlator := service.NewCorrelator(logger)
	manager := service.NewSessionManager(factory, correlator, logger,
		service.WithClientIdentity("splunk-mcp-bridge", Version),
		service.WithHandshakeTimeout(parseDurationOr(logger, "mcp_server.handshake_timeout", cfg.MCPServer.HandshakeTimeout, 10*time.Second)),
		service.WithConnectQueueSize(cfg.MCPServer.ConnectQueueSize),
		service.WithBackoff(
			parseDurationOr(logger, "mcp_server.backoff_base", cfg.MCPServer.BackoffBase, time.Second),
			parseDurationOr(logger, "mcp_server.backoff_cap", cfg.MCPServer.BackoffCap, 30*time.Second),
			cfg.MCPServer.MaxRetries,
		),
		service.WithProbeInterval(parseDurationOr(logger, "mcp_server.probe_interval", cfg.MCPServer.ProbeInterval, 30*time.Second)),
		service.WithProbeTimeout(parseDurationOr(logger, "mcp_server.probe_timeout", cfg.MCPServer.ProbeTimeout, 5*time.Second)),
	)
	defer func() { _ = manager.Close() }()

	bridgeService := service.NewBridgeService(manager, auditService, requestTimeout, logger)

	// ===== HTTP server =====
	registry := prometheus.NewRegistry()
	metrics := rest.NewMetrics(registry, func() float64 {
		return float64(auditService.DroppedRecords())
	})
	correlator.OnPendingChange(func(n int) {
		metrics.PendingCalls.Set(float64(n))
	})
	go trackSessionEpoch(ctx, manager, metrics)

	handler := rest.NewHandler(bridgeService, manager, auditService, metrics, logger, rest.RouterConfig{
		Version:     Version,
		ServerURL:   cfg.MCPServer.URL,
		APIKeyHash:  cfg.Server.APIKeyHash,
		CORSOrigins: cfg.Server.CORSOrigins,
		LogPayloads: cfg.Server.LogPayloads,
	})

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler.Router(registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	shutdownTimeout := parseDurationOr(logger, "server.shutdown_timeout", cfg.Server.ShutdownTimeout, 10*time.Second)
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		logger.Info("shutting down", "timeout", shutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", "error", err)
		}
	}()

	logger.Info("splunk-mcp-bridge starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"mcp_server", cfg.MCPServer.URL,
		"verify_ssl", cfg.MCPServer.VerifySSL,
		"api_key_auth", cfg.Server.APIKeyHash != "",
		"audit_output", cfg.Audit.Output,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server failed: %w", err)
	}
	<-shutdownDone
	return nil
}

// mcpTransportFactory builds Streamable HTTP transports for the session
// manager. Each reconnect gets a fresh transport instance.
func mcpTransportFactory(cfg *config.Config, requestTimeout time.Duration, logger *slog.Logger) service.TransportFactory {
	return func() outbound.Transport {
		opts := []mcp.TransportOption{
			mcp.WithLogger(logger),
			mcp.WithRequestTimeout(requestTimeout),
		}
		if cfg.MCPServer.BearerToken != "" {
			opts = append(opts, mcp.WithAuthToken(cfg.MCPServer.BearerToken))
		}
		if !cfg.MCPServer.VerifySSL {
			opts = append(opts, mcp.WithInsecureTLS())
		}
		return mcp.NewHTTPTransport(cfg.MCPServer.URL, opts...)
	}
}

// trackSessionEpoch mirrors the current session epoch into the gauge.
// Polling keeps the metrics wiring out of the session manager itself.
func trackSessionEpoch(ctx context.Context, manager *service.SessionManager, metrics *rest.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.SessionEpoch.Set(float64(manager.Status().Epoch))
		}
	}
}

// createAuditStore creates an audit store based on configuration.
func createAuditStore(cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch {
	case cfg.Audit.Output == "stdout":
		logger.Debug("audit output: stdout")
		return auditstore.NewWriterStore(os.Stdout), nil

	case strings.HasPrefix(cfg.Audit.Output, "file://"):
		dir := strings.TrimPrefix(cfg.Audit.Output, "file://")
		logger.Debug("audit output: file", "dir", dir)
		return auditstore.NewFileStore(auditstore.FileConfig{
			Dir:           dir,
			RetentionDays: cfg.AuditFile.RetentionDays,
			MaxFileSizeMB: cfg.AuditFile.MaxFileSizeMB,
		}, logger)

	default:
		return nil, fmt.Errorf("invalid audit output: %s (must be 'stdout' or 'file://dir')", cfg.Audit.Output)
	}
}

// parseDurationOr parses a duration string, logging and falling back to
// the default on failure. Validation normally catches bad values first.
func parseDurationOr(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("invalid duration, using default", "field", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// pidFilePath returns the standard location for the bridge PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".splunk-mcp-bridge", "server.pid")
	}
	return filepath.Join(os.TempDir(), "splunk-mcp-bridge-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
