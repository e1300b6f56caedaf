// Package config provides the configuration schema for the Splunk MCP
// bridge. Configuration is file-based (YAML) with environment variable
// overrides; there is no dynamic reconfiguration.
package config

import (
	"github.com/spf13/viper"
)

// Config is the top-level configuration for the bridge.
type Config struct {
	// Server configures the HTTP listener exposed to REST clients.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// MCPServer configures the remote MCP server the bridge talks to.
	MCPServer MCPServerConfig `yaml:"mcp_server" mapstructure:"mcp_server"`

	// Audit configures where audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// AuditFile configures file-based audit persistence.
	// Only used when audit output is "file://<dir>".
	AuditFile AuditFileConfig `yaml:"audit_file" mapstructure:"audit_file"`

	// DevMode enables development conveniences (debug logging,
	// payload logging). Never enable in production.
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
// Only plain HTTP is supported; terminate TLS at a reverse proxy.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:8756").
	// Defaults to "127.0.0.1:8756" (localhost only) if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// Defaults to "info" if empty. DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// APIKeyHash is the SHA-256 hash of the client API key, prefixed
	// with "sha256:". When empty, API key checking is disabled.
	// Generate with: splunk-mcp-bridge hash-key
	APIKeyHash string `yaml:"api_key_hash" mapstructure:"api_key_hash" validate:"omitempty,startswith=sha256:"`

	// CORSOrigins lists allowed CORS origins. Empty disables CORS
	// handling entirely (same-origin clients only).
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`

	// LogPayloads enables debug logging of tool call request bodies
	// with sensitive argument values redacted.
	LogPayloads bool `yaml:"log_payloads" mapstructure:"log_payloads"`

	// ShutdownTimeout bounds graceful shutdown (e.g., "10s").
	// Defaults to "10s" if not specified.
	ShutdownTimeout string `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" validate:"omitempty"`
}

// MCPServerConfig configures the remote MCP server connection.
type MCPServerConfig struct {
	// URL is the Streamable HTTP endpoint of the MCP server
	// (e.g., "https://splunk-mcp.example.com/mcp").
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// BearerToken is sent as "Authorization: Bearer <token>" on every
	// request to the MCP server. Optional.
	BearerToken string `yaml:"bearer_token" mapstructure:"bearer_token"`

	// RequestTimeout bounds individual HTTP requests to the MCP server
	// (e.g., "30s", "1m"). Defaults to "30s" if not specified.
	RequestTimeout string `yaml:"request_timeout" mapstructure:"request_timeout" validate:"omitempty"`

	// VerifySSL controls TLS certificate verification.
	// Defaults to true; set false only for self-signed test servers.
	VerifySSL bool `yaml:"verify_ssl" mapstructure:"verify_ssl"`

	// HandshakeTimeout bounds the initialize round trip (e.g., "10s").
	// Defaults to "10s" if not specified.
	HandshakeTimeout string `yaml:"handshake_timeout" mapstructure:"handshake_timeout" validate:"omitempty"`

	// ConnectQueueSize is the maximum number of callers allowed to wait
	// for a connection attempt. Excess callers fail fast with a
	// backpressure error. Defaults to 64.
	ConnectQueueSize int `yaml:"connect_queue_size" mapstructure:"connect_queue_size" validate:"omitempty,min=1"`

	// BackoffBase is the initial reconnect delay (e.g., "1s").
	// Defaults to "1s" if not specified.
	BackoffBase string `yaml:"backoff_base" mapstructure:"backoff_base" validate:"omitempty"`

	// BackoffCap is the maximum reconnect delay (e.g., "30s").
	// Defaults to "30s" if not specified.
	BackoffCap string `yaml:"backoff_cap" mapstructure:"backoff_cap" validate:"omitempty"`

	// MaxRetries is the number of consecutive failed connection
	// attempts before the session is marked failed. Defaults to 5.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries" validate:"omitempty,min=0"`

	// ProbeInterval is how often an idle ready session is pinged
	// (e.g., "30s"). "0" disables probing. Defaults to "30s".
	ProbeInterval string `yaml:"probe_interval" mapstructure:"probe_interval" validate:"omitempty"`

	// ProbeTimeout bounds a single health probe (e.g., "5s").
	// Defaults to "5s" if not specified.
	ProbeTimeout string `yaml:"probe_timeout" mapstructure:"probe_timeout" validate:"omitempty"`
}

// AuditConfig configures audit record output.
type AuditConfig struct {
	// Output specifies where audit records are written.
	// Valid values: "stdout" or "file://<absolute-dir>".
	// Defaults to "stdout" if empty.
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size for the audit channel.
	// Defaults to 1000 if not specified or 0.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records to batch before writing.
	// Defaults to 100 if not specified or 0.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often to flush pending records (e.g., "1s").
	// Defaults to "1s" if not specified.
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval" validate:"omitempty"`

	// SendTimeout is how long to block when the channel is full
	// (e.g., "100ms"). "0" drops immediately without blocking.
	// Defaults to "100ms" if not specified.
	SendTimeout string `yaml:"send_timeout" mapstructure:"send_timeout" validate:"omitempty"`
}

// AuditFileConfig configures file-based audit persistence.
type AuditFileConfig struct {
	// RetentionDays is the number of days to keep audit files.
	// Defaults to 7.
	RetentionDays int `yaml:"retention_days" mapstructure:"retention_days" validate:"omitempty,min=1"`
	// MaxFileSizeMB is the maximum size per audit file before rotation.
	// Defaults to 100.
	MaxFileSizeMB int `yaml:"max_file_size_mb" mapstructure:"max_file_size_mb" validate:"omitempty,min=1"`
}

// SetDevDefaults applies development-mode conveniences. Applied after
// SetDefaults so explicit settings win over dev behavior only where
// the user left them untouched.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if !viper.IsSet("server.log_payloads") {
		c.Server.LogPayloads = true
	}
}

// SetDefaults applies default values to optional fields.
func (c *Config) SetDefaults() {
	// Server defaults. Bind to localhost only; network exposure must
	// be an explicit choice.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8756"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "10s"
	}

	// MCP server defaults.
	if c.MCPServer.RequestTimeout == "" {
		c.MCPServer.RequestTimeout = "30s"
	}
	// viper.IsSet distinguishes "not set" from an explicit false.
	if !viper.IsSet("mcp_server.verify_ssl") {
		c.MCPServer.VerifySSL = true
	}
	if c.MCPServer.HandshakeTimeout == "" {
		c.MCPServer.HandshakeTimeout = "10s"
	}
	if c.MCPServer.ConnectQueueSize == 0 {
		c.MCPServer.ConnectQueueSize = 64
	}
	if c.MCPServer.BackoffBase == "" {
		c.MCPServer.BackoffBase = "1s"
	}
	if c.MCPServer.BackoffCap == "" {
		c.MCPServer.BackoffCap = "30s"
	}
	if !viper.IsSet("mcp_server.max_retries") {
		c.MCPServer.MaxRetries = 5
	}
	if c.MCPServer.ProbeInterval == "" {
		c.MCPServer.ProbeInterval = "30s"
	}
	if c.MCPServer.ProbeTimeout == "" {
		c.MCPServer.ProbeTimeout = "5s"
	}

	// Audit defaults.
	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}
	if c.Audit.SendTimeout == "" {
		c.Audit.SendTimeout = "100ms"
	}

	// Audit file defaults.
	if c.AuditFile.RetentionDays == 0 {
		c.AuditFile.RetentionDays = 7
	}
	if c.AuditFile.MaxFileSizeMB == 0 {
		c.AuditFile.MaxFileSizeMB = 100
	}
}
