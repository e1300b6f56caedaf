package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		MCPServer: MCPServerConfig{URL: "https://splunk-mcp.example.com/mcp"},
		Audit:     AuditConfig{Output: "stdout"},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_MissingServerURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPServer.URL = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "MCPServer.URL") {
		t.Errorf("error = %q, want to contain 'MCPServer.URL'", err.Error())
	}
}

func TestValidate_MalformedServerURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPServer.URL = "not a url"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "valid URL") {
		t.Errorf("error = %q, want to contain 'valid URL'", err.Error())
	}
}

func TestValidate_InvalidAuditOutput(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "invalid"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_ValidAuditOutputFile(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file:///var/log/splunk-mcp-bridge"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with file:// unexpected error: %v", err)
	}
}

func TestValidate_InvalidAuditOutputRelativePath(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Audit.Output = "file://relative/path"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for relative path, got nil")
	}
	if !strings.Contains(err.Error(), "Audit.Output") {
		t.Errorf("error = %q, want to contain 'Audit.Output'", err.Error())
	}
}

func TestValidate_InvalidKeyHashPrefix(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.APIKeyHash = "abc123" // missing sha256: prefix

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for missing sha256: prefix, got nil")
	}
	if !strings.Contains(err.Error(), "sha256:") {
		t.Errorf("error = %q, want to contain 'sha256:'", err.Error())
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.Server.LogLevel = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "LogLevel") {
		t.Errorf("error = %q, want to contain 'LogLevel'", err.Error())
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPServer.RequestTimeout = "thirty seconds"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for unparseable duration, got nil")
	}
	if !strings.Contains(err.Error(), "request_timeout") {
		t.Errorf("error = %q, want to contain 'request_timeout'", err.Error())
	}
}

func TestValidate_BackoffBaseExceedsCap(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPServer.BackoffBase = "1m"
	cfg.MCPServer.BackoffCap = "10s"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error for inverted backoff bounds, got nil")
	}
	if !strings.Contains(err.Error(), "backoff_base") {
		t.Errorf("error = %q, want to contain 'backoff_base'", err.Error())
	}
}

func TestValidate_ProbeIntervalZeroDisables(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.MCPServer.ProbeInterval = "0"

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with probe_interval 0 unexpected error: %v", err)
	}
}

func TestValidate_EnvOnlyConfigNeedsURL(t *testing.T) {
	t.Parallel()

	// Running with no config file at all: everything defaults except the
	// MCP server URL, which must come from somewhere.
	cfg := &Config{}
	cfg.SetDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() zero-config expected error (no server URL), got nil")
	}

	cfg.MCPServer.URL = "http://localhost:8765/mcp"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() with URL set unexpected error: %v", err)
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("default audit output = %q, want 'stdout'", cfg.Audit.Output)
	}
}
