package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches standard locations for
// splunk-mcp-bridge.yaml/.yml. The search requires an explicit YAML
// extension to avoid matching the binary itself, which Viper's built-in
// SetConfigName would match (same base name, no extension).
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location.
		// Set name/type without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("splunk-mcp-bridge")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SPLUNK_MCP_BRIDGE_MCP_SERVER_URL
	viper.SetEnvPrefix("SPLUNK_MCP_BRIDGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a splunk-mcp-bridge
// config file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".splunk-mcp-bridge"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "splunk-mcp-bridge"))
		}
	} else {
		paths = append(paths, "/etc/splunk-mcp-bridge")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first splunk-mcp-bridge.yaml or .yml
// found in the given directories, or empty string if none exists.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "splunk-mcp-bridge"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: SPLUNK_MCP_BRIDGE_SERVER_HTTP_ADDR overrides
// server.http_addr.
func bindNestedEnvKeys() {
	// Server config
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.api_key_hash")
	_ = viper.BindEnv("server.log_payloads")
	_ = viper.BindEnv("server.shutdown_timeout")
	// Note: server.cors_origins is an array; use the config file.

	// MCP server config
	_ = viper.BindEnv("mcp_server.url")
	_ = viper.BindEnv("mcp_server.bearer_token")
	_ = viper.BindEnv("mcp_server.request_timeout")
	_ = viper.BindEnv("mcp_server.verify_ssl")
	_ = viper.BindEnv("mcp_server.handshake_timeout")
	_ = viper.BindEnv("mcp_server.connect_queue_size")
	_ = viper.BindEnv("mcp_server.backoff_base")
	_ = viper.BindEnv("mcp_server.backoff_cap")
	_ = viper.BindEnv("mcp_server.max_retries")
	_ = viper.BindEnv("mcp_server.probe_interval")
	_ = viper.BindEnv("mcp_server.probe_timeout")

	// Audit config
	_ = viper.BindEnv("audit.output")
	_ = viper.BindEnv("audit.channel_size")
	_ = viper.BindEnv("audit.batch_size")
	_ = viper.BindEnv("audit.flush_interval")
	_ = viper.BindEnv("audit.send_timeout")
	_ = viper.BindEnv("audit_file.retention_days")
	_ = viper.BindEnv("audit_file.max_file_size_mb")

	// Dev mode
	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides
// and defaults, and validates the result.
// Note: callers that let CLI flags override DevMode should use
// LoadConfigRaw, then apply flags, SetDevDefaults, and Validate.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}

	cfg.SetDevDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT apply dev defaults or validate.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was
// loaded, or empty string when running from environment variables only.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
