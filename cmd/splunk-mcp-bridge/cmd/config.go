package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration as YAML after applying the config
file, environment variable overrides, and defaults.

Secrets (bearer token, API key hash) are masked in the output.

Examples:
  # Show effective config
  splunk-mcp-bridge config

  # Show effective config for a specific file
  splunk-mcp-bridge --config /etc/splunk-mcp-bridge/splunk-mcp-bridge.yaml config`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.SetDevDefaults()

	if file := config.ConfigFileUsed(); file != "" {
		fmt.Fprintf(os.Stderr, "# config file: %s\n", file)
	} else {
		fmt.Fprintln(os.Stderr, "# no config file found (defaults and environment only)")
	}

	masked := *cfg
	if masked.MCPServer.BearerToken != "" {
		masked.MCPServer.BearerToken = "****"
	}
	if masked.Server.APIKeyHash != "" {
		masked.Server.APIKeyHash = "sha256:****"
	}

	out, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	fmt.Print(string(out))
	return nil
}
