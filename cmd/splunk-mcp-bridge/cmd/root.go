// Package cmd provides the CLI commands for the Splunk MCP bridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/splunk-bridge/splunk-mcp-bridge/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "splunk-mcp-bridge",
	Short: "Splunk MCP Bridge - REST facade for a Splunk MCP server",
	Long: `Splunk MCP Bridge exposes a remote Splunk MCP server through a plain
REST API. Clients call ordinary HTTP endpoints; the bridge maintains a
single persistent MCP session, translates requests to JSON-RPC, and
correlates streamed replies back to callers.

Quick start:
  1. Create a config file: splunk-mcp-bridge.yaml
  2. Run: splunk-mcp-bridge serve

Configuration:
  Config is loaded from splunk-mcp-bridge.yaml in the current directory,
  $HOME/.splunk-mcp-bridge/, or /etc/splunk-mcp-bridge/.

  Environment variables can override config values with the
  SPLUNK_MCP_BRIDGE_ prefix.
  Example: SPLUNK_MCP_BRIDGE_MCP_SERVER_URL=https://splunk-mcp:8080/mcp

Commands:
  serve       Start the bridge server
  stop        Stop the running server
  config      Print the effective configuration
  hash-key    Generate SHA256 hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./splunk-mcp-bridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
