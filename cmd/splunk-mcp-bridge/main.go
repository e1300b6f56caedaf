package main

import "github.com/splunk-bridge/splunk-mcp-bridge/cmd/splunk-mcp-bridge/cmd"

func main() {
	cmd.Execute()
}
