// Package splunkbridge provides a Go client for the Splunk MCP Bridge
// REST API.
//
// The bridge exposes a remote Splunk MCP server through plain HTTP
// endpoints; this SDK wraps those endpoints with typed requests and
// responses. It uses only the Go standard library (net/http) with zero
// external dependencies.
//
// Quick start:
//
//	// Set SPLUNK_BRIDGE_SERVER_ADDR and SPLUNK_BRIDGE_API_KEY env vars, then:
//	client := splunkbridge.NewClient()
//
//	result, err := client.CallTool(ctx, "search", map[string]any{
//	    "query": "index=main | head 5",
//	})
//	if err != nil {
//	    var apiErr *splunkbridge.APIError
//	    if errors.As(err, &apiErr) {
//	        fmt.Printf("bridge error %s: %s\n", apiErr.Code, apiErr.Message)
//	    }
//	}
//	fmt.Println(result.Text())
package splunkbridge

import (
	"encoding/json"
	"strings"
)

// Tool describes a tool exposed by the MCP server.
type Tool struct {
	// Name is the tool identifier used in CallTool.
	Name string `json:"name"`

	// Description is the human-readable tool description.
	Description string `json:"description,omitempty"`

	// InputSchema is the JSON Schema for the tool arguments.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolsResponse is the catalog returned by ListTools.
type ToolsResponse struct {
	Tools []Tool `json:"tools"`
}

// ContentItem is a single piece of tool output.
type ContentItem struct {
	// Type is the content type (e.g., "text").
	Type string `json:"type"`

	// Text is the content payload for text items.
	Text string `json:"text,omitempty"`
}

// ToolResult is the outcome of a tool invocation.
//
// IsError=true means the tool itself reported a failure (for example a
// malformed SPL query); the bridge and the MCP session are healthy.
// Transport and session failures surface as Go errors instead.
type ToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError"`
}

// Text concatenates the text content items of the result.
func (r *ToolResult) Text() string {
	var parts []string
	for _, item := range r.Content {
		if item.Text != "" {
			parts = append(parts, item.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Resource describes a resource exposed by the MCP server.
type Resource struct {
	// URI identifies the resource (e.g., "splunk://indexes").
	URI string `json:"uri"`

	// Name is the human-readable resource name.
	Name string `json:"name,omitempty"`

	// Description is the human-readable resource description.
	Description string `json:"description,omitempty"`

	// MimeType is the resource content type.
	MimeType string `json:"mimeType,omitempty"`
}

// ResourcesResponse is the catalog returned by ListResources.
type ResourcesResponse struct {
	Resources []Resource `json:"resources"`
}

// ResourceContent is a single piece of resource data.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ResourceContents is the payload returned by ReadResource.
type ResourceContents struct {
	Contents []ResourceContent `json:"contents"`
}

// Health is the bridge health report.
type Health struct {
	// Status is "healthy" or "unhealthy".
	Status string `json:"status"`

	// SessionState is the MCP session state
	// (disconnected, connecting, ready, degraded, failed).
	SessionState string `json:"session_state"`

	// Version is the bridge version.
	Version string `json:"version,omitempty"`
}
