package bridge

import "encoding/json"

// ToolDescriptor describes one remotely invocable tool. Descriptors are
// obtained from the server's discovery call and never mutated in place.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ResourceDescriptor describes one URI-addressed remote artifact.
type ResourceDescriptor struct {
	URI         string `json:"uri"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// ToolSnapshot is an immutable view of the remote tool catalog as of one
// discovery call. Fingerprint is a hash of the canonical descriptor JSON,
// used to detect remote-side catalog changes between calls.
type ToolSnapshot struct {
	Tools       []ToolDescriptor `json:"tools"`
	Fingerprint uint64           `json:"-"`
}

// ResourceSnapshot is the resource-catalog counterpart of ToolSnapshot.
type ResourceSnapshot struct {
	Resources   []ResourceDescriptor `json:"resources"`
	Fingerprint uint64               `json:"-"`
}

// ToolResult is the tool invocation result passed through to the REST
// caller unchanged. IsError true means the remote tool itself reported
// failure; the RPC call still succeeded.
type ToolResult struct {
	Content []json.RawMessage `json:"content"`
	IsError bool              `json:"isError"`
}

// ResourceContents is the resources/read result passed through unchanged.
type ResourceContents struct {
	Contents []json.RawMessage `json:"contents"`
}
