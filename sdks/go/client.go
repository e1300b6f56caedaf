package splunkbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Client is the Splunk MCP Bridge SDK client.
type Client struct {
	serverAddr string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient creates a new bridge SDK client.
// It reads configuration from SPLUNK_BRIDGE_* environment variables by
// default. Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("SPLUNK_BRIDGE_SERVER_ADDR"),
		apiKey:     os.Getenv("SPLUNK_BRIDGE_API_KEY"),
		timeout:    parseDurationEnv("SPLUNK_BRIDGE_TIMEOUT", 60*time.Second),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// ListTools returns the tool catalog of the MCP server.
func (c *Client) ListTools(ctx context.Context) (*ToolsResponse, error) {
	var resp ToolsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/tools", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CallTool invokes a named tool with the given arguments.
//
// A nil error with result.IsError=true means the tool itself reported
// a failure; inspect result.Text() for the tool's error message.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) (*ToolResult, error) {
	if name == "" {
		return nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "validation_error",
			Message: "tool name must not be empty",
		}
	}

	body := struct {
		Arguments map[string]any `json:"arguments,omitempty"`
	}{Arguments: arguments}

	var result ToolResult
	path := "/api/tools/" + name
	if err := c.doRequest(ctx, http.MethodPost, path, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListResources returns the resource catalog of the MCP server.
func (c *Client) ListResources(ctx context.Context) (*ResourcesResponse, error) {
	var resp ResourcesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/resources", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadResource reads the resource identified by uri
// (e.g., "splunk://indexes").
func (c *Client) ReadResource(ctx context.Context, uri string) (*ResourceContents, error) {
	if uri == "" {
		return nil, &APIError{
			Status:  http.StatusBadRequest,
			Code:    "validation_error",
			Message: "resource uri must not be empty",
		}
	}
	var contents ResourceContents
	if err := c.doRequest(ctx, http.MethodGet, "/api/resources/"+uri, nil, &contents); err != nil {
		return nil, err
	}
	return &contents, nil
}

// Health returns the bridge health report. Unlike the API endpoints,
// /health responds even when the MCP session is down; an unhealthy
// bridge yields a Health value with Status "unhealthy", not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	url := strings.TrimRight(c.serverAddr, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServerUnreachableError{Cause: err}
	}
	defer resp.Body.Close()

	var health Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health response: %w", err)
	}
	return &health, nil
}

// doRequest performs an HTTP request to the bridge and decodes either
// the success payload or the bridge's error envelope.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, result any) error {
	url := strings.TrimRight(c.serverAddr, "/") + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("X-API-Key", c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return &ServerUnreachableError{Cause: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return parseAPIError(httpResp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// parseAPIError decodes the bridge's error envelope. Responses that do
// not carry the envelope still produce an APIError with the raw body.
func parseAPIError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			Retryable bool   `json:"retryable"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Code != "" {
		return &APIError{
			Status:    status,
			Code:      envelope.Error.Code,
			Message:   envelope.Error.Message,
			Retryable: envelope.Error.Retryable,
		}
	}
	return &APIError{
		Status:  status,
		Code:    fmt.Sprintf("http_%d", status),
		Message: strings.TrimSpace(string(body)),
	}
}

func parseDurationEnv(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	// Bare integers are seconds.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return defaultVal
}
