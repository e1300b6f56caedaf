package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers bridge-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput validates the audit output field.
// Valid values: "stdout" or "file://<absolute-dir>"
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}
	if strings.HasPrefix(output, "file://") {
		dir := strings.TrimPrefix(output, "file://")
		return dir != "" && filepath.IsAbs(dir)
	}
	return false
}

// Validate checks the configuration using struct tags and cross-field
// rules, returning actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDurations(); err != nil {
		return err
	}
	return c.validateBackoffOrdering()
}

// validateDurations checks every duration-typed string field parses.
func (c *Config) validateDurations() error {
	fields := map[string]string{
		"server.shutdown_timeout":      c.Server.ShutdownTimeout,
		"mcp_server.request_timeout":   c.MCPServer.RequestTimeout,
		"mcp_server.handshake_timeout": c.MCPServer.HandshakeTimeout,
		"mcp_server.backoff_base":      c.MCPServer.BackoffBase,
		"mcp_server.backoff_cap":       c.MCPServer.BackoffCap,
		"mcp_server.probe_interval":    c.MCPServer.ProbeInterval,
		"mcp_server.probe_timeout":     c.MCPServer.ProbeTimeout,
		"audit.flush_interval":         c.Audit.FlushInterval,
		"audit.send_timeout":           c.Audit.SendTimeout,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q (use forms like \"30s\", \"1m\", \"500ms\")", name, value)
		}
	}
	return nil
}

// validateBackoffOrdering ensures the backoff delay cannot shrink.
func (c *Config) validateBackoffOrdering() error {
	base, err := time.ParseDuration(c.MCPServer.BackoffBase)
	if err != nil {
		return nil
	}
	ceiling, err := time.ParseDuration(c.MCPServer.BackoffCap)
	if err != nil {
		return nil
	}
	if base > ceiling {
		return fmt.Errorf("mcp_server: backoff_base (%s) must not exceed backoff_cap (%s)", base, ceiling)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a
// single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout' or 'file://<absolute-dir>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
