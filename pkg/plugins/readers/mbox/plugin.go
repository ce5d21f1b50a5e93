// Package mbox provides a plugin wrapper for the mbox transport.
package mbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailspend/pkg/api"
	mboxreader "github.com/ArionMiles/mailspend/pkg/reader/mbox"
)

// Plugin implements the TransportPlugin interface for mbox files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "mbox"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read transaction emails from a local mbox file"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return nil
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the mbox file",
			},
		},
		"required": []string{"path"},
	}
}

// Config represents the mbox transport configuration.
type Config struct {
	Path string `json:"path"`
}

// NewTransport creates a new mbox transport instance. The HTTP client is unused.
func (p *Plugin) NewTransport(_ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.MailTransport, error) {
	var cfg Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling mbox config: %w", err)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("path is required")
	}

	return mboxreader.New(mboxreader.Config{Path: cfg.Path}, logger)
}
