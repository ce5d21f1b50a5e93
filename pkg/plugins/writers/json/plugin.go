// Package json provides a plugin wrapper for the JSON writer.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailspend/pkg/api"
	jsonwriter "github.com/ArionMiles/mailspend/pkg/writer/json"
)

// Plugin implements the WriterPlugin interface for JSON files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "json"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Export transactions to a JSON file"
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
			"filePath": map[string]any{
				"type":        "string",
				"description": "Path to the JSON output file",
			},
			"batchSize": map[string]any{
				"type":        "integer",
				"description": "Number of transactions to buffer before writing (default: 10)",
				"default":     10,
			},
		},
		"required": []string{"filePath"},
	}
}

// NewWriter creates a new JSON writer instance.
func (p *Plugin) NewWriter(_ context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg jsonwriter.Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling json config: %w", err)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	return jsonwriter.New(cfg, logger)
}
