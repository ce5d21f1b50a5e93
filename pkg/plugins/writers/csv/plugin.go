// Package csv provides a plugin wrapper for the CSV writer.
package csv

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailspend/pkg/api"
	csvwriter "github.com/ArionMiles/mailspend/pkg/writer/csv"
)

// Plugin implements the WriterPlugin interface for CSV files.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "csv"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Export transactions to a CSV file"
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
				"description": "Path to the CSV output file",
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

// NewWriter creates a new CSV writer instance.
func (p *Plugin) NewWriter(_ context.Context, _ *http.Client, configData json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	var cfg csvwriter.Config
	if err := json.Unmarshal(configData, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling csv config: %w", err)
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("filePath is required")
	}

	return csvwriter.New(cfg, logger)
}
