// Package gmail provides a plugin wrapper for the Gmail transport.
package gmail

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/ArionMiles/mailspend/pkg/api"
	gmailreader "github.com/ArionMiles/mailspend/pkg/reader/gmail"
)

// Plugin implements the TransportPlugin interface for Gmail.
type Plugin struct{}

// Name returns the plugin name.
func (p *Plugin) Name() string {
	return "gmail"
}

// Description returns a human-readable description.
func (p *Plugin) Description() string {
	return "Read transaction emails from Gmail"
}

// RequiredScopes returns the OAuth scopes needed by this plugin.
func (p *Plugin) RequiredScopes() []string {
	return []string{
		gmailapi.GmailReadonlyScope,
		gmailapi.GmailModifyScope,
	}
}

// ConfigSchema returns a JSON schema describing the plugin's configuration.
func (p *Plugin) ConfigSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"user": map[string]any{
				"type":        "string",
				"description": "Mailbox to read (default: the authorized user)",
				"default":     gmailreader.DefaultUser,
			},
			"markRead": map[string]any{
				"type":        "boolean",
				"description": "Remove the UNREAD label once a message is stored",
			},
			"maxMessages": map[string]any{
				"type":        "integer",
				"description": "Maximum messages listed per provider query (0 means no limit)",
			},
		},
	}
}

// Config represents the Gmail transport configuration.
type Config struct {
	User        string `json:"user,omitempty"`
	MarkRead    bool   `json:"markRead,omitempty"`
	MaxMessages int    `json:"maxMessages,omitempty"`
}

// NewTransport creates a new Gmail transport instance.
func (p *Plugin) NewTransport(httpClient *http.Client, configData json.RawMessage, logger *slog.Logger) (api.MailTransport, error) {
	var cfg Config
	if len(configData) > 0 {
		if err := json.Unmarshal(configData, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshaling gmail config: %w", err)
		}
	}
	if httpClient == nil {
		return nil, fmt.Errorf("gmail transport requires an authorized http client")
	}

	return gmailreader.New(httpClient, gmailreader.Config{
		User:        cfg.User,
		MarkRead:    cfg.MarkRead,
		MaxMessages: cfg.MaxMessages,
	}, logger)
}
