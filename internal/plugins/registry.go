// Package plugins provides a plugin registry for mail transports and export writers.
package plugins

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// TransportPlugin defines the interface for mail transport plugins.
type TransportPlugin interface {
	// Name returns the plugin name (e.g., "gmail", "mbox").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewTransport creates a new transport instance with the given config.
	NewTransport(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.MailTransport, error)
}

// WriterPlugin defines the interface for transaction writer plugins.
type WriterPlugin interface {
	// Name returns the plugin name (e.g., "sheets", "csv", "json").
	Name() string
	// Description returns a human-readable description.
	Description() string
	// RequiredScopes returns the OAuth scopes needed by this plugin.
	RequiredScopes() []string
	// ConfigSchema returns a JSON schema describing the plugin's configuration.
	ConfigSchema() map[string]any
	// NewWriter creates a new writer instance with the given config.
	NewWriter(ctx context.Context, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error)
}

// Registry manages available transport and writer plugins.
type Registry struct {
	transports map[string]TransportPlugin
	writers    map[string]WriterPlugin
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		transports: make(map[string]TransportPlugin),
		writers:    make(map[string]WriterPlugin),
	}
}

// RegisterTransport registers a transport plugin.
func (r *Registry) RegisterTransport(plugin TransportPlugin) error {
	name := plugin.Name()
	if _, exists := r.transports[name]; exists {
		return fmt.Errorf("transport plugin %q already registered", name)
	}
	r.transports[name] = plugin
	return nil
}

// RegisterWriter registers a writer plugin.
func (r *Registry) RegisterWriter(plugin WriterPlugin) error {
	name := plugin.Name()
	if _, exists := r.writers[name]; exists {
		return fmt.Errorf("writer plugin %q already registered", name)
	}
	r.writers[name] = plugin
	return nil
}

// GetTransport returns a transport plugin by name.
func (r *Registry) GetTransport(name string) (TransportPlugin, error) {
	plugin, exists := r.transports[name]
	if !exists {
		return nil, fmt.Errorf("transport plugin %q not found", name)
	}
	return plugin, nil
}

// GetWriter returns a writer plugin by name.
func (r *Registry) GetWriter(name string) (WriterPlugin, error) {
	plugin, exists := r.writers[name]
	if !exists {
		return nil, fmt.Errorf("writer plugin %q not found", name)
	}
	return plugin, nil
}

// ListTransports returns all registered transport plugins sorted by name.
func (r *Registry) ListTransports() []TransportPlugin {
	plugins := make([]TransportPlugin, 0, len(r.transports))
	for _, plugin := range r.transports {
		plugins = append(plugins, plugin)
	}
	slices.SortFunc(plugins, func(a, b TransportPlugin) int { return cmp.Compare(a.Name(), b.Name()) })
	return plugins
}

// ListWriters returns all registered writer plugins sorted by name.
func (r *Registry) ListWriters() []WriterPlugin {
	plugins := make([]WriterPlugin, 0, len(r.writers))
	for _, plugin := range r.writers {
		plugins = append(plugins, plugin)
	}
	slices.SortFunc(plugins, func(a, b WriterPlugin) int { return cmp.Compare(a.Name(), b.Name()) })
	return plugins
}

// Scopes returns the sorted, deduplicated OAuth scopes required by the named
// transport and writer. An empty writer name means no writer.
func (r *Registry) Scopes(transportName, writerName string) ([]string, error) {
	transport, err := r.GetTransport(transportName)
	if err != nil {
		return nil, err
	}
	scopes := slices.Clone(transport.RequiredScopes())

	if writerName != "" {
		writer, err := r.GetWriter(writerName)
		if err != nil {
			return nil, err
		}
		scopes = append(scopes, writer.RequiredScopes()...)
	}

	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// CreateTransport creates a transport instance from a plugin.
func (r *Registry) CreateTransport(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.MailTransport, error) {
	plugin, err := r.GetTransport(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewTransport(httpClient, config, logger)
}

// CreateWriter creates a writer instance from a plugin.
func (r *Registry) CreateWriter(ctx context.Context, name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	plugin, err := r.GetWriter(name)
	if err != nil {
		return nil, err
	}
	return plugin.NewWriter(ctx, httpClient, config, logger)
}
