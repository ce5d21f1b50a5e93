// Package app wires configuration, persistence and plugins for the mailspend commands.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ArionMiles/mailspend/internal/plugins"
	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/client"
	"github.com/ArionMiles/mailspend/pkg/config"
	"github.com/ArionMiles/mailspend/pkg/orchestrator"
	gmailplugin "github.com/ArionMiles/mailspend/pkg/plugins/readers/gmail"
	mboxplugin "github.com/ArionMiles/mailspend/pkg/plugins/readers/mbox"
	csvplugin "github.com/ArionMiles/mailspend/pkg/plugins/writers/csv"
	jsonplugin "github.com/ArionMiles/mailspend/pkg/plugins/writers/json"
	sheetsplugin "github.com/ArionMiles/mailspend/pkg/plugins/writers/sheets"
	"github.com/ArionMiles/mailspend/pkg/store/memory"
	"github.com/ArionMiles/mailspend/pkg/store/mongo"
	"github.com/ArionMiles/mailspend/pkg/store/postgres"
)

// DefaultWriter is used by export when neither a flag nor MAILSPEND_WRITER names one.
const DefaultWriter = "csv"

// App holds the loaded configuration and the plugin registry.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Registry *plugins.Registry
}

// New registers the built-in plugins.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	registry, err := NewRegistry()
	if err != nil {
		return nil, err
	}

	logger.Debug("plugins registered",
		"transports", len(registry.ListTransports()),
		"writers", len(registry.ListWriters()),
	)

	return &App{Config: cfg, Logger: logger, Registry: registry}, nil
}

// NewRegistry returns a registry holding every built-in transport and writer.
func NewRegistry() (*plugins.Registry, error) {
	registry := plugins.NewRegistry()

	for _, p := range []plugins.TransportPlugin{&gmailplugin.Plugin{}, &mboxplugin.Plugin{}} {
		if err := registry.RegisterTransport(p); err != nil {
			return nil, fmt.Errorf("registering %s transport: %w", p.Name(), err)
		}
	}
	for _, p := range []plugins.WriterPlugin{&csvplugin.Plugin{}, &jsonplugin.Plugin{}, &sheetsplugin.Plugin{}} {
		if err := registry.RegisterWriter(p); err != nil {
			return nil, fmt.Errorf("registering %s writer: %w", p.Name(), err)
		}
	}
	return registry, nil
}

// OpenStore connects to the configured store. The caller closes it.
func (a *App) OpenStore(ctx context.Context) (api.Store, error) {
	cfg := a.Config
	logger := a.Logger.With("store", cfg.Store)

	switch cfg.Store {
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			DSN:      cfg.Postgres.DSN,
		}, logger)
	case "mongo":
		return mongo.New(ctx, mongo.Config{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		}, logger)
	case "memory":
		logger.Warn("using the in-memory store; data is lost on exit")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// OpenSeededStore opens the store and creates the default categories and
// rules when it has none.
func (a *App) OpenSeededStore(ctx context.Context) (api.Store, error) {
	store, err := a.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := categorizer.Seed(ctx, store, a.Logger); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// Scopes returns the OAuth scopes needed by the configured transport and writer.
func (a *App) Scopes() ([]string, error) {
	return a.Registry.Scopes(a.Config.Transport, a.Config.Writer)
}

// HTTPClient returns an OAuth client for scopes, or nil when no scopes are needed.
func (a *App) HTTPClient(ctx context.Context, scopes []string) (*http.Client, error) {
	if len(scopes) == 0 {
		return nil, nil
	}

	httpClient, err := client.New(ctx, client.Options{
		SecretFile: a.Config.ClientSecretFile,
		TokenFile:  a.Config.TokenFile,
		Scopes:     scopes,
	}, a.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating http client: %w", err)
	}
	return httpClient, nil
}

// TransportConfig renders the plugin configuration for the configured transport.
func (a *App) TransportConfig() (json.RawMessage, error) {
	cfg := a.Config

	var v any
	switch cfg.Transport {
	case "gmail":
		v = gmailplugin.Config{MarkRead: cfg.Gmail.MarkRead, MaxMessages: cfg.Gmail.MaxMessages}
	case "mbox":
		v = mboxplugin.Config{Path: cfg.MboxPath}
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return json.Marshal(v)
}

// Transport creates the configured mail transport.
func (a *App) Transport(ctx context.Context) (api.MailTransport, error) {
	plugin, err := a.Registry.GetTransport(a.Config.Transport)
	if err != nil {
		return nil, err
	}

	httpClient, err := a.HTTPClient(ctx, plugin.RequiredScopes())
	if err != nil {
		return nil, err
	}

	transportCfg, err := a.TransportConfig()
	if err != nil {
		return nil, err
	}

	transport, err := a.Registry.CreateTransport(plugin.Name(), httpClient, transportCfg, a.Logger.With("component", plugin.Name()+"_transport"))
	if err != nil {
		return nil, fmt.Errorf("creating %s transport: %w", plugin.Name(), err)
	}
	return transport, nil
}

// Orchestrator wires the configured transport with store and engine.
func (a *App) Orchestrator(ctx context.Context, store api.Store, engine *categorizer.Engine) (*orchestrator.Orchestrator, error) {
	transport, err := a.Transport(ctx)
	if err != nil {
		return nil, err
	}

	a.Logger.Info("sync configured",
		"transport", a.Config.Transport,
		"concurrency", a.Config.Sync.Concurrency,
		"fetch_timeout", a.Config.Sync.FetchTimeout,
	)

	return orchestrator.New(transport, store, engine, orchestrator.Config{
		Concurrency:  a.Config.Sync.Concurrency,
		FetchTimeout: a.Config.Sync.FetchTimeout,
	}, a.Logger.With("component", "orchestrator")), nil
}

// WriterConfig returns the plugin configuration for the named writer. A
// non-empty outPath overrides the file path of file writers. The sheets
// writer falls back to the GSHEETS_* settings.
func (a *App) WriterConfig(name, outPath string) (json.RawMessage, error) {
	raw := a.Config.WriterConfig
	if len(raw) == 0 && name == "sheets" {
		s := a.Config.Sheets
		return json.Marshal(sheetsplugin.Config{SheetTitle: s.Title, SheetID: s.ID, SheetName: s.Name})
	}
	if outPath == "" {
		return raw, nil
	}

	fields := map[string]any{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("parsing writer config: %w", err)
		}
	}
	fields["filePath"] = outPath
	return json.Marshal(fields)
}

// Writer creates the named export writer.
func (a *App) Writer(ctx context.Context, name, outPath string) (api.Writer, error) {
	plugin, err := a.Registry.GetWriter(name)
	if err != nil {
		return nil, err
	}

	writerCfg, err := a.WriterConfig(name, outPath)
	if err != nil {
		return nil, err
	}

	httpClient, err := a.HTTPClient(ctx, plugin.RequiredScopes())
	if err != nil {
		return nil, err
	}

	w, err := a.Registry.CreateWriter(ctx, name, httpClient, writerCfg, a.Logger.With("component", name+"_writer"))
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", name, err)
	}
	return w, nil
}
