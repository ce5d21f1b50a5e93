package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/config"
)

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(&cfg, nil)
	require.NoError(t, err)
	return a
}

func TestNewRegistry(t *testing.T) {
	registry, err := NewRegistry()
	require.NoError(t, err)

	var transports, writers []string
	for _, p := range registry.ListTransports() {
		transports = append(transports, p.Name())
	}
	for _, p := range registry.ListWriters() {
		writers = append(writers, p.Name())
	}
	assert.Equal(t, []string{"gmail", "mbox"}, transports)
	assert.Equal(t, []string{"csv", "json", "sheets"}, writers)
}

func TestOpenSeededStore_Memory(t *testing.T) {
	a := newApp(t, config.Config{Store: "memory", Transport: "mbox"})
	ctx := context.Background()

	store, err := a.OpenSeededStore(ctx)
	require.NoError(t, err)
	defer store.Close()

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	defaults, err := categorizer.LoadDefaults()
	require.NoError(t, err)
	assert.Len(t, cats, len(defaults.Categories))
}

func TestOpenStore_Unknown(t *testing.T) {
	a := newApp(t, config.Config{Store: "redis"})
	_, err := a.OpenStore(context.Background())
	require.ErrorContains(t, err, "unknown store")
}

func TestScopes(t *testing.T) {
	a := newApp(t, config.Config{Transport: "mbox"})
	scopes, err := a.Scopes()
	require.NoError(t, err)
	assert.Empty(t, scopes)

	a = newApp(t, config.Config{Transport: "mbox", Writer: "sheets"})
	scopes, err = a.Scopes()
	require.NoError(t, err)
	assert.Len(t, scopes, 1)

	a = newApp(t, config.Config{Transport: "gmail", Writer: "csv"})
	scopes, err = a.Scopes()
	require.NoError(t, err)
	assert.Len(t, scopes, 2)
}

func TestHTTPClient_NoScopes(t *testing.T) {
	a := newApp(t, config.Config{})
	c, err := a.HTTPClient(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestTransportConfig(t *testing.T) {
	a := newApp(t, config.Config{Transport: "mbox", MboxPath: "/tmp/in.mbox"})
	raw, err := a.TransportConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{"path":"/tmp/in.mbox"}`, string(raw))

	a = newApp(t, config.Config{Transport: "gmail", Gmail: config.GmailConfig{MarkRead: true, MaxMessages: 50}})
	raw, err = a.TransportConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{"markRead":true,"maxMessages":50}`, string(raw))

	a = newApp(t, config.Config{Transport: "imap"})
	_, err = a.TransportConfig()
	require.Error(t, err)
}

func TestTransport_Mbox(t *testing.T) {
	a := newApp(t, config.Config{Transport: "mbox", MboxPath: filepath.Join(t.TempDir(), "missing.mbox")})
	tr, err := a.Transport(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, tr)
}

func TestWriterConfig(t *testing.T) {
	a := newApp(t, config.Config{
		WriterConfig: []byte(`{"filePath":"a.csv","batchSize":5}`),
		Sheets:       config.SheetsConfig{Name: "Expenses", ID: "sheet-1"},
	})

	raw, err := a.WriterConfig("csv", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"filePath":"a.csv","batchSize":5}`, string(raw))

	raw, err = a.WriterConfig("csv", "b.csv")
	require.NoError(t, err)
	assert.JSONEq(t, `{"filePath":"b.csv","batchSize":5}`, string(raw))

	a.Config.WriterConfig = nil
	raw, err = a.WriterConfig("sheets", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"sheetId":"sheet-1","sheetName":"Expenses"}`, string(raw))
}

func TestWriter(t *testing.T) {
	a := newApp(t, config.Config{})

	w, err := a.Writer(context.Background(), "json", filepath.Join(t.TempDir(), "out.json"))
	require.NoError(t, err)
	assert.NotNil(t, w)

	_, err = a.Writer(context.Background(), "json", "")
	require.Error(t, err)

	_, err = a.Writer(context.Background(), "parquet", "x")
	require.Error(t, err)
}
