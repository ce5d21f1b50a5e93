// Package mbox implements a MailTransport over a local mbox file, for offline
// imports and fixture-driven runs.
package mbox

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/emersion/go-mbox"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/mailbody"
)

// Config holds configuration for the mbox transport.
type Config struct {
	// Path to the mbox file.
	Path string
}

// Transport serves messages from an mbox file. The file is re-read on every
// ListMessageIDs call so appended messages are picked up.
type Transport struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	messages map[string]*mailbody.Message
	order    []string
}

// New creates an mbox transport. The file is not opened until the first list.
func New(cfg Config, logger *slog.Logger) (*Transport, error) {
	if cfg.Path == "" {
		return nil, errors.New("mbox path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		path:   cfg.Path,
		logger: logger.With("transport", "mbox", "path", cfg.Path),
	}, nil
}

// ListMessageIDs returns the ids of messages matching a Gmail-style query.
// Supported terms are subject:(words), from:addr, "phrase" and bare words.
func (t *Transport) ListMessageIDs(ctx context.Context, query string) ([]string, error) {
	if err := t.load(ctx); err != nil {
		return nil, err
	}

	q := parseQuery(query)

	t.mu.RLock()
	defer t.mu.RUnlock()

	var ids []string
	for _, id := range t.order {
		if q.matches(t.messages[id]) {
			ids = append(ids, id)
		}
	}
	t.logger.Debug("listed messages", "query", query, "count", len(ids))
	return ids, nil
}

// FetchMessage returns a previously listed message.
func (t *Transport) FetchMessage(_ context.Context, id string) (*api.Message, error) {
	t.mu.RLock()
	msg, ok := t.messages[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, api.ErrNotFound)
	}

	return &api.Message{
		ID:      id,
		Subject: msg.Subject,
		From:    msg.From,
		Date:    msg.Date,
		Body:    msg.Body,
	}, nil
}

func (t *Transport) load(ctx context.Context) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("opening mbox: %w", err)
	}
	defer f.Close()

	messages := make(map[string]*mailbody.Message)
	var order []string

	r := mbox.NewReader(f)
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		mr, err := r.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading mbox message %d: %w", i, err)
		}

		raw, err := io.ReadAll(mr)
		if err != nil {
			return fmt.Errorf("reading mbox message %d: %w", i, err)
		}

		msg, err := mailbody.Parse(bytes.NewReader(raw))
		if err != nil {
			t.logger.Warn("skipping unparseable message", "index", i, "error", err)
			continue
		}

		id := msg.MessageID
		if id == "" {
			sum := sha256.Sum256(raw)
			id = hex.EncodeToString(sum[:12])
		}
		if _, dup := messages[id]; dup {
			continue
		}
		messages[id] = msg
		order = append(order, id)
	}

	t.mu.Lock()
	t.messages = messages
	t.order = order
	t.mu.Unlock()

	t.logger.Debug("loaded mbox", "count", len(order))
	return nil
}

var _ api.MailTransport = (*Transport)(nil)
