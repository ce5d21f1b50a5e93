// Package json implements a Writer that writes transactions to a JSON file.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/writer/buffered"
)

// Writer writes transactions to a JSON file with buffered batching.
// The file always holds a single array; existing entries are kept and
// entries with an email ID already in the file are not written twice.
type Writer struct {
	filePath     string
	transactions []*api.Transaction
	seen         map[string]struct{}
	mu           sync.Mutex
	buffered     *buffered.Writer
	logger       *slog.Logger
}

// Config holds configuration for the JSON writer.
type Config struct {
	// FilePath is the path to the JSON output file.
	FilePath string `json:"filePath"`
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int `json:"batchSize"`
}

// New creates a new JSON writer.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, errors.New("json writer: file path is required")
	}

	w := &Writer{
		filePath: cfg.FilePath,
		seen:     make(map[string]struct{}),
		logger:   logger,
	}

	if err := w.loadExisting(); err != nil {
		return nil, fmt.Errorf("loading existing transactions: %w", err)
	}

	w.buffered = buffered.New(w.flushBatch, buffered.Config{BatchSize: cfg.BatchSize}, logger.With("component", "json_buffer"))

	logger.Info("json writer initialized", "file", cfg.FilePath, "existing_count", len(w.transactions))
	return w, nil
}

func (w *Writer) loadExisting() error {
	data, err := os.ReadFile(w.filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, &w.transactions); err != nil {
		return err
	}
	for _, t := range w.transactions {
		w.seen[t.EmailID] = struct{}{}
	}
	return nil
}

// Write consumes transactions from the input channel and writes them to JSON.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

// flushBatch appends a batch and rewrites the whole file.
func (w *Writer) flushBatch(_ context.Context, transactions []*api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	added := 0
	for _, t := range transactions {
		if _, ok := w.seen[t.EmailID]; ok {
			continue
		}
		w.seen[t.EmailID] = struct{}{}
		w.transactions = append(w.transactions, t)
		added++
	}
	if added == 0 {
		return nil
	}

	data, err := json.MarshalIndent(w.transactions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	if err := os.WriteFile(w.filePath, data, 0o600); err != nil {
		return fmt.Errorf("writing json file: %w", err)
	}

	w.logger.Debug("wrote transactions to json",
		"batch_count", added,
		"total_count", len(w.transactions),
	)
	return nil
}

// TransactionCount returns the total number of transactions in the file.
func (w *Writer) TransactionCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.transactions)
}

var _ api.Writer = (*Writer)(nil)
