// Package csv implements a Writer that appends transactions to a CSV file.
package csv

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/writer/buffered"
)

// Row is the CSV representation of a transaction.
type Row struct {
	Date     string `csv:"Date"`
	Merchant string `csv:"Merchant"`
	Amount   string `csv:"Amount"`
	Currency string `csv:"Currency"`
	Category string `csv:"Category"`
	Type     string `csv:"Type"`
	Source   string `csv:"Source"`
	EmailID  string `csv:"Email ID"`
	Notes    string `csv:"Notes"`
}

// NewRow converts a transaction to a CSV row.
func NewRow(t *api.Transaction) Row {
	return Row{
		Date:     t.Date.Format(time.RFC3339),
		Merchant: t.Merchant,
		Amount:   decimal.NewFromFloat(t.Amount).StringFixed(2),
		Currency: t.Currency,
		Category: t.Category,
		Type:     string(t.Type),
		Source:   t.Source,
		EmailID:  t.EmailID,
		Notes:    t.Notes,
	}
}

// Config holds configuration for the CSV writer.
type Config struct {
	// FilePath is the path to the CSV output file.
	FilePath string `json:"filePath"`
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int `json:"batchSize"`
}

// Writer writes transactions to a CSV file with buffered batching.
type Writer struct {
	filePath    string
	file        *os.File
	needsHeader bool
	mu          sync.Mutex
	buffered    *buffered.Writer
	logger      *slog.Logger
}

// New opens (or creates) the CSV file for appending.
func New(cfg Config, logger *slog.Logger) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("csv writer: file path is required")
	}

	file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening csv file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		if closeErr := file.Close(); closeErr != nil {
			return nil, fmt.Errorf("stat csv file: %w (close error: %w)", err, closeErr)
		}
		return nil, fmt.Errorf("stat csv file: %w", err)
	}

	w := &Writer{
		filePath:    cfg.FilePath,
		file:        file,
		needsHeader: stat.Size() == 0,
		logger:      logger,
	}
	w.buffered = buffered.New(w.flushBatch, buffered.Config{BatchSize: cfg.BatchSize}, logger.With("component", "csv_buffer"))

	logger.Info("csv writer initialized", "file", cfg.FilePath)
	return w, nil
}

// Write consumes transactions from the input channel and writes them to CSV.
// The file is closed when Write returns.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	err := w.buffered.Write(ctx, in)
	if closeErr := w.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (w *Writer) flushBatch(_ context.Context, transactions []*api.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	rows := make([]Row, 0, len(transactions))
	for _, t := range transactions {
		rows = append(rows, NewRow(t))
	}

	var err error
	if w.needsHeader {
		err = gocsv.Marshal(&rows, w.file)
	} else {
		err = gocsv.MarshalWithoutHeaders(&rows, w.file)
	}
	if err != nil {
		return fmt.Errorf("writing csv records: %w", err)
	}
	w.needsHeader = false

	w.logger.Debug("wrote transactions to csv", "count", len(transactions))
	return nil
}

// Close closes the CSV file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("closing csv file: %w", err)
	}
	w.file = nil

	w.logger.Info("csv writer closed", "file", w.filePath)
	return nil
}

var _ api.Writer = (*Writer)(nil)
