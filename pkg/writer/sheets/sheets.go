// Package sheets implements a Writer that writes transactions to Google Sheets.
package sheets

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/client"
	"github.com/ArionMiles/mailspend/pkg/writer/buffered"
)

// Default configuration values.
const (
	DefaultSheetName     = "Sheet1"
	DefaultSheetTitle    = "mailspend"
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 60 * time.Second
)

var header = []any{"Date", "Merchant", "Amount", "Currency", "Category", "Type", "Source"}

// Writer writes transactions to a Google Sheet with buffered batching.
type Writer struct {
	client      *sheets.Service
	spreadsheet *sheets.Spreadsheet
	cfg         Config
	logger      *slog.Logger
	buffered    *buffered.Writer
}

// Config holds configuration for the Sheets writer.
type Config struct {
	// SheetTitle is the title for a new spreadsheet (if SheetID is empty).
	SheetTitle string `json:"sheetTitle"`
	// SheetID is the ID of an existing spreadsheet to use.
	SheetID string `json:"sheetId"`
	// SheetName is the name of the sheet within the spreadsheet.
	SheetName string `json:"sheetName"`
	// BatchSize is the number of transactions to buffer before writing.
	BatchSize int `json:"batchSize"`
	// FlushInterval is the interval between automatic flushes.
	FlushInterval time.Duration `json:"flushInterval"`
	// RetryAttempts and RetryDelay control retries of rate-limited appends.
	RetryAttempts uint          `json:"retryAttempts"`
	RetryDelay    time.Duration `json:"retryDelay"`
}

// New creates a Sheets writer, opening the configured spreadsheet or creating
// a new one. Extra client options are applied after the HTTP client.
func New(ctx context.Context, httpClient *http.Client, cfg Config, logger *slog.Logger, opts ...option.ClientOption) (*Writer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SheetName == "" {
		cfg.SheetName = DefaultSheetName
	}
	if cfg.SheetTitle == "" {
		cfg.SheetTitle = DefaultSheetTitle
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	w := &Writer{
		client: svc,
		cfg:    cfg,
		logger: logger,
	}

	spreadsheet, err := w.initSpreadsheet(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing spreadsheet: %w", err)
	}
	w.spreadsheet = spreadsheet

	w.buffered = buffered.New(
		w.flushBatch,
		buffered.Config{
			BatchSize:     cfg.BatchSize,
			FlushInterval: cfg.FlushInterval,
		},
		logger.With("component", "sheets_buffer"),
	)

	logger.Info("sheets writer initialized", "spreadsheet_id", spreadsheet.SpreadsheetId)
	return w, nil
}

func (w *Writer) initSpreadsheet(ctx context.Context) (*sheets.Spreadsheet, error) {
	if w.cfg.SheetID != "" {
		spreadsheet, err := w.client.Spreadsheets.Get(w.cfg.SheetID).Context(ctx).Do()
		if err == nil {
			w.logger.Info("using existing spreadsheet", "title", spreadsheet.Properties.Title, "id", w.cfg.SheetID)
			return spreadsheet, nil
		}
		w.logger.Warn("failed to get spreadsheet, will create new one", "id", w.cfg.SheetID, "error", err)
	}

	spreadsheet, err := w.client.Spreadsheets.Create(&sheets.Spreadsheet{
		Properties: &sheets.SpreadsheetProperties{
			Title: w.cfg.SheetTitle,
		},
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("creating spreadsheet: %w", err)
	}

	w.logger.Info("created new spreadsheet", "title", w.cfg.SheetTitle, "id", spreadsheet.SpreadsheetId)

	if err := w.writeHeaders(ctx, spreadsheet.SpreadsheetId); err != nil {
		return nil, fmt.Errorf("writing headers: %w", err)
	}
	return spreadsheet, nil
}

func (w *Writer) writeHeaders(ctx context.Context, spreadsheetID string) error {
	headerRange := fmt.Sprintf("%s!A1:G1", w.cfg.SheetName)
	_, err := w.client.Spreadsheets.Values.Update(spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]any{header},
	}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("updating headers: %w", err)
	}
	return nil
}

// Write consumes transactions from the input channel and writes them to Google Sheets.
func (w *Writer) Write(ctx context.Context, in <-chan *api.Transaction) error {
	return w.buffered.Write(ctx, in)
}

// Row converts a transaction to spreadsheet cell values.
func Row(t *api.Transaction) []any {
	return []any{
		t.Date.Format(time.DateOnly),
		t.Merchant,
		decimal.NewFromFloat(t.Amount).StringFixed(2),
		t.Currency,
		t.Category,
		string(t.Type),
		t.Source,
	}
}

// flushBatch appends a batch of transactions in a single API call.
func (w *Writer) flushBatch(ctx context.Context, transactions []*api.Transaction) error {
	if len(transactions) == 0 {
		return nil
	}

	values := make([][]any, 0, len(transactions))
	for _, t := range transactions {
		values = append(values, Row(t))
	}

	writeRange := fmt.Sprintf("%s!A2:G2", w.cfg.SheetName)
	writeReq := sheets.ValueRange{Values: values}

	err := retry.Do(
		func() error {
			_, err := w.client.Spreadsheets.Values.Append(w.spreadsheet.SpreadsheetId, writeRange, &writeReq).
				ValueInputOption("USER_ENTERED").
				InsertDataOption("INSERT_ROWS").
				Context(ctx).
				Do()
			return err
		},
		retry.Context(ctx),
		retry.RetryIf(func(err error) bool {
			if client.Retryable(err) {
				w.logger.Warn("sheets append failed, will retry", "error", err)
				return true
			}
			return false
		}),
		retry.Attempts(w.cfg.RetryAttempts),
		retry.Delay(w.cfg.RetryDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return fmt.Errorf("appending batch to sheet: %w", err)
	}

	w.logger.Info("wrote transaction batch", "count", len(transactions))
	return nil
}

// SpreadsheetID returns the ID of the spreadsheet being written to.
func (w *Writer) SpreadsheetID() string {
	if w.spreadsheet == nil {
		return ""
	}
	return w.spreadsheet.SpreadsheetId
}

// BufferLen returns the current number of buffered transactions.
func (w *Writer) BufferLen() int {
	if w.buffered == nil {
		return 0
	}
	return w.buffered.BufferLen()
}

var _ api.Writer = (*Writer)(nil)
