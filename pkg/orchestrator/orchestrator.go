// Package orchestrator runs a sync: for every configured provider it lists
// matching messages, extracts and categorizes new ones and persists the
// resulting transactions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/categorizer"
	"github.com/ArionMiles/mailspend/pkg/currency"
	"github.com/ArionMiles/mailspend/pkg/extractor"
)

// Default configuration values.
const (
	DefaultConcurrency  = 1
	DefaultFetchTimeout = 30 * time.Second
)

// Config tunes a sync.
type Config struct {
	// Concurrency bounds parallel message fetches within one provider.
	// Defaults to DefaultConcurrency, which processes messages serially.
	Concurrency int
	// FetchTimeout bounds each FetchMessage call.
	FetchTimeout time.Duration
}

// Store is the persistence a sync needs.
type Store interface {
	api.ProviderStore
	api.TransactionStore
}

// Orchestrator wires a transport, a store and a categorizer into a sync.
type Orchestrator struct {
	transport api.MailTransport
	store     Store
	engine    *categorizer.Engine
	extractor *extractor.Extractor
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an orchestrator.
func New(transport api.MailTransport, store Store, engine *categorizer.Engine, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}

	return &Orchestrator{
		transport: transport,
		store:     store,
		engine:    engine,
		extractor: extractor.New(logger.With("component", "extractor")),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Sync processes every provider once. Providers run sequentially.
//
// The returned error is non-nil only when the sync could not start or the
// context was canceled. Per-provider and per-message failures are reported
// through the Result.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	c := &collector{
		res:  &Result{},
		seen: make(map[string]struct{}),
	}

	if err := o.engine.Init(ctx); err != nil {
		o.logger.Error("categorizer unavailable, transactions will be uncategorized", "error", err)
		c.addErr(fmt.Errorf("initializing categorizer: %w", err))
	}

	providers, err := o.store.ListProviders(ctx)
	if err != nil {
		return c.res, fmt.Errorf("listing providers: %w", err)
	}
	existing, err := o.store.ListExistingTransactionIDs(ctx)
	if err != nil {
		return c.res, fmt.Errorf("listing existing transactions: %w", err)
	}
	for _, id := range existing {
		c.seen[id] = struct{}{}
	}

	o.logger.Info("starting sync", "providers", len(providers), "known_transactions", len(existing))

	for _, p := range providers {
		if ctx.Err() != nil {
			break
		}
		o.syncProvider(ctx, p, c)
	}

	o.logger.Info("sync complete",
		"synced", c.res.Synced(),
		"skipped", c.res.Skipped(),
		"failed", c.res.Failed(),
	)
	return c.res, ctx.Err()
}

func (o *Orchestrator) syncProvider(ctx context.Context, p api.Provider, c *collector) {
	logger := o.logger.With("provider", p.Name)

	ids, err := o.transport.ListMessageIDs(ctx, p.Template.GmailQuery)
	if err != nil {
		logger.Error("failed to list messages", "error", err)
		c.addErr(fmt.Errorf("listing messages for provider %q: %w", p.Name, err))
		return
	}
	logger.Info("found messages", "count", len(ids))

	sem := make(chan struct{}, o.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if !c.claim(id) {
			c.add(ItemResult{ID: id, ProviderID: p.ID, Status: StatusSkipped}, nil)
			continue
		}

		select {
		case <-ctx.Done():
			continue
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			defer func() { <-sem }()

			item, tx := o.process(ctx, p, id, logger.With("message_id", id))
			c.add(item, tx)
		}(id)
	}
	wg.Wait()
}

// process handles one message. It never panics.
func (o *Orchestrator) process(ctx context.Context, p api.Provider, id string, logger *slog.Logger) (item ItemResult, tx *api.Transaction) {
	item = ItemResult{ID: id, ProviderID: p.ID}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while processing message", "panic", r)
			item.Status = StatusFailed
			item.Error = fmt.Errorf("message %s: panic: %v", id, r)
			tx = nil
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	msg, err := o.transport.FetchMessage(fetchCtx, id)
	cancel()
	if err != nil {
		logger.Error("failed to fetch message", "error", err)
		item.Status = StatusFailed
		item.Error = fmt.Errorf("fetching message %s: %w", id, err)
		return item, nil
	}

	t := o.buildTransaction(p, id, msg)

	// In-flight messages complete even if the sync is canceled.
	persistCtx := context.WithoutCancel(ctx)
	if err := o.store.InsertTransaction(persistCtx, t); err != nil {
		if errors.Is(err, api.ErrDuplicate) {
			logger.Debug("transaction already stored")
			item.Status = StatusSkipped
			return item, nil
		}
		logger.Error("failed to store transaction", "error", err)
		item.Status = StatusFailed
		item.Error = fmt.Errorf("storing transaction %s: %w", id, err)
		return item, nil
	}

	if ack, ok := o.transport.(api.Acknowledger); ok {
		if err := ack.Acknowledge(persistCtx, id); err != nil {
			logger.Warn("failed to acknowledge message", "error", err)
		}
	}

	logger.Debug("synced transaction",
		"merchant", t.Merchant,
		"amount", t.Amount,
		"currency", t.Currency,
		"category", t.Category,
	)
	item.Status = StatusSynced
	return item, &t
}

func (o *Orchestrator) buildTransaction(p api.Provider, id string, msg *api.Message) api.Transaction {
	extracted := o.extractor.Extract(msg.Body, p.Template)

	date := msg.Date
	if date.IsZero() {
		date = o.now()
	}

	return api.Transaction{
		EmailID:    id,
		ProviderID: p.ID,
		Merchant:   extracted.Merchant,
		Amount:     currency.Float(extracted.Amount),
		Currency:   extracted.Currency,
		Date:       date.UTC(),
		Category:   o.engine.Categorize(extracted.Merchant),
		Source:     p.Name,
		Type:       api.Expense,
	}
}

// collector accumulates results from concurrent workers.
type collector struct {
	mu   sync.Mutex
	res  *Result
	seen map[string]struct{}
}

// claim reports whether id is new to this sync and marks it seen.
func (c *collector) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	return true
}

func (c *collector) add(item ItemResult, tx *api.Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.res.Items = append(c.res.Items, item)
	if tx != nil {
		c.res.Transactions = append(c.res.Transactions, *tx)
	}
}

func (c *collector) addErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.res.errs = append(c.res.errs, err)
}
