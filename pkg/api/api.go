// Package api defines the core types and collaborator interfaces shared by mailspend packages.
package api

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel values used when a field cannot be resolved.
const (
	UnknownMerchant = "Unknown"
	UnknownCurrency = "?"
	Uncategorized   = "Uncategorized"
	// DefaultCurrency is assumed for manual transactions without a currency.
	DefaultCurrency = "SGD"
)

var (
	// ErrNotFound is returned by stores when the addressed record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when inserting a transaction whose email ID already exists.
	ErrDuplicate = errors.New("duplicate transaction")
	// ErrUnknownCategory is returned when a rule references a category that does not exist.
	ErrUnknownCategory = errors.New("unknown category")
)

// Template describes how to locate and parse a transaction inside a provider's emails.
type Template struct {
	GmailQuery         string `json:"gmailQuery" yaml:"gmailQuery"`
	BodyStartMarker    string `json:"bodyStartMarker,omitempty" yaml:"bodyStartMarker"`
	BodyEndMarker      string `json:"bodyEndMarker,omitempty" yaml:"bodyEndMarker"`
	MerchantRegex      string `json:"merchantRegex" yaml:"merchantRegex"`
	AmountRegex        string `json:"amountRegex" yaml:"amountRegex"`
	MerchantGroupIndex int    `json:"merchantGroupIndex" yaml:"merchantGroupIndex"`
	CurrencyGroupIndex *int   `json:"currencyGroupIndex,omitempty" yaml:"currencyGroupIndex"`
	AmountGroupIndex   int    `json:"amountGroupIndex" yaml:"amountGroupIndex"`
}

// MerchantGroup returns the merchant capture group, defaulting to 1.
func (t Template) MerchantGroup() int {
	if t.MerchantGroupIndex <= 0 {
		return 1
	}
	return t.MerchantGroupIndex
}

// AmountGroup returns the amount capture group, defaulting to 1.
func (t Template) AmountGroup() int {
	if t.AmountGroupIndex <= 0 {
		return 1
	}
	return t.AmountGroupIndex
}

// GroupIndex is a helper for building templates with an explicit currency group.
func GroupIndex(i int) *int {
	return &i
}

// ExtractionResult holds the fields pulled out of an email body by a template.
type ExtractionResult struct {
	Merchant string  `json:"merchant"`
	Currency string  `json:"currency"`
	Amount   *string `json:"amount"`
}

// MatchType controls how a rule keyword is compared against a merchant.
type MatchType string

// Supported match types.
const (
	MatchContains   MatchType = "contains"
	MatchExact      MatchType = "exact"
	MatchStartsWith MatchType = "starts_with"
)

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchContains, MatchExact, MatchStartsWith:
		return true
	}
	return false
}

// Rule maps a keyword to a category.
type Rule struct {
	ID            int64     `json:"id"`
	Keyword       string    `json:"keyword"`
	CategoryID    int64     `json:"categoryId,omitempty"`
	CategoryName  string    `json:"categoryName"`
	MatchType     MatchType `json:"matchType"`
	IsUserCreated bool      `json:"isUserCreated"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Category is a spending category.
type Category struct {
	ID    int64  `json:"id"`
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon" yaml:"icon"`
	Color string `json:"color" yaml:"color"`
}

// Provider is a configured email source with its extraction template.
type Provider struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description" yaml:"description"`
	Icon        string   `json:"icon" yaml:"icon"`
	Template    Template `json:"template" yaml:"template"`
}

// TransactionType distinguishes money in from money out.
type TransactionType string

// Transaction types.
const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// Transaction is a finalized, categorized transaction record.
type Transaction struct {
	EmailID    string          `json:"emailId"`
	ProviderID int64           `json:"providerId,omitempty"`
	Merchant   string          `json:"merchant"`
	Amount     float64         `json:"amount"`
	Currency   string          `json:"currency"`
	Date       time.Time       `json:"date"`
	Category   string          `json:"category"`
	Source     string          `json:"source"`
	Type       TransactionType `json:"type"`
	Notes      string          `json:"notes,omitempty"`
}

// NewManualTransaction returns a transaction with a synthesized unique email ID.
func NewManualTransaction(t Transaction) Transaction {
	t.EmailID = "manual-" + uuid.New().String()
	t.ProviderID = 0
	if t.Type == "" {
		t.Type = Expense
	}
	if t.Source == "" {
		t.Source = "manual"
	}
	if t.Currency == "" {
		t.Currency = DefaultCurrency
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	return t
}

// TransactionFilter narrows a transaction listing. Zero values mean no constraint.
// From is inclusive and To is exclusive.
type TransactionFilter struct {
	From       time.Time
	To         time.Time
	ProviderID int64
	Category   string
	Limit      int
}

// Matches reports whether t satisfies every constraint of the filter except Limit.
func (f TransactionFilter) Matches(t Transaction) bool {
	if !f.From.IsZero() && t.Date.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !t.Date.Before(f.To) {
		return false
	}
	if f.ProviderID != 0 && t.ProviderID != f.ProviderID {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	return true
}

// Message is a fetched email reduced to what extraction needs.
type Message struct {
	ID      string
	Subject string
	From    string
	Date    time.Time
	// Body is decoded plaintext.
	Body string
}

// MailTransport lists and fetches messages from a mailbox.
type MailTransport interface {
	ListMessageIDs(ctx context.Context, query string) ([]string, error)
	FetchMessage(ctx context.Context, id string) (*Message, error)
}

// Acknowledger is implemented by transports that can mark a message as processed.
type Acknowledger interface {
	Acknowledge(ctx context.Context, id string) error
}

// RuleStore persists categorization rules.
type RuleStore interface {
	ListRules(ctx context.Context) ([]Rule, error)
	InsertRule(ctx context.Context, rule Rule) (Rule, error)
	UpdateRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// CategoryStore persists categories. Deleting a category deletes its rules.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]Category, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	DeleteCategory(ctx context.Context, id int64) error
}

// ProviderStore persists providers and their templates.
type ProviderStore interface {
	ListProviders(ctx context.Context) ([]Provider, error)
	GetProvider(ctx context.Context, id int64) (Provider, error)
	SaveProvider(ctx context.Context, p Provider) (Provider, error)
	DeleteProvider(ctx context.Context, id int64) error
}

// TransactionStore persists transactions.
type TransactionStore interface {
	ListExistingTransactionIDs(ctx context.Context) ([]string, error)
	InsertTransaction(ctx context.Context, t Transaction) error
	ListTransactions(ctx context.Context, f TransactionFilter) ([]Transaction, error)
}

// Store is the full persistence surface.
type Store interface {
	RuleStore
	CategoryStore
	ProviderStore
	TransactionStore
	Close()
}

// Writer consumes transactions from a channel and exports them.
// Write returns when the channel is closed or the context is canceled.
type Writer interface {
	Write(ctx context.Context, in <-chan *Transaction) error
}
