package orchestrator

import (
	"errors"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// Status is the outcome of processing one message.
type Status string

// Message outcomes.
const (
	StatusSynced  Status = "synced"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// ItemResult records what happened to one listed message.
type ItemResult struct {
	ID         string
	ProviderID int64
	Status     Status
	Error      error
}

// Result summarizes a sync.
type Result struct {
	// Transactions holds every transaction stored by this sync.
	Transactions []api.Transaction
	// Items holds one entry per listed message, in completion order.
	Items []ItemResult

	errs []error
}

// Synced returns the number of stored transactions.
func (r *Result) Synced() int { return r.count(StatusSynced) }

// Skipped returns the number of messages that were already stored.
func (r *Result) Skipped() int { return r.count(StatusSkipped) }

// Failed returns the number of messages that could not be processed.
func (r *Result) Failed() int { return r.count(StatusFailed) }

func (r *Result) count(s Status) int {
	n := 0
	for _, it := range r.Items {
		if it.Status == s {
			n++
		}
	}
	return n
}

// Err joins every provider and message error, or returns nil.
func (r *Result) Err() error {
	errs := append([]error(nil), r.errs...)
	for _, it := range r.Items {
		if it.Error != nil {
			errs = append(errs, it.Error)
		}
	}
	return errors.Join(errs...)
}
