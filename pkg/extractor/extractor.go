// Package extractor applies provider templates to email bodies.
package extractor

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/currency"
	"github.com/ArionMiles/mailspend/pkg/template"
	"github.com/ArionMiles/mailspend/pkg/textnorm"
)

// Extractor pulls merchant, currency and amount out of email bodies.
// It is safe for concurrent use.
type Extractor struct {
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]compiled
}

type compiled struct {
	re  *regexp.Regexp
	err error
}

// New creates a new extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		logger: logger,
		cache:  make(map[string]compiled),
	}
}

// Extract applies tpl to body. It never fails: fields that cannot be resolved
// fall back to "Unknown", "?" and a nil amount.
func (e *Extractor) Extract(body string, tpl api.Template) api.ExtractionResult {
	text := Slice(textnorm.Normalize(body), tpl.BodyStartMarker, tpl.BodyEndMarker)

	result := api.ExtractionResult{
		Merchant: api.UnknownMerchant,
		Currency: api.UnknownCurrency,
	}

	if merchant := strings.TrimSpace(e.group(text, tpl.MerchantRegex, tpl.MerchantGroup())); merchant != "" {
		result.Merchant = merchant
	}

	if tpl.CurrencyGroupIndex != nil {
		result.Currency = currency.Normalize(e.group(text, tpl.AmountRegex, *tpl.CurrencyGroupIndex))
	}

	if raw := e.group(text, tpl.AmountRegex, tpl.AmountGroup()); raw != "" {
		if amount, ok := currency.ParseAmount(raw); ok {
			result.Amount = &amount
		} else {
			e.logger.Debug("discarding unparseable amount", "raw", raw)
		}
	}

	return result
}

// Slice narrows body to the region between the start and end markers. The
// end marker is searched after the start marker. When either marker is empty
// or missing the whole body is returned.
func Slice(body, start, end string) string {
	if start == "" || end == "" {
		return body
	}
	i := strings.Index(body, start)
	if i < 0 {
		return body
	}
	j := strings.Index(body[i+len(start):], end)
	if j < 0 {
		return body
	}
	return body[i : i+len(start)+j]
}

// group returns the given capture group of the first match of pattern in
// text, or "" when the pattern is empty, invalid or does not match.
func (e *Extractor) group(text, pattern string, index int) string {
	if pattern == "" {
		return ""
	}
	re := e.compile(pattern)
	if re == nil {
		return ""
	}
	m := re.FindStringSubmatch(text)
	if m == nil || index < 0 || index >= len(m) {
		return ""
	}
	return m[index]
}

func (e *Extractor) compile(pattern string) *regexp.Regexp {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.cache[pattern]
	if !ok {
		re, err := template.Compile(pattern)
		c = compiled{re: re, err: err}
		e.cache[pattern] = c
		if err != nil {
			e.logger.Warn("template regex does not compile, treating as no match",
				"pattern", pattern,
				"error", err,
			)
		}
	}
	return c.re
}
