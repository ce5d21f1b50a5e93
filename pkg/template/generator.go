package template

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ArionMiles/mailspend/pkg/api"
	"github.com/ArionMiles/mailspend/pkg/currency"
	"github.com/ArionMiles/mailspend/pkg/textnorm"
)

// Hints attached to an AutoConfig when a field could not be inferred.
const (
	HintMerchantFallback = "No merchant keyword found; the first line is used as the merchant. Ensure the merchant name is the first line or labelled with To/Merchant/Paid to."
	HintAmountMissing    = "No amount found. Include the line showing the total amount, e.g. \"Amount: SGD 10.00\"."
	HintBlockNotFound    = "The sample block was not found in the full email body; the whole body will be scanned."
)

const (
	currencyToken = `(US\$|S\$|[A-Z]{3}|\$|€|£)?`
	amountValue   = `([\d,]+(?:\.\d{1,2})?)`
	merchantValue = `([^\n:]+)`
	fallbackRegex = `^(.+)$`
	amountSuffix  = currencyToken + `\s*` + amountValue
)

var (
	merchantAnchor = regexp.MustCompile(`\b(?i:(merchant|paid\s+to|payment\s+to|purchase\s+on|to))([:\s]+)` + merchantValue)
	amountAnchor   = regexp.MustCompile(`\b(?i:(amount|total|sum|sent|paid))([:\s]*)` + amountSuffix)
	whitespace     = regexp.MustCompile(`\s+`)
)

// AutoConfig is the result of inferring a template from a sample block.
type AutoConfig struct {
	Merchant string       `json:"merchant"`
	Currency string       `json:"currency"`
	Amount   string       `json:"amount"`
	Template api.Template `json:"template"`
	Hints    []string     `json:"hints,omitempty"`
}

// Candidate is one anchor match found in a sample block.
type Candidate struct {
	Field    string `json:"field"`
	Anchor   string `json:"anchor"`
	Value    string `json:"value"`
	Currency string `json:"currency,omitempty"`
	Regex    string `json:"regex"`
}

// GenerateAutoConfigs infers merchant, amount and currency regexes from a
// sample transaction block. The leftmost anchor match wins for each field.
func GenerateAutoConfigs(block string) AutoConfig {
	block = textnorm.Normalize(block)
	if block == "" {
		return AutoConfig{}
	}

	var cfg AutoConfig

	if m := merchantAnchor.FindStringSubmatch(block); m != nil && strings.TrimSpace(m[3]) != "" {
		cfg.Merchant = strings.TrimSpace(m[3])
		cfg.Template.MerchantRegex = anchorPattern(m[1]+m[2]) + merchantValue
	} else {
		cfg.Merchant = textnorm.Lines(block)[0]
		cfg.Template.MerchantRegex = fallbackRegex
		cfg.Hints = append(cfg.Hints, HintMerchantFallback)
	}
	cfg.Template.MerchantGroupIndex = 1

	if m := amountAnchor.FindStringSubmatch(block); m != nil {
		if amount, ok := currency.ParseAmount(m[4]); ok {
			cfg.Amount = amount
			cfg.Currency = currency.Normalize(m[3])
			cfg.Template.AmountRegex = anchorPattern(m[1]+m[2]) + amountSuffix
			cfg.Template.CurrencyGroupIndex = api.GroupIndex(1)
			cfg.Template.AmountGroupIndex = 2
		}
	}
	if cfg.Template.AmountRegex == "" {
		cfg.Hints = append(cfg.Hints, HintAmountMissing)
	}

	return cfg
}

// Candidates lists every merchant and amount anchor in the block, in order of
// appearance, so a caller can choose one other than the leftmost.
func Candidates(block string) []Candidate {
	block = textnorm.Normalize(block)

	var out []Candidate
	for _, m := range merchantAnchor.FindAllStringSubmatch(block, -1) {
		if v := strings.TrimSpace(m[3]); v != "" {
			out = append(out, Candidate{
				Field:  "merchant",
				Anchor: m[1] + m[2],
				Value:  v,
				Regex:  anchorPattern(m[1]+m[2]) + merchantValue,
			})
		}
	}
	for _, m := range amountAnchor.FindAllStringSubmatch(block, -1) {
		amount, ok := currency.ParseAmount(m[4])
		if !ok {
			continue
		}
		out = append(out, Candidate{
			Field:    "amount",
			Anchor:   m[1] + m[2],
			Value:    amount,
			Currency: currency.Normalize(m[3]),
			Regex:    anchorPattern(m[1]+m[2]) + amountSuffix,
		})
	}
	return out
}

// GenerateTemplate infers a complete template from a sample block. When the
// full email body is given, slicing markers are derived from the lines around
// the block. A block that cannot be located only adds a hint.
func GenerateTemplate(block, fullBody, query string) (AutoConfig, error) {
	cfg := GenerateAutoConfigs(block)
	cfg.Template.GmailQuery = strings.TrimSpace(query)

	if strings.TrimSpace(fullBody) == "" {
		return cfg, nil
	}

	markers, err := GenerateSlicingMarkers(fullBody, block)
	switch {
	case errors.Is(err, ErrBlockNotFound):
		cfg.Hints = append(cfg.Hints, HintBlockNotFound)
	case err != nil:
		return cfg, err
	default:
		cfg.Template.BodyStartMarker = markers.Start
		cfg.Template.BodyEndMarker = markers.End
	}
	return cfg, nil
}

// anchorPattern escapes literal anchor text and generalizes its whitespace.
func anchorPattern(anchor string) string {
	return whitespace.ReplaceAllLiteralString(regexp.QuoteMeta(anchor), `\s+`)
}
