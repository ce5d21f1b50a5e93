// Package currency normalizes currency tokens and monetary amounts found in emails.
package currency

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// symbols maps tokens seen in notification emails to ISO 4217 codes.
// A bare "$" is ambiguous and resolves to the unknown sentinel.
var symbols = map[string]string{
	"S$":  "SGD",
	"SGD": "SGD",
	"US$": "USD",
	"USD": "USD",
	"€":   "EUR",
	"£":   "GBP",
	"$":   api.UnknownCurrency,
}

var numericPrefix = regexp.MustCompile(`^(?:\d+(?:\.\d*)?|\.\d+)`)

// Normalize resolves a currency token to an ISO code. Empty tokens yield "?"
// and unrecognized tokens pass through uppercased.
func Normalize(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return api.UnknownCurrency
	}
	upper := strings.ToUpper(token)
	if code, ok := symbols[upper]; ok {
		return code
	}
	return upper
}

// ParseAmount strips thousands separators from raw and returns the amount
// fixed to two decimal places. Only the leading numeric part of raw is used.
// It reports false for empty, non-numeric or negative input.
func ParseAmount(raw string) (string, bool) {
	d, ok := parseDecimal(raw)
	if !ok {
		return "", false
	}
	return d.StringFixed(2), true
}

// Float converts a fixed amount string into a float64. Nil or invalid amounts yield 0.
func Float(amount *string) float64 {
	if amount == nil {
		return 0
	}
	d, ok := parseDecimal(*amount)
	if !ok {
		return 0
	}
	return d.InexactFloat64()
}

func parseDecimal(raw string) (decimal.Decimal, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(raw), ",", "")
	num := numericPrefix.FindString(cleaned)
	if num == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(strings.TrimSuffix(num, "."))
	if err != nil || d.IsNegative() {
		return decimal.Decimal{}, false
	}
	return d, true
}
