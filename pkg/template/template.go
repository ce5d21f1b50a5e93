// Package template validates provider extraction templates and infers new
// ones from a sample transaction block.
package template

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ArionMiles/mailspend/pkg/api"
)

// ErrInvalidTemplate is matched by every validation failure.
var ErrInvalidTemplate = errors.New("invalid template")

// ValidationError describes the template field that failed validation.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid template field %s: %v", e.Field, e.Err)
}

// Unwrap exposes both ErrInvalidTemplate and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidTemplate, e.Err}
}

// Compile compiles a template pattern with the flags extraction runs under:
// case-insensitive and multiline.
func Compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?im)" + pattern)
}

// Validate compile-checks the template regexes and verifies that every
// declared group index exists in its pattern.
func Validate(t api.Template) error {
	merchant, err := compileField("merchantRegex", t.MerchantRegex)
	if err != nil {
		return err
	}
	amount, err := compileField("amountRegex", t.AmountRegex)
	if err != nil {
		return err
	}

	if err := checkGroup("merchantGroupIndex", merchant, t.MerchantGroup()); err != nil {
		return err
	}
	if err := checkGroup("amountGroupIndex", amount, t.AmountGroup()); err != nil {
		return err
	}
	if t.CurrencyGroupIndex != nil {
		if err := checkGroup("currencyGroupIndex", amount, *t.CurrencyGroupIndex); err != nil {
			return err
		}
	}
	return nil
}

func compileField(field, pattern string) (*regexp.Regexp, error) {
	if strings.TrimSpace(pattern) == "" {
		return nil, &ValidationError{Field: field, Err: errors.New("pattern is required")}
	}
	re, err := Compile(pattern)
	if err != nil {
		return nil, &ValidationError{Field: field, Err: err}
	}
	return re, nil
}

func checkGroup(field string, re *regexp.Regexp, index int) error {
	if index < 0 || index > re.NumSubexp() {
		return &ValidationError{
			Field: field,
			Err:   fmt.Errorf("group %d out of range, pattern has %d groups", index, re.NumSubexp()),
		}
	}
	return nil
}

// BuildQuery builds a Gmail search query from a subject and a sender address.
// Either part may be empty.
func BuildQuery(subject, address string) string {
	var parts []string
	if s := strings.TrimSpace(subject); s != "" {
		parts = append(parts, "subject:("+s+")")
	}
	if a := strings.TrimSpace(address); a != "" {
		parts = append(parts, `"`+a+`"`)
	}
	return strings.Join(parts, " ")
}
