package ledger

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// RoundingMode selects how computed amounts are brought to currency precision.
type RoundingMode string

const (
	RoundHalfUp  RoundingMode = "half_up"
	RoundBankers RoundingMode = "bankers"
)

// NormalizeCurrency upper-cases code and checks it is a known ISO 4217 unit.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit.String(), nil
}

// Scale returns the number of minor-unit digits for the currency (2 for PLN).
func Scale(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// RoundAmount rounds v to the currency precision using mode.
func RoundAmount(v decimal.Decimal, code string, mode RoundingMode) decimal.Decimal {
	scale := Scale(code)
	if mode == RoundBankers {
		return v.RoundBank(scale)
	}
	return v.Round(scale)
}

// CurrencyRules holds the per-currency amount window. A currency is supported
// when it has a maximum configured.
type CurrencyRules struct {
	Min map[string]decimal.Decimal
	Max map[string]decimal.Decimal
}

// DefaultCurrencyRules returns a conservative PLN/EUR/USD window.
func DefaultCurrencyRules() CurrencyRules {
	return CurrencyRules{
		Min: map[string]decimal.Decimal{
			"PLN": decimal.RequireFromString("0.01"),
			"EUR": decimal.RequireFromString("0.01"),
			"USD": decimal.RequireFromString("0.01"),
		},
		Max: map[string]decimal.Decimal{
			"PLN": decimal.RequireFromString("1000000"),
			"EUR": decimal.RequireFromString("250000"),
			"USD": decimal.RequireFromString("250000"),
		},
	}
}

// ParseCurrencyRules builds rules from "CUR -> amount" string maps as loaded by envconfig.
func ParseCurrencyRules(minimums, maximums map[string]string) (CurrencyRules, error) {
	rules := CurrencyRules{Min: map[string]decimal.Decimal{}, Max: map[string]decimal.Decimal{}}
	for code, raw := range maximums {
		cur, err := NormalizeCurrency(code)
		if err != nil {
			return CurrencyRules{}, err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || !v.IsPositive() {
			return CurrencyRules{}, fmt.Errorf("ledger: invalid maximum %q for %s", raw, cur)
		}
		rules.Max[cur] = v
	}
	for code, raw := range minimums {
		cur, err := NormalizeCurrency(code)
		if err != nil {
			return CurrencyRules{}, err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(raw))
		if err != nil || v.IsNegative() {
			return CurrencyRules{}, fmt.Errorf("ledger: invalid minimum %q for %s", raw, cur)
		}
		if max, ok := rules.Max[cur]; ok && v.GreaterThan(max) {
			return CurrencyRules{}, fmt.Errorf("ledger: minimum above maximum for %s", cur)
		}
		rules.Min[cur] = v
	}
	if len(rules.Max) == 0 {
		return DefaultCurrencyRules(), nil
	}
	return rules, nil
}

// Supports reports whether the currency may be used for accounts.
func (r CurrencyRules) Supports(code string) bool {
	_, ok := r.Max[code]
	return ok
}

// ValidateCurrency normalises code and checks support.
func (r CurrencyRules) ValidateCurrency(code string) (string, error) {
	cur, err := NormalizeCurrency(code)
	if err != nil {
		return "", err
	}
	if !r.Supports(cur) {
		return "", fmt.Errorf("%w: %s not supported", ErrInvalidCurrency, cur)
	}
	return cur, nil
}

// ValidateAmount checks sign, precision and the configured window.
func (r CurrencyRules) ValidateAmount(amount decimal.Decimal, code string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(Scale(code))) {
		return fmt.Errorf("%w: more than %d decimal places for %s", ErrInvalidAmount, Scale(code), code)
	}
	if min, ok := r.Min[code]; ok && amount.LessThan(min) {
		return fmt.Errorf("%w: below minimum %s %s", ErrInvalidAmount, min.String(), code)
	}
	if max, ok := r.Max[code]; ok && amount.GreaterThan(max) {
		return fmt.Errorf("%w: above maximum %s %s", ErrInvalidAmount, max.String(), code)
	}
	return nil
}

// validatePrecision checks sign and precision only; used for limits and
// administrative values which are not bound by the per-request window.
func validatePrecision(amount decimal.Decimal, code string, allowZero bool) error {
	if amount.IsNegative() || (!allowZero && amount.IsZero()) {
		return fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(Scale(code))) {
		return fmt.Errorf("%w: more than %d decimal places for %s", ErrInvalidAmount, Scale(code), code)
	}
	return nil
}
