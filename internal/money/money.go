// Package money parses and formats currency amounts as exact decimals.
package money

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrEmpty   = errors.New("empty amount")
	ErrInvalid = errors.New("invalid amount")
)

// reAmount accepts an optional sign, currency symbol/code, grouped or plain
// digits, and up to two decimals. Trailing minus and parentheses mark credits.
var reAmount = regexp.MustCompile(`^(\()?\s*(-)?\s*(?:[$£€]|usd|cad|aud|eur|gbp|nzd)?\s*(-)?\s*(\d{1,3}(?:,\d{3})+|\d+)(?:\.(\d{1,2}))?\s*(-)?\s*(\))?$`)

// Parse normalizes s and returns its exact decimal value.
// "$1,234.56" -> 1234.56, "(12.00)" -> -12.00, "5.00-" -> -5.00.
func Parse(s string) (decimal.Decimal, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" {
		return decimal.Zero, ErrEmpty
	}
	t = strings.ReplaceAll(t, " ", "")
	m := reAmount.FindStringSubmatch(t)
	if m == nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalid, s)
	}
	if (m[1] == "") != (m[7] == "") {
		return decimal.Zero, fmt.Errorf("%w: unbalanced parentheses in %q", ErrInvalid, s)
	}
	digits := strings.ReplaceAll(m[4], ",", "")
	if m[5] != "" {
		digits += "." + m[5]
	}
	d, err := decimal.NewFromString(digits)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if m[1] != "" || m[2] != "" || m[3] != "" || m[6] != "" {
		d = d.Neg()
	}
	return d, nil
}

// Format renders d as a dollar string with thousands separators, e.g. "$1,234.56".
func Format(d decimal.Decimal) string {
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteByte('$')
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}

// Equal reports whether a and b differ by no more than tolerance.
func Equal(a, b, tolerance decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tolerance)
}

// Sum adds amounts exactly.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
