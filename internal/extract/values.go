package extract

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/money"
)

var (
	errNotFound  = errors.New("not found")
	errEmpty     = errors.New("empty value")
	errBadDate   = errors.New("unrecognized date")
	errBadNumber = errors.New("invalid integer")
)

var (
	reISODate   = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	reUSDate    = regexp.MustCompile(`\b(\d{1,2})[-/.](\d{1,2})[-/.](\d{4}|\d{2})\b`)
	reMonthName = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)

	reAmountToken = regexp.MustCompile(`\(\s*[$£€]?\s?\d[\d,]*\.\d{2}\s*\)|-?(?:[$£€]\s?)?-?(?:\d{1,3}(?:,\d{3})+|\d+)\.\d{2}\b|[$£€]\s?\d+\b`)
	reIntToken    = regexp.MustCompile(`\d[\d,]*`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

var months = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

// findValue locates the raw text of a typed value inside s.
// Currency takes the right-most amount since labels precede their values.
func findValue(t entity.ValueType, s string) (string, bool) {
	s = strings.TrimSpace(s)
	switch t {
	case entity.TypeCurrency:
		all := reAmountToken.FindAllString(s, -1)
		if len(all) == 0 {
			return "", false
		}
		return all[len(all)-1], true
	case entity.TypeDate:
		for _, re := range []*regexp.Regexp{reISODate, reUSDate, reMonthName} {
			if m := re.FindString(s); m != "" {
				return m, true
			}
		}
		return "", false
	case entity.TypeInteger:
		m := reIntToken.FindString(s)
		return m, m != ""
	default:
		s = strings.TrimLeft(s, ":#- \t")
		return s, s != ""
	}
}

// parseValue converts raw into a typed FieldValue. Numbers stay exact.
func parseValue(t entity.ValueType, raw string) (entity.FieldValue, error) {
	raw = strings.TrimSpace(raw)
	fv := entity.FieldValue{Type: t, Raw: raw}
	if raw == "" {
		return fv, errEmpty
	}
	switch t {
	case entity.TypeCurrency:
		d, err := money.Parse(raw)
		if err != nil {
			return fv, err
		}
		fv.Amount = d
		fv.Value = d.StringFixed(2)
	case entity.TypeDate:
		d, err := ParseDate(raw)
		if err != nil {
			return fv, err
		}
		fv.Date = d
		fv.Value = d.Format(time.DateOnly)
	case entity.TypeInteger:
		n, err := strconv.ParseInt(strings.ReplaceAll(raw, ",", ""), 10, 64)
		if err != nil {
			return fv, fmt.Errorf("%w: %q", errBadNumber, raw)
		}
		fv.Int = n
		fv.Value = strconv.FormatInt(n, 10)
	default:
		fv.Type = entity.TypeText
		fv.Value = reSpaces.ReplaceAllString(raw, " ")
	}
	return fv, nil
}

// ParseDate accepts YYYY-MM-DD, US MM/DD/YYYY and MM/DD/YY, and "Jan 2, 2006".
// Two-digit years below 50 are in the 2000s.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if m := reISODate.FindStringSubmatch(s); m != nil {
		return civil(atoi(m[1]), atoi(m[2]), atoi(m[3]), s)
	}
	if m := reUSDate.FindStringSubmatch(s); m != nil {
		year := atoi(m[3])
		if len(m[3]) == 2 {
			if year < 50 {
				year += 2000
			} else {
				year += 1900
			}
		}
		return civil(year, atoi(m[1]), atoi(m[2]), s)
	}
	if m := reMonthName.FindStringSubmatch(s); m != nil {
		mon, ok := months[strings.ToLower(m[1])]
		if !ok {
			return time.Time{}, fmt.Errorf("%w: %q", errBadDate, s)
		}
		return civil(atoi(m[3]), int(mon), atoi(m[2]), s)
	}
	return time.Time{}, fmt.Errorf("%w: %q", errBadDate, s)
}

// civil rejects dates that time.Date would silently roll over, e.g. 02/30.
func civil(y, m, d int, src string) (time.Time, error) {
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if m < 1 || m > 12 || t.Day() != d || int(t.Month()) != m {
		return time.Time{}, fmt.Errorf("%w: %q", errBadDate, src)
	}
	return t, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
