package extract

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
	"github.com/joseph-ayodele/receipts-intake/internal/money"
	"github.com/joseph-ayodele/receipts-intake/internal/ocr"
)

const labelSeparators = ":#-=. \t"

var reWord = regexp.MustCompile(`\S+`)

func (x *Extractor) anchored(r entity.Rule, in input) (entity.FieldValue, error) {
	spec := r.Anchor
	var pattern *regexp.Regexp
	if spec.Pattern != "" {
		re, err := x.compile(spec.Pattern)
		if err != nil {
			return entity.FieldValue{}, err
		}
		pattern = re
	}

	var (
		hits    []entity.FieldValue
		lastErr error
	)
	for i, line := range in.lines {
		if x.matchesAny(line, spec.Exclude) {
			continue
		}
		rest := line
		if len(spec.Labels) > 0 {
			end, ok := x.findLabel(line, spec.Labels, spec.MaxEdits)
			if !ok {
				continue
			}
			rest = line[end:]
		}
		if spec.NextLine || (len(spec.Labels) > 0 && strings.Trim(rest, labelSeparators) == "") {
			if i+1 >= len(in.lines) {
				lastErr = fmt.Errorf("label on last line, no value follows")
				continue
			}
			rest = in.lines[i+1]
		}

		raw, err := pick(pattern, valueType(r), rest)
		if err != nil {
			lastErr = err
			continue
		}
		fv, err := parseValue(valueType(r), raw)
		if err != nil {
			lastErr = err
			continue
		}
		fv.Source = in.source
		hits = append(hits, fv)
		if spec.Occurrence != "last" {
			break
		}
	}
	if len(hits) == 0 {
		if lastErr != nil {
			return entity.FieldValue{}, lastErr
		}
		return entity.FieldValue{}, errNotFound
	}
	return hits[len(hits)-1], nil
}

// pick returns the raw value in s, preferring a named "value" group, then the
// first group, then the whole match.
func pick(pattern *regexp.Regexp, t entity.ValueType, s string) (string, error) {
	if pattern == nil {
		raw, ok := findValue(t, s)
		if !ok {
			return "", fmt.Errorf("no %s value in %q", t, s)
		}
		return raw, nil
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return "", fmt.Errorf("pattern did not match %q", s)
	}
	if idx := pattern.SubexpIndex("value"); idx >= 0 && m[idx] != "" {
		return m[idx], nil
	}
	if len(m) > 1 && m[1] != "" {
		return m[1], nil
	}
	return m[0], nil
}

func labelPattern(label string) string {
	quoted := strings.Join(strings.Fields(regexp.QuoteMeta(label)), `\s*`)
	first, _ := utf8.DecodeRuneInString(label)
	last, _ := utf8.DecodeLastRuneInString(label)
	if isWord(first) {
		quoted = `\b` + quoted
	}
	if isWord(last) {
		quoted += `\b`
	}
	return `(?i)` + quoted
}

func isWord(r rune) bool { return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) }

// findLabel returns the offset just past the longest label found in line.
// Without an exact hit, a window of words within maxEdits of a label counts.
func (x *Extractor) findLabel(line string, labels []string, maxEdits int) (int, bool) {
	bestEnd, bestLen := -1, 0
	for _, l := range labels {
		re, err := x.compile(labelPattern(l))
		if err != nil {
			continue
		}
		if loc := re.FindStringIndex(line); loc != nil && loc[1]-loc[0] > bestLen {
			bestEnd, bestLen = loc[1], loc[1]-loc[0]
		}
	}
	if bestEnd >= 0 || maxEdits <= 0 {
		return bestEnd, bestEnd >= 0
	}

	words := reWord.FindAllStringIndex(line, -1)
	for _, l := range labels {
		label := strings.ToLower(strings.Join(strings.Fields(l), " "))
		allowed := min(maxEdits, utf8.RuneCountInString(label)/4)
		if allowed == 0 {
			continue
		}
		k := len(strings.Fields(label))
		for i := 0; i+k <= len(words); i++ {
			parts := make([]string, k)
			for j := 0; j < k; j++ {
				w := words[i+j]
				parts[j] = strings.TrimRight(line[w[0]:w[1]], labelSeparators)
			}
			window := strings.ToLower(strings.Join(parts, " "))
			if levenshtein.ComputeDistance(window, label) <= allowed {
				return words[i+k-1][1], true
			}
		}
	}
	return -1, false
}

func (x *Extractor) matchesAny(line string, labels []string) bool {
	for _, l := range labels {
		re, err := x.compile(labelPattern(l))
		if err == nil && re.MatchString(line) {
			return true
		}
	}
	return false
}

// region reads the tokens whose centres fall inside the rule's box.
func (x *Extractor) region(r entity.Rule, in input) (entity.FieldValue, error) {
	spec := r.Region
	var inside []ocr.Token
	for _, t := range in.frame.Keep(in.doc.Tokens) {
		cx, cy := in.frame.Center(t.Box)
		if spec.Box.Contains(cx, cy) {
			inside = append(inside, t)
		}
	}
	if len(inside) == 0 {
		return entity.FieldValue{}, errNotFound
	}
	sort.SliceStable(inside, func(i, j int) bool {
		if inside[i].Line != inside[j].Line {
			return inside[i].Line < inside[j].Line
		}
		return inside[i].Box.X < inside[j].Box.X
	})

	var b strings.Builder
	for i, t := range inside {
		if i > 0 {
			if t.Line != inside[i-1].Line {
				b.WriteByte('\n')
			} else {
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.Text)
	}
	text := b.String()

	var pattern *regexp.Regexp
	if spec.Pattern != "" {
		re, err := x.compile(spec.Pattern)
		if err != nil {
			return entity.FieldValue{}, err
		}
		pattern = re
	}
	t := valueType(r)
	if t == entity.TypeText {
		text = strings.ReplaceAll(text, "\n", " ")
	}
	raw, err := pick(pattern, t, text)
	if err != nil {
		return entity.FieldValue{}, err
	}
	fv, err := parseValue(t, raw)
	if err != nil {
		return entity.FieldValue{}, err
	}
	fv.Source = in.source
	return fv, nil
}

// block extracts ordered rows between the start and end markers.
func (x *Extractor) block(r entity.Rule, in input) ([]entity.LineItem, error) {
	spec := r.Block
	row, err := x.compile(spec.Row)
	if err != nil {
		return nil, err
	}

	from := 0
	if spec.Start != "" {
		start, err := x.compile(spec.Start)
		if err != nil {
			return nil, err
		}
		from = -1
		for i, l := range in.lines {
			if start.MatchString(l) {
				from = i + 1
				break
			}
		}
		if from < 0 {
			return nil, fmt.Errorf("block start: %w", errNotFound)
		}
	}
	var end *regexp.Regexp
	if spec.End != "" {
		if end, err = x.compile(spec.End); err != nil {
			return nil, err
		}
	}

	var defaultQty decimal.NullDecimal
	if spec.DefaultQuantity != "" {
		d, err := decimal.NewFromString(spec.DefaultQuantity)
		if err != nil {
			return nil, fmt.Errorf("invalid default quantity %q: %w", spec.DefaultQuantity, err)
		}
		defaultQty = decimal.NullDecimal{Decimal: d, Valid: true}
	}

	var items []entity.LineItem
	for _, l := range in.lines[from:] {
		if end != nil && end.MatchString(l) {
			break
		}
		m := row.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		group := func(name string) string {
			if idx := row.SubexpIndex(name); idx >= 0 {
				return strings.TrimSpace(m[idx])
			}
			return ""
		}
		item := entity.LineItem{
			Description: reSpaces.ReplaceAllString(group("description"), " "),
			Quantity:    parseQuantity(group("quantity")),
			UnitPrice:   parseAmount(group("unit_price")),
			LineTotal:   parseAmount(group("line_total")),
			Raw:         l,
		}
		if item.Description == "" && !item.LineTotal.Valid {
			continue
		}
		if !item.Quantity.Valid && !item.UnitPrice.Valid {
			item.Quantity = defaultQty
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("block rows: %w", errNotFound)
	}
	return items, nil
}

func parseAmount(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := money.Parse(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func parseQuantity(s string) decimal.NullDecimal {
	s = strings.TrimRight(strings.ReplaceAll(s, ",", ""), "xX@ ")
	if s == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
