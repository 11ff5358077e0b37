package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func summaryRows(item entity.QueueItem) [][]string {
	rows := [][]string{
		{"Item", item.ID.String()},
		{"File", item.FilePath},
		{"Status", string(item.Status)},
		{"Attempt", strconv.Itoa(item.Attempt)},
	}
	if item.DocumentType != nil {
		rows = append(rows, []string{"Document type", *item.DocumentType})
	}
	if c := item.Classification; c != nil {
		format := c.FormatName
		if c.UnknownFormat {
			format = "(unknown format)"
		}
		rows = append(rows,
			[]string{"Template", format},
			[]string{"Similarity", formatScore(c.Similarity)},
			[]string{"Confidence", formatScore(c.Confidence.Score)},
			[]string{"Tier", string(c.Confidence.Tier)},
			[]string{"Sub-scores", fmt.Sprintf("ocr=%s extraction=%s pattern=%s validation=%s",
				formatScore(c.Confidence.Breakdown.OCR),
				formatScore(c.Confidence.Breakdown.Extraction),
				formatScore(c.Confidence.Breakdown.Pattern),
				formatScore(c.Confidence.Breakdown.Validation))},
		)
		if c.Confidence.Capped != "" {
			rows = append(rows, []string{"Capped", c.Confidence.Capped})
		}
	}
	if item.Action != "" {
		rows = append(rows, []string{"Action", string(item.Action)})
	}
	if item.RequiresReview {
		rows = append(rows, []string{"Review", string(item.ReviewType)})
	}
	if len(item.Flags) > 0 {
		rows = append(rows, []string{"Flags", strings.Join(item.Flags, ", ")})
	}
	if item.FailureReason != "" {
		rows = append(rows, []string{"Failure", item.FailureReason})
	}
	return rows
}

func renderSummary(item entity.QueueItem) string {
	return renderTable([]string{"Key", "Value"}, summaryRows(item), nil)
}

// renderFields lists extracted fields sorted by name, with parse errors last.
func renderFields(res entity.ExtractionResult) string {
	names := make([]string, 0, len(res.Fields))
	for name := range res.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names)+len(res.Errors))
	for _, name := range names {
		f := res.Fields[name]
		rows = append(rows, []string{name, string(f.Type), f.Value, f.Raw})
	}
	errNames := make([]string, 0, len(res.Errors))
	for name := range res.Errors {
		errNames = append(errNames, name)
	}
	sort.Strings(errNames)
	for _, name := range errNames {
		rows = append(rows, []string{name, "error", "", res.Errors[name]})
	}
	if len(rows) == 0 {
		return ""
	}
	return renderTable([]string{"Field", "Type", "Value", "Raw"}, rows, nil)
}

func renderLineItems(items []entity.LineItem) string {
	if len(items) == 0 {
		return ""
	}
	rows := make([][]string, 0, len(items))
	for _, li := range items {
		rows = append(rows, []string{li.Description, nullDecimal(li.Quantity), nullDecimal(li.UnitPrice), nullDecimal(li.LineTotal)})
	}
	return renderTable([]string{"Description", "Qty", "Unit", "Total"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight})
}

func renderItems(items []entity.QueueItem) string {
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		score, tier := "", ""
		if it.Classification != nil {
			score = formatScore(it.Classification.Confidence.Score)
			tier = string(it.Classification.Confidence.Tier)
		}
		rows = append(rows, []string{
			it.ID.String(),
			it.Filename,
			string(it.Status),
			tier,
			score,
			string(it.Action),
			it.ArrivedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return renderTable([]string{"Item", "File", "Status", "Tier", "Score", "Action", "Arrived"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
}

func renderTemplates(ts []entity.Template) string {
	rows := make([][]string, 0, len(ts))
	for _, t := range ts {
		app := t.CallingAppID
		if app == "" {
			app = "*"
		}
		rows = append(rows, []string{
			t.ID.String(),
			t.DocumentType,
			t.Vendor,
			t.FormatName,
			app,
			strconv.Itoa(len(t.Fingerprint)),
			strconv.Itoa(len(t.Rules)),
			strconv.FormatInt(t.SuccessCount, 10),
		})
	}
	return renderTable([]string{"ID", "Type", "Vendor", "Format", "App", "Regions", "Rules", "Matches"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight})
}

func nullDecimal(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

// parseFieldFlags turns repeated name=value flags into a map.
func parseFieldFlags(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, ok := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --field %q, expected name=value", p)
		}
		out[name] = value
	}
	return out, nil
}
