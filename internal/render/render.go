// Package render turns KPI reports into markdown, plain-text and CSV
// tables for the CLI and the /ask endpoint.
package render

import (
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/vantedge/ads-kpi/internal/models"
)

// Table is a fully formatted tabular view of a report.
type Table struct {
	Columns []string
	Rows    [][]string
}

// CompareTable tabulates a compare-mode report.
func CompareTable(r *models.CompareReport) Table {
	t := Table{Columns: []string{"metric", "last_30", "prior_30", "pct_change"}}
	for _, row := range r.Data {
		t.Rows = append(t.Rows, []string{
			row.Metric,
			formatValue(row.Last30),
			formatValue(row.Prior30),
			formatPct(row.PctChange),
		})
	}
	return t
}

// SingleTable tabulates a single-mode report, grouping dimensions first.
func SingleTable(r *models.SingleReport) Table {
	t := Table{Columns: append(append([]string{}, r.Meta.GroupBy...), "metric", "value")}
	for _, row := range r.Data {
		cells := make([]string, 0, len(row.Dimensions)+2)
		for _, d := range row.Dimensions {
			if d.Value == nil {
				cells = append(cells, "")
			} else {
				cells = append(cells, *d.Value)
			}
		}
		cells = append(cells, row.Metric, formatValue(row.Value))
		t.Rows = append(t.Rows, cells)
	}
	return t
}

// Markdown renders the table in GitHub style, ready to embed in a
// summarizer prompt.
func Markdown(t Table) string {
	var b strings.Builder
	b.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")
	seps := make([]string, len(t.Columns))
	for i := range seps {
		seps[i] = "---"
	}
	b.WriteString("| " + strings.Join(seps, " | ") + " |")
	for _, row := range t.Rows {
		b.WriteString("\n| " + strings.Join(row, " | ") + " |")
	}
	return b.String()
}

// Text renders the table for terminal output.
func Text(t Table) (string, error) {
	data := make(pterm.TableData, 0, len(t.Rows)+1)
	data = append(data, t.Columns)
	data = append(data, t.Rows...)
	return pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
}

// CSV renders the table as RFC 4180 CSV with a header row.
func CSV(t Table) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write(t.Columns); err != nil {
		return "", err
	}
	for _, row := range t.Rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return groupThousands(fmt.Sprintf("%.2f", *v))
}

func formatPct(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%+.2f%%", *v*100)
}

// groupThousands inserts commas into the integer part of a fixed-point
// number string.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, _ := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
