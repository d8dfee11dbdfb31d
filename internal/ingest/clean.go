package ingest

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var spendStrip = regexp.MustCompile(`[^0-9.\-]`)

// dateLayouts are tried in order when parsing the date column. Landing
// files have arrived with all of these over time.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// CleanSpend parses a money string into a float. Currency symbols, commas
// and spaces are stripped; a surrounding parenthesis pair marks the value
// negative. Empty or ambiguous results ("", "-", ".") come back nil.
func CleanSpend(raw string) *float64 {
	s := strings.TrimSpace(raw)
	neg := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	if neg {
		s = s[1 : len(s)-1]
	}
	s = spendStrip.ReplaceAllString(s, "")
	if s == "" || s == "-" || s == "." {
		return nil
	}
	val, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	if neg && val >= 0 {
		val = -val
	}
	return &val
}

func parseDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			d := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &d
		}
	}
	return nil
}

func parseCount(raw string) *int64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return &n
	}
	// Counts sometimes arrive as floats ("12.0"); coerce like the numeric
	// columns of a dataframe would.
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	n := int64(math.Round(f))
	return &n
}

func cleanDim(raw string) *string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	return &s
}
