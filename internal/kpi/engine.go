// Package kpi computes CAC and ROAS reports from the ads-spend warehouse.
package kpi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/vantedge/ads-kpi/internal/metrics"
	"github.com/vantedge/ads-kpi/internal/models"
	"github.com/vantedge/ads-kpi/internal/warehouse"
)

const (
	ModeCompare = "compare"
	ModeSingle  = "single"

	MetricSpend       = "spend"
	MetricConversions = "conversions"
	MetricRevenue     = "revenue"
	MetricCAC         = "CAC"
	MetricROAS        = "ROAS"
)

// metricOrder is the fixed emission order of report rows.
var metricOrder = []string{MetricSpend, MetricConversions, MetricRevenue, MetricCAC, MetricROAS}

const dateLayout = "2006-01-02"

// ValidationError marks client input that fails validation. It maps to
// HTTP 400 rather than a server fault.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// RangeError marks a date window whose start falls after its end.
type RangeError struct {
	Start, End time.Time
}

func (e *RangeError) Error() string { return "start must be <= end" }

// IsBadRequest reports whether err is caused by invalid caller input.
func IsBadRequest(err error) bool {
	var ve *ValidationError
	var re *RangeError
	return errors.As(err, &ve) || errors.As(err, &re)
}

// ParseGroupBy splits a comma-separated dimension list, validates every
// name against the warehouse allow-list and deduplicates while preserving
// first-occurrence order.
func ParseGroupBy(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var requested, unknown []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			requested = append(requested, p)
			if !warehouse.IsDimension(p) {
				unknown = append(unknown, p)
			}
		}
	}
	if len(unknown) > 0 {
		allowed := append([]string(nil), warehouse.Dimensions...)
		sort.Strings(allowed)
		return nil, &ValidationError{Msg: fmt.Sprintf(
			"unknown group_by columns: %s. Allowed: %s",
			strings.Join(unknown, ", "), strings.Join(allowed, ", "),
		)}
	}
	seen := make(map[string]struct{}, len(requested))
	clean := make([]string, 0, len(requested))
	for _, c := range requested {
		if _, ok := seen[c]; !ok {
			seen[c] = struct{}{}
			clean = append(clean, c)
		}
	}
	return clean, nil
}

// Engine derives KPI reports from the warehouse. All methods are read-only
// and safe to call concurrently.
type Engine struct {
	store   warehouse.Store
	source  string
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates a KPI engine. source labels report metadata with the
// warehouse location; m may be nil.
func NewEngine(store warehouse.Store, source string, m *metrics.Metrics) *Engine {
	return &Engine{store: store, source: source, metrics: m, now: time.Now}
}

// AnchorDate returns the end of the rolling 30-day window, nil when the
// warehouse is empty.
func (e *Engine) AnchorDate(ctx context.Context) (*time.Time, error) {
	return warehouse.AnchorDate(ctx, e.store, e.now())
}

// Compare reports each metric over the last 30 days against the prior 30.
// Both windows hang off a single anchor fetch so they stay consistent
// within one call.
func (e *Engine) Compare(ctx context.Context) (*models.CompareReport, error) {
	start := time.Now()
	report, err := e.compare(ctx)
	e.observe(ModeCompare, start, err)
	return report, err
}

func (e *Engine) compare(ctx context.Context) (*models.CompareReport, error) {
	report := &models.CompareReport{
		Meta: models.ReportMeta{Mode: ModeCompare, Source: e.source},
		Data: make([]models.CompareRow, 0, len(metricOrder)),
	}

	anchor, err := e.AnchorDate(ctx)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return report, nil
	}
	report.Meta.AnchorDate = dateString(*anchor)

	// Window A is the 30 days ending on the anchor; window B the 30 days
	// immediately before it.
	last, err := e.windowTotals(ctx, anchor.AddDate(0, 0, -29), *anchor)
	if err != nil {
		return nil, err
	}
	prior, err := e.windowTotals(ctx, anchor.AddDate(0, 0, -59), anchor.AddDate(0, 0, -30))
	if err != nil {
		return nil, err
	}

	for _, metric := range metricOrder {
		a := metricValue(last, metric)
		b := metricValue(prior, metric)
		report.Data = append(report.Data, models.CompareRow{
			Metric:    metric,
			Last30:    a,
			Prior30:   b,
			PctChange: pctChange(a, b),
		})
	}
	return report, nil
}

// Single aggregates metrics over [start, end], optionally grouped. Empty
// bounds default to the 30 days ending on the anchor date. An empty
// warehouse yields an empty report, not an error.
func (e *Engine) Single(ctx context.Context, startRaw, endRaw, groupByRaw string) (*models.SingleReport, error) {
	start := time.Now()
	report, err := e.single(ctx, startRaw, endRaw, groupByRaw)
	e.observe(ModeSingle, start, err)
	return report, err
}

func (e *Engine) single(ctx context.Context, startRaw, endRaw, groupByRaw string) (*models.SingleReport, error) {
	report := &models.SingleReport{
		Meta: models.ReportMeta{Mode: ModeSingle, Source: e.source},
		Data: make([]models.MetricRow, 0),
	}

	anchor, err := e.AnchorDate(ctx)
	if err != nil {
		return nil, err
	}
	if anchor == nil {
		return report, nil
	}

	end := *anchor
	if endRaw != "" {
		end, err = parseDateArg("end", endRaw)
		if err != nil {
			return nil, err
		}
	}
	start := end.AddDate(0, 0, -29)
	if startRaw != "" {
		start, err = parseDateArg("start", startRaw)
		if err != nil {
			return nil, err
		}
	}
	if start.After(end) {
		return nil, &RangeError{Start: start, End: end}
	}

	groupBy, err := ParseGroupBy(groupByRaw)
	if err != nil {
		return nil, err
	}

	groups, err := e.store.QueryRange(ctx, start, end, groupBy)
	if err != nil {
		return nil, err
	}
	sortGroups(groups)

	report.Meta.Start = dateString(start)
	report.Meta.End = dateString(end)
	report.Meta.GroupBy = groupBy

	for _, g := range groups {
		dims := make([]models.Dimension, len(groupBy))
		for i, name := range groupBy {
			dims[i] = models.Dimension{Name: name, Value: g.Dims[i]}
		}
		totals := windowTotals{spend: g.Spend, conversions: g.Conversions, revenue: g.Revenue}
		for _, metric := range metricOrder {
			report.Data = append(report.Data, models.MetricRow{
				Dimensions: dims,
				Metric:     metric,
				Value:      metricValue(totals, metric),
			})
		}
	}
	return report, nil
}

// windowTotals carries the three summed measures of one window or group.
type windowTotals struct {
	spend, conversions, revenue *float64
}

func (e *Engine) windowTotals(ctx context.Context, start, end time.Time) (windowTotals, error) {
	groups, err := e.store.QueryRange(ctx, start, end, nil)
	if err != nil {
		return windowTotals{}, err
	}
	if len(groups) == 0 {
		return windowTotals{}, nil
	}
	g := groups[0]
	return windowTotals{spend: g.Spend, conversions: g.Conversions, revenue: g.Revenue}, nil
}

func metricValue(t windowTotals, metric string) *float64 {
	switch metric {
	case MetricSpend:
		return t.spend
	case MetricConversions:
		return t.conversions
	case MetricRevenue:
		return t.revenue
	case MetricCAC:
		return ratio(t.spend, t.conversions)
	case MetricROAS:
		return ratio(t.revenue, t.spend)
	}
	return nil
}

// ratio divides num by den, yielding nil instead of a fault when either
// side is missing or the denominator is not positive.
func ratio(num, den *float64) *float64 {
	if num == nil || den == nil || *den <= 0 {
		return nil
	}
	v := *num / *den
	return &v
}

func pctChange(last, prior *float64) *float64 {
	if last == nil || prior == nil || *prior == 0 {
		return nil
	}
	v := (*last - *prior) / *prior
	return &v
}

// sortGroups orders grouped results by their dimension values in request
// order, NULLs first, so report rows come out deterministically regardless
// of backend NULL ordering.
func sortGroups(groups []warehouse.GroupResult) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].Dims, groups[j].Dims
		for k := range a {
			av, bv := a[k], b[k]
			switch {
			case av == nil && bv == nil:
				continue
			case av == nil:
				return true
			case bv == nil:
				return false
			case *av != *bv:
				return *av < *bv
			}
		}
		return false
	})
}

func parseDateArg(name, raw string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(raw), time.UTC)
	if err != nil {
		return time.Time{}, &ValidationError{Msg: fmt.Sprintf("invalid %s date %q (want YYYY-MM-DD)", name, raw)}
	}
	return t, nil
}

func dateString(t time.Time) *string {
	s := t.Format(dateLayout)
	return &s
}

func (e *Engine) observe(mode string, start time.Time, err error) {
	if e.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
		if IsBadRequest(err) {
			status = "rejected"
		}
	}
	e.metrics.KPIQueries.WithLabelValues(mode, status).Inc()
	e.metrics.KPIDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}
