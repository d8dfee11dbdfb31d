package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// AdSpendRecord is one row of the ads_spend warehouse table. Measure and
// dimension fields are pointers because the ingestion pipeline coerces
// unparseable cells to NULL instead of dropping the row.
type AdSpendRecord struct {
	Date           *time.Time
	Platform       *string
	Account        *string
	Campaign       *string
	Country        *string
	Device         *string
	Spend          *float64
	Clicks         *int64
	Impressions    *int64
	Conversions    *int64
	LoadDate       time.Time
	SourceFileName string
}

// IngestionBatch holds every record parsed from a single CSV file. All
// records share the same load date and source file name.
type IngestionBatch struct {
	SourceFileName string
	LoadDate       time.Time
	Records        []AdSpendRecord
}

// ReportMeta describes how a KPI report was computed.
type ReportMeta struct {
	Mode       string   `json:"mode"`
	AnchorDate *string  `json:"anchor_date,omitempty"`
	Start      *string  `json:"start,omitempty"`
	End        *string  `json:"end,omitempty"`
	GroupBy    []string `json:"group_by,omitempty"`
	Source     string   `json:"source"`
}

// Dimension is a named grouping value. A nil value means the stored
// dimension was NULL.
type Dimension struct {
	Name  string
	Value *string
}

// MetricRow is one emitted line of a single-mode report: the grouping
// dimension values (in requested order) plus a metric name and its value.
// Value is nil when the metric is undefined for the group (e.g. CAC with
// zero conversions).
type MetricRow struct {
	Dimensions []Dimension
	Metric     string
	Value      *float64
}

// MarshalJSON flattens the row into one object, keeping the dimension
// columns ahead of metric and value the way the report is tabulated.
func (r MetricRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for _, d := range r.Dimensions {
		k, _ := json.Marshal(d.Name)
		v, err := json.Marshal(d.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		buf.WriteByte(',')
	}
	buf.WriteString(`"metric":`)
	m, _ := json.Marshal(r.Metric)
	buf.Write(m)
	buf.WriteString(`,"value":`)
	v, err := json.Marshal(r.Value)
	if err != nil {
		return nil, err
	}
	buf.Write(v)
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// CompareRow is one metric of a compare-mode report: last 30 days vs the
// prior 30, with the relative change. PctChange is nil when the prior
// window value is nil or zero.
type CompareRow struct {
	Metric    string   `json:"metric"`
	Last30    *float64 `json:"last_30"`
	Prior30   *float64 `json:"prior_30"`
	PctChange *float64 `json:"pct_change"`
}

// SingleReport is the output of a single-mode KPI computation.
type SingleReport struct {
	Meta ReportMeta  `json:"meta"`
	Data []MetricRow `json:"data"`
}

// CompareReport is the output of a compare-mode KPI computation.
type CompareReport struct {
	Meta ReportMeta   `json:"meta"`
	Data []CompareRow `json:"data"`
}
