package warehouse

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/config"
	"github.com/vantedge/ads-kpi/internal/models"
)

// Dimensions is the fixed set of columns a query may group by. Grouped SQL
// is assembled only from this list; caller input never reaches query text.
var Dimensions = []string{"platform", "account", "campaign", "country", "device"}

// IsDimension reports whether name is a groupable column.
func IsDimension(name string) bool {
	for _, d := range Dimensions {
		if d == name {
			return true
		}
	}
	return false
}

// GroupResult is one aggregated row of a range query. Dims holds the
// grouping values aligned with the requested dimensions; sums are nil when
// every contributing cell was NULL.
type GroupResult struct {
	Dims        []*string
	Spend       *float64
	Conversions *float64
	Revenue     *float64
}

// Store is the append-only ads_spend warehouse.
type Store interface {
	// EnsureSchema creates the record table if absent. Safe to call every run.
	EnsureSchema(ctx context.Context) error
	// IsFileLoaded reports whether any stored row came from fileName. This is
	// the sole ingestion idempotence mechanism.
	IsFileLoaded(ctx context.Context, fileName string) (bool, error)
	// Append inserts all rows of the batch atomically.
	Append(ctx context.Context, batch models.IngestionBatch) error
	// MaxDate returns the maximum record date, or nil when the table is empty.
	MaxDate(ctx context.Context) (*time.Time, error)
	// QueryRange sums spend, conversions and derived revenue over rows with
	// date in [start, end] inclusive, grouped by the given dimensions.
	// An empty window yields zero rows, not an error.
	QueryRange(ctx context.Context, start, end time.Time, groupBy []string) ([]GroupResult, error)
	Close() error
}

// AnchorDate returns min(MaxDate, today) in UTC, the end of the rolling
// "last 30 days" window. The cap keeps future-dated rows from pushing the
// anchor past the present. Nil when the warehouse is empty.
func AnchorDate(ctx context.Context, s Store, now time.Time) (*time.Time, error) {
	maxDate, err := s.MaxDate(ctx)
	if err != nil {
		return nil, err
	}
	if maxDate == nil {
		return nil, nil
	}
	today := DateOf(now)
	if maxDate.After(today) {
		return &today, nil
	}
	return maxDate, nil
}

// DateOf truncates t to a UTC calendar date.
func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Open constructs the configured warehouse backend.
func Open(ctx context.Context, cfg config.WarehouseConfig, kpiCfg config.KPIConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case "sqlite":
		return NewSQLiteStore(cfg.Path, cfg.Table, kpiCfg.RevenuePerConversion, logger)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.Table, kpiCfg.RevenuePerConversion, logger)
	default:
		return nil, fmt.Errorf("unknown warehouse driver %q", cfg.Driver)
	}
}

// checkGroupBy verifies every requested dimension is in the fixed set
// before it is interpolated into query text.
func checkGroupBy(groupBy []string) error {
	for _, g := range groupBy {
		if !IsDimension(g) {
			return fmt.Errorf("unknown dimension %q", g)
		}
	}
	return nil
}
