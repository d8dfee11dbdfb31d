package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/vantedge/ads-kpi/internal/models"
)

const (
	dateLayout      = "2006-01-02"
	timestampLayout = "2006-01-02 15:04:05"
)

// SQLiteStore is the default embedded warehouse backend. Dates are stored
// as ISO text so lexicographic BETWEEN matches calendar order.
type SQLiteStore struct {
	db             *sql.DB
	table          string
	revenuePerConv float64
	logger         *zap.Logger
}

// NewSQLiteStore opens (creating if needed) the warehouse database file.
func NewSQLiteStore(path, table string, revenuePerConv float64, logger *zap.Logger) (*SQLiteStore, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create warehouse directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	// WAL lets KPI reads proceed while an ingestion run commits.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("sqlite warehouse opened", zap.String("path", path), zap.String("table", table))
	return &SQLiteStore{db: db, table: table, revenuePerConv: revenuePerConv, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			date TEXT,
			platform TEXT,
			account TEXT,
			campaign TEXT,
			country TEXT,
			device TEXT,
			spend REAL,
			clicks INTEGER,
			impressions INTEGER,
			conversions INTEGER,
			load_date TEXT NOT NULL,
			source_file_name TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_date ON %[1]s(date);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_source_file ON %[1]s(source_file_name);
	`, s.table)

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) IsFileLoaded(ctx context.Context, fileName string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE source_file_name = ? LIMIT 1", s.table),
		fileName,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file %s: %w", fileName, err)
	}
	return true, nil
}

func (s *SQLiteStore) Append(ctx context.Context, batch models.IngestionBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			date, platform, account, campaign, country, device,
			spend, clicks, impressions, conversions,
			load_date, source_file_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.table))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range batch.Records {
		_, err := stmt.ExecContext(ctx,
			nullDate(r.Date), r.Platform, r.Account, r.Campaign, r.Country, r.Device,
			r.Spend, r.Clicks, r.Impressions, r.Conversions,
			r.LoadDate.UTC().Format(timestampLayout), r.SourceFileName,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row from %s: %w", r.SourceFileName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MaxDate(ctx context.Context) (*time.Time, error) {
	var max sql.NullString
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT MAX(date) FROM %s", s.table),
	).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("failed to query max date: %w", err)
	}
	if !max.Valid {
		return nil, nil
	}
	d, err := time.ParseInLocation(dateLayout, max.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("malformed date %q in warehouse: %w", max.String, err)
	}
	return &d, nil
}

func (s *SQLiteStore) QueryRange(ctx context.Context, start, end time.Time, groupBy []string) ([]GroupResult, error) {
	if err := checkGroupBy(groupBy); err != nil {
		return nil, err
	}

	dimSel := ""
	groupClause := ""
	orderClause := ""
	if len(groupBy) > 0 {
		dims := strings.Join(groupBy, ", ")
		dimSel = dims + ", "
		groupClause = "GROUP BY " + dims
		orderClause = "ORDER BY " + dims
	}

	query := fmt.Sprintf(`
		SELECT %sSUM(spend), SUM(conversions), SUM(conversions) * ?, COUNT(*)
		FROM %s
		WHERE date BETWEEN ? AND ?
		%s %s
	`, dimSel, s.table, groupClause, orderClause)

	rows, err := s.db.QueryContext(ctx, query,
		s.revenuePerConv, start.Format(dateLayout), end.Format(dateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer rows.Close()

	var out []GroupResult
	for rows.Next() {
		dims := make([]sql.NullString, len(groupBy))
		dest := make([]any, 0, len(groupBy)+4)
		for i := range dims {
			dest = append(dest, &dims[i])
		}
		var spend, conversions, revenue sql.NullFloat64
		var count int64
		dest = append(dest, &spend, &conversions, &revenue, &count)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		if count == 0 {
			// Ungrouped SUM over an empty window produces a single all-NULL
			// row; an empty window must yield no rows at all.
			continue
		}

		res := GroupResult{Dims: make([]*string, len(groupBy))}
		for i, d := range dims {
			if d.Valid {
				v := d.String
				res.Dims[i] = &v
			}
		}
		res.Spend = nullableFloat(spend)
		res.Conversions = nullableFloat(conversions)
		res.Revenue = nullableFloat(revenue)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

func nullDate(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(dateLayout)
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
