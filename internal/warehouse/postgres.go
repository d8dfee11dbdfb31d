package warehouse

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/models"
)

// PostgresStore backs the warehouse with a shared PostgreSQL database for
// deployments where the sqlite file is not practical.
type PostgresStore struct {
	pool           *pgxpool.Pool
	table          string
	revenuePerConv float64
	logger         *zap.Logger
}

// NewPostgresStore creates a pgx connection pool against the given DSN.
func NewPostgresStore(ctx context.Context, dsn, table string, revenuePerConv float64, logger *zap.Logger) (*PostgresStore, error) {
	if !identPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse warehouse DSN: %w", err)
	}
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping warehouse: %w", err)
	}

	logger.Info("postgres warehouse opened", zap.String("table", table))
	return &PostgresStore{pool: pool, table: table, revenuePerConv: revenuePerConv, logger: logger}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			date DATE,
			platform TEXT,
			account TEXT,
			campaign TEXT,
			country TEXT,
			device TEXT,
			spend DOUBLE PRECISION,
			clicks BIGINT,
			impressions BIGINT,
			conversions BIGINT,
			load_date TIMESTAMPTZ NOT NULL,
			source_file_name TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_date ON %[1]s(date);
		CREATE INDEX IF NOT EXISTS idx_%[1]s_source_file ON %[1]s(source_file_name);
	`, s.table)

	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsFileLoaded(ctx context.Context, fileName string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT 1 FROM %s WHERE source_file_name = $1 LIMIT 1", s.table),
		fileName,
	).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check file %s: %w", fileName, err)
	}
	return true, nil
}

func (s *PostgresStore) Append(ctx context.Context, batch models.IngestionBatch) error {
	if len(batch.Records) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insert := fmt.Sprintf(`
		INSERT INTO %s (
			date, platform, account, campaign, country, device,
			spend, clicks, impressions, conversions,
			load_date, source_file_name
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, s.table)

	for _, r := range batch.Records {
		_, err := tx.Exec(ctx, insert,
			r.Date, r.Platform, r.Account, r.Campaign, r.Country, r.Device,
			r.Spend, r.Clicks, r.Impressions, r.Conversions,
			r.LoadDate.UTC(), r.SourceFileName,
		)
		if err != nil {
			return fmt.Errorf("failed to insert row from %s: %w", r.SourceFileName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (s *PostgresStore) MaxDate(ctx context.Context) (*time.Time, error) {
	var max *time.Time
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT MAX(date) FROM %s", s.table),
	).Scan(&max)
	if err != nil {
		return nil, fmt.Errorf("failed to query max date: %w", err)
	}
	if max == nil {
		return nil, nil
	}
	d := DateOf(*max)
	return &d, nil
}

func (s *PostgresStore) QueryRange(ctx context.Context, start, end time.Time, groupBy []string) ([]GroupResult, error) {
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
		SELECT %sSUM(spend), SUM(conversions)::double precision,
			(SUM(conversions) * $1)::double precision, COUNT(*)
		FROM %s
		WHERE date BETWEEN $2 AND $3
		%s %s
	`, dimSel, s.table, groupClause, orderClause)

	rows, err := s.pool.Query(ctx, query, s.revenuePerConv, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query range: %w", err)
	}
	defer rows.Close()

	var out []GroupResult
	for rows.Next() {
		dims := make([]*string, len(groupBy))
		dest := make([]any, 0, len(groupBy)+4)
		for i := range dims {
			dest = append(dest, &dims[i])
		}
		var spend, conversions, revenue *float64
		var count int64
		dest = append(dest, &spend, &conversions, &revenue, &count)

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate row: %w", err)
		}
		if count == 0 {
			continue
		}

		out = append(out, GroupResult{
			Dims:        dims,
			Spend:       spend,
			Conversions: conversions,
			Revenue:     revenue,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}
