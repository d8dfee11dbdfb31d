package warehouse

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "warehouse.db")
	s, err := NewSQLiteStore(path, "ads_spend", 100, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.EnsureSchema(context.Background()))
	return s
}

func day(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	require.NoError(t, err)
	return d
}

func fp(v float64) *float64 { return &v }
func ip(v int64) *int64     { return &v }
func sp(v string) *string   { return &v }

func rec(t *testing.T, date, platform string, spend float64, conversions int64) models.AdSpendRecord {
	d := day(t, date)
	return models.AdSpendRecord{
		Date:        &d,
		Platform:    sp(platform),
		Spend:       fp(spend),
		Conversions: ip(conversions),
	}
}

func seed(t *testing.T, s *SQLiteStore, file string, records ...models.AdSpendRecord) {
	t.Helper()
	for i := range records {
		records[i].SourceFileName = file
		records[i].LoadDate = time.Now().UTC()
	}
	batch := models.IngestionBatch{
		SourceFileName: file,
		LoadDate:       time.Now().UTC(),
		Records:        records,
	}
	require.NoError(t, s.Append(context.Background(), batch))
}

func TestNewSQLiteStoreRejectsBadTableName(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "w.db"), "ads; DROP TABLE x", 100, zap.NewNop())
	assert.Error(t, err)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, s.EnsureSchema(context.Background()))
}

func TestIsFileLoaded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	loaded, err := s.IsFileLoaded(ctx, "jan.csv")
	require.NoError(t, err)
	assert.False(t, loaded)

	seed(t, s, "jan.csv", rec(t, "2025-01-10", "google", 100, 2))

	loaded, err = s.IsFileLoaded(ctx, "jan.csv")
	require.NoError(t, err)
	assert.True(t, loaded)

	loaded, err = s.IsFileLoaded(ctx, "feb.csv")
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestMaxDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	max, err := s.MaxDate(ctx)
	require.NoError(t, err)
	assert.Nil(t, max, "empty warehouse has no max date")

	seed(t, s, "a.csv",
		rec(t, "2025-01-10", "google", 100, 2),
		rec(t, "2025-02-01", "meta", 50, 1),
	)

	max, err = s.MaxDate(ctx)
	require.NoError(t, err)
	require.NotNil(t, max)
	assert.Equal(t, day(t, "2025-02-01"), *max)
}

func TestQueryRangeUngrouped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "a.csv",
		rec(t, "2025-01-05", "google", 100, 2),
		rec(t, "2025-01-10", "meta", 200, 3),
		rec(t, "2025-02-10", "meta", 999, 9), // outside window
	)

	groups, err := s.QueryRange(ctx, day(t, "2025-01-01"), day(t, "2025-01-31"), nil)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	g := groups[0]
	require.NotNil(t, g.Spend)
	assert.InDelta(t, 300, *g.Spend, 1e-9)
	require.NotNil(t, g.Conversions)
	assert.InDelta(t, 5, *g.Conversions, 1e-9)
	require.NotNil(t, g.Revenue)
	assert.InDelta(t, 500, *g.Revenue, 1e-9, "revenue is conversions * 100")
}

func TestQueryRangeEmptyWindowYieldsNoRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "a.csv", rec(t, "2025-01-05", "google", 100, 2))

	groups, err := s.QueryRange(ctx, day(t, "2024-01-01"), day(t, "2024-01-31"), nil)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestQueryRangeGrouped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, "a.csv",
		rec(t, "2025-01-05", "google", 100, 2),
		rec(t, "2025-01-06", "google", 50, 1),
		rec(t, "2025-01-07", "meta", 200, 4),
		models.AdSpendRecord{ // NULL platform row
			Date:        func() *time.Time { d := day(t, "2025-01-08"); return &d }(),
			Spend:       fp(10),
			Conversions: ip(1),
		},
	)

	groups, err := s.QueryRange(ctx, day(t, "2025-01-01"), day(t, "2025-01-31"), []string{"platform"})
	require.NoError(t, err)
	require.Len(t, groups, 3)

	byName := map[string]GroupResult{}
	var nullGroup *GroupResult
	for i, g := range groups {
		if g.Dims[0] == nil {
			nullGroup = &groups[i]
			continue
		}
		byName[*g.Dims[0]] = g
	}

	require.NotNil(t, nullGroup, "NULL dimension forms its own group")
	assert.InDelta(t, 10, *nullGroup.Spend, 1e-9)
	assert.InDelta(t, 150, *byName["google"].Spend, 1e-9)
	assert.InDelta(t, 200, *byName["meta"].Spend, 1e-9)
	assert.InDelta(t, 400, *byName["meta"].Revenue, 1e-9)
}

func TestQueryRangeRejectsUnknownDimension(t *testing.T) {
	s := newTestStore(t)
	_, err := s.QueryRange(context.Background(), day(t, "2025-01-01"), day(t, "2025-01-31"), []string{"spend"})
	assert.Error(t, err, "aggregates are not groupable columns")
}

func TestAnchorDate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := day(t, "2025-02-15")

	anchor, err := AnchorDate(ctx, s, now)
	require.NoError(t, err)
	assert.Nil(t, anchor, "empty warehouse has no anchor")

	seed(t, s, "a.csv", rec(t, "2025-01-30", "google", 100, 2))
	anchor, err = AnchorDate(ctx, s, now)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	assert.Equal(t, day(t, "2025-01-30"), *anchor, "anchor is the max date when in the past")

	seed(t, s, "b.csv", rec(t, "2025-12-31", "google", 1, 1))
	anchor, err = AnchorDate(ctx, s, now)
	require.NoError(t, err)
	require.NotNil(t, anchor)
	assert.Equal(t, day(t, "2025-02-15"), *anchor, "future-dated rows cap the anchor at today")
}

func TestAppendAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty batch is a no-op.
	require.NoError(t, s.Append(ctx, models.IngestionBatch{SourceFileName: "empty.csv"}))
	loaded, err := s.IsFileLoaded(ctx, "empty.csv")
	require.NoError(t, err)
	assert.False(t, loaded)
}
