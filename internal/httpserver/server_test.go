package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/config"
	"github.com/vantedge/ads-kpi/internal/ingest"
	"github.com/vantedge/ads-kpi/internal/kpi"
	"github.com/vantedge/ads-kpi/internal/models"
	"github.com/vantedge/ads-kpi/internal/nlq"
	"github.com/vantedge/ads-kpi/internal/warehouse"
)

type stubSummarizer struct {
	answer string
	err    error
}

func (s *stubSummarizer) Summarize(ctx context.Context, system, user string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.answer, nil
}

type testEnv struct {
	handler    http.Handler
	store      warehouse.Store
	landingDir string
}

func newTestEnv(t *testing.T, summarizer nlq.Summarizer) *testEnv {
	t.Helper()
	store, err := warehouse.NewSQLiteStore(filepath.Join(t.TempDir(), "w.db"), "ads_spend", 100, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(context.Background()))

	landing := t.TempDir()
	cfg := &config.Config{
		Summarizer: config.SummarizerConfig{Model: "gpt-4o-mini", Temperature: 0.5},
	}
	handler := NewServer(&Dependencies{
		Engine:     kpi.NewEngine(store, "test.db", nil),
		Pipeline:   ingest.NewPipeline(store, landing, zap.NewNop(), nil),
		Summarizer: summarizer,
		Config:     cfg,
		Logger:     zap.NewNop(),
	})
	return &testEnv{handler: handler, store: store, landingDir: landing}
}

// seed inserts spend rows dated in the past so the anchor date is the data's
// max date regardless of when the test runs.
func (e *testEnv) seed(t *testing.T, dates ...string) {
	t.Helper()
	platform := "google"
	var records []models.AdSpendRecord
	for _, s := range dates {
		d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		require.NoError(t, err)
		spend, conv := 100.0, int64(2)
		records = append(records, models.AdSpendRecord{
			Date: &d, Platform: &platform, Spend: &spend, Conversions: &conv,
			LoadDate: time.Now().UTC(), SourceFileName: "seed.csv",
		})
	}
	require.NoError(t, e.store.Append(context.Background(), models.IngestionBatch{
		SourceFileName: "seed.csv", LoadDate: time.Now().UTC(), Records: records,
	}))
}

func (e *testEnv) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	csv := "date,platform,account,campaign,country,device,spend,clicks,impressions,conversions\n" +
		"2025-01-05,google,a,b,US,mobile,100,10,1000,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(env.landingDir, "jan.csv"), []byte(csv), 0o644))

	w := env.do(t, http.MethodPost, "/load", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["inserted"])
	assert.NotEmpty(t, body["run_id"])

	// Reloading skips the file.
	w = env.do(t, http.MethodPost, "/load", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["inserted"])
}

func TestLoadMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(t, http.MethodGet, "/load", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLoadFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.RemoveAll(env.landingDir))

	w := env.do(t, http.MethodPost, "/load", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body := decode(t, w)
	assert.Equal(t, "error", body["status"])
	assert.NotEmpty(t, body["detail"])
}

func TestMetricsCompareDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "2025-01-10", "2025-01-30")

	w := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "compare", meta["mode"])
	assert.Equal(t, "2025-01-30", meta["anchor_date"])
	data := body["data"].([]any)
	require.Len(t, data, 5)
	first := data[0].(map[string]any)
	assert.Equal(t, "spend", first["metric"])
	assert.EqualValues(t, 200, first["last_30"])
}

func TestMetricsSingleGrouped(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "2025-01-10")

	w := env.do(t, http.MethodGet, "/metrics?mode=single&start=2025-01-01&end=2025-01-31&group_by=platform", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	meta := body["meta"].(map[string]any)
	assert.Equal(t, "single", meta["mode"])
	assert.Equal(t, "2025-01-01", meta["start"])
	data := body["data"].([]any)
	require.Len(t, data, 5)
	first := data[0].(map[string]any)
	assert.Equal(t, "google", first["platform"], "dimension columns are flattened into the row")
	assert.Equal(t, "spend", first["metric"])
	assert.EqualValues(t, 100, first["value"])
}

func TestMetricsBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "2025-01-10")

	w := env.do(t, http.MethodGet, "/metrics?mode=bogus", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/metrics?mode=single&group_by=spend", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decode(t, w)["error"], "unknown group_by columns")

	w = env.do(t, http.MethodGet, "/metrics?mode=single&start=2025-02-01&end=2025-01-01", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "start must be <= end", decode(t, w)["error"])
}

func TestAskBadRequests(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/ask", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/ask", `{"question": ""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodGet, "/ask", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestAskUnmatchedIntent(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(t, http.MethodPost, "/ask", `{"question": "what is our spend?"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["matched_intent"])
	assert.NotEmpty(t, body["message"])
}

func TestAskMatchedWithoutSummarizer(t *testing.T) {
	env := newTestEnv(t, nil)
	env.seed(t, "2025-01-10", "2025-01-30")

	w := env.do(t, http.MethodPost, "/ask", `{"question": "Compare CAC and ROAS last 30 days vs prior 30 days"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, true, body["matched_intent"])
	assert.Nil(t, body["answer"], "no summarizer configured")

	meta := body["meta"].(map[string]any)
	assert.Equal(t, "compare", meta["mode"])
	assert.Equal(t, "2025-01-30", meta["anchor_date"])
	assert.Equal(t, "gpt-4o-mini", meta["openai_model"])

	preview := body["prompt_preview"].(map[string]any)
	assert.Contains(t, preview["user"], "| metric |")
	require.Len(t, body["data"].([]any), 5)
}

func TestAskMatchedWithSummarizer(t *testing.T) {
	env := newTestEnv(t, &stubSummarizer{answer: "CAC held steady."})
	env.seed(t, "2025-01-10")

	w := env.do(t, http.MethodPost, "/ask", `{"question": "compare cac last 30 vs prior 30"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "CAC held steady.", decode(t, w)["answer"])
}

func TestAskSummarizerFailure(t *testing.T) {
	env := newTestEnv(t, &stubSummarizer{err: &nlq.SummarizerError{Err: errors.New("upstream down")}})
	env.seed(t, "2025-01-10")

	w := env.do(t, http.MethodPost, "/ask", `{"question": "compare cac last 30 vs prior 30"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["error"], "upstream down")
}
