// Package ingest loads ads-spend CSV files from a landing directory into
// the warehouse with type coercion, provenance tracking and file-level
// idempotence.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/metrics"
	"github.com/vantedge/ads-kpi/internal/models"
	"github.com/vantedge/ads-kpi/internal/warehouse"
)

// requiredColumns must all be present in a landing file header. Extra
// columns are ignored.
var requiredColumns = []string{
	"date", "platform", "account", "campaign", "country", "device",
	"spend", "clicks", "impressions", "conversions",
}

// SchemaError reports a landing file whose header is missing required
// columns. It is local to one file; the run continues past it.
type SchemaError struct {
	File    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns in %s: %s", e.File, strings.Join(e.Missing, ", "))
}

// FileOutcome records what happened to one discovered file during a run.
type FileOutcome struct {
	File   string `json:"file"`
	Status string `json:"status"`
	Rows   int    `json:"rows,omitempty"`
	Detail string `json:"detail,omitempty"`
}

const (
	StatusSkipped  = "skipped"
	StatusInserted = "inserted"
	StatusError    = "error"
)

// RunResult summarizes a full ingestion pass.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Files    []FileOutcome `json:"files"`
	Inserted int           `json:"inserted"`
}

// Pipeline turns landing-directory CSV files into warehouse batches.
type Pipeline struct {
	store      warehouse.Store
	landingDir string
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
}

// NewPipeline creates an ingestion pipeline. metrics may be nil.
func NewPipeline(store warehouse.Store, landingDir string, logger *zap.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		store:      store,
		landingDir: landingDir,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Discover lists the CSV files in dir in lexicographic order so repeated
// runs process files in the same sequence.
func Discover(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read landing directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadFile parses one CSV file into a batch. Cells that fail coercion
// become NULL; the row is kept. A header missing required columns fails
// with *SchemaError.
func LoadFile(path string, loadDate time.Time) (models.IngestionBatch, error) {
	name := filepath.Base(path)
	batch := models.IngestionBatch{SourceFileName: name, LoadDate: loadDate}

	f, err := os.Open(path)
	if err != nil {
		return batch, fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return batch, fmt.Errorf("failed to read header of %s: %w", name, err)
	}

	colIdx := make(map[string]int, len(header))
	for i, c := range header {
		colIdx[strings.TrimSpace(c)] = i
	}
	var missing []string
	for _, c := range requiredColumns {
		if _, ok := colIdx[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return batch, &SchemaError{File: name, Missing: missing}
	}

	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return batch, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		cell := func(col string) string {
			i := colIdx[col]
			if i >= len(row) {
				return ""
			}
			return row[i]
		}
		batch.Records = append(batch.Records, models.AdSpendRecord{
			Date:           parseDate(cell("date")),
			Platform:       cleanDim(cell("platform")),
			Account:        cleanDim(cell("account")),
			Campaign:       cleanDim(cell("campaign")),
			Country:        cleanDim(cell("country")),
			Device:         cleanDim(cell("device")),
			Spend:          CleanSpend(cell("spend")),
			Clicks:         parseCount(cell("clicks")),
			Impressions:    parseCount(cell("impressions")),
			Conversions:    parseCount(cell("conversions")),
			LoadDate:       loadDate,
			SourceFileName: name,
		})
	}

	return batch, nil
}

// Run executes one full ingestion pass. Parse and schema failures are
// contained to their file; warehouse failures abort the run.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	log := p.logger.With(zap.String("run_id", result.RunID))
	defer func() {
		if p.metrics != nil {
			p.metrics.IngestDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if err := p.store.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	files, err := Discover(p.landingDir)
	if err != nil {
		return nil, err
	}
	log.Info("ingestion run started",
		zap.String("landing_dir", p.landingDir),
		zap.Int("files", len(files)),
		zap.Strings("names", files),
	)

	loadDate := p.now().UTC()
	for _, name := range files {
		loaded, err := p.store.IsFileLoaded(ctx, name)
		if err != nil {
			return nil, err
		}
		if loaded {
			log.Info("skipping already loaded file", zap.String("file", name))
			result.Files = append(result.Files, FileOutcome{File: name, Status: StatusSkipped})
			if p.metrics != nil {
				p.metrics.FilesSkipped.Inc()
			}
			continue
		}

		batch, err := LoadFile(filepath.Join(p.landingDir, name), loadDate)
		if err != nil {
			log.Error("failed to load file", zap.String("file", name), zap.Error(err))
			result.Files = append(result.Files, FileOutcome{File: name, Status: StatusError, Detail: err.Error()})
			if p.metrics != nil {
				p.metrics.FilesErrored.Inc()
			}
			continue
		}

		if err := p.store.Append(ctx, batch); err != nil {
			return nil, err
		}

		rows := len(batch.Records)
		result.Inserted += rows
		result.Files = append(result.Files, FileOutcome{File: name, Status: StatusInserted, Rows: rows})
		log.Info("inserted file", zap.String("file", name), zap.Int("rows", rows))
		if p.metrics != nil {
			p.metrics.FilesLoaded.Inc()
			p.metrics.RowsInserted.Add(float64(rows))
		}
	}

	log.Info("ingestion run finished", zap.Int("inserted", result.Inserted))
	return result, nil
}
