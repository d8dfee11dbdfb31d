// Command kpi computes CAC/ROAS reports from the ads-spend warehouse and
// runs ingestion passes from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vantedge/ads-kpi/internal/config"
	"github.com/vantedge/ads-kpi/internal/ingest"
	"github.com/vantedge/ads-kpi/internal/kpi"
	"github.com/vantedge/ads-kpi/internal/middleware"
	"github.com/vantedge/ads-kpi/internal/render"
	"github.com/vantedge/ads-kpi/internal/warehouse"
)

var (
	flagMode    string
	flagStart   string
	flagEnd     string
	flagGroupBy string
	flagDB      string
	flagFormat  string
	flagOut     string
	flagLanding string
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:          "kpi",
		Short:        "CAC/ROAS reports over the ads-spend warehouse",
		SilenceUsage: true,
		RunE:         runReport,
	}
	root.Flags().StringVar(&flagMode, "mode", kpi.ModeCompare, "report mode: compare or single")
	root.Flags().StringVar(&flagStart, "start", "", "window start (YYYY-MM-DD), single mode only")
	root.Flags().StringVar(&flagEnd, "end", "", "window end (YYYY-MM-DD), single mode only")
	root.Flags().StringVar(&flagGroupBy, "group_by", "", "comma-separated dimensions (platform,account,campaign,country,device)")
	root.Flags().StringVar(&flagDB, "db", "", "sqlite warehouse file (overrides WAREHOUSE_PATH)")
	root.Flags().StringVar(&flagFormat, "format", "table", "output format: table, json or csv")
	root.Flags().StringVar(&flagOut, "out", "", "write output to file instead of stdout")

	load := &cobra.Command{
		Use:   "load",
		Short: "Run one ingestion pass over the landing directory",
		RunE:  runLoad,
	}
	load.Flags().StringVar(&flagDB, "db", "", "sqlite warehouse file (overrides WAREHOUSE_PATH)")
	load.Flags().StringVar(&flagLanding, "landing", "", "landing directory (overrides LANDING_DIR)")
	root.AddCommand(load)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (warehouse.Store, string, error) {
	if flagDB != "" {
		cfg.Warehouse.Driver = "sqlite"
		cfg.Warehouse.Path = flagDB
	}
	source := cfg.Warehouse.Path
	if cfg.Warehouse.Driver == "postgres" {
		source = "postgres"
	}
	store, err := warehouse.Open(ctx, cfg.Warehouse, cfg.KPI, logger)
	if err != nil {
		return nil, "", err
	}
	return store, source, nil
}

func runReport(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := zap.NewNop()

	ctx := cmd.Context()
	store, source, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	engine := kpi.NewEngine(store, source, nil)

	var (
		table  render.Table
		report any
	)
	switch flagMode {
	case kpi.ModeCompare:
		r, err := engine.Compare(ctx)
		if err != nil {
			return err
		}
		table, report = render.CompareTable(r), r
	case kpi.ModeSingle:
		r, err := engine.Single(ctx, flagStart, flagEnd, flagGroupBy)
		if err != nil {
			return err
		}
		table, report = render.SingleTable(r), r
	default:
		return fmt.Errorf("mode must be 'compare' or 'single', got %q", flagMode)
	}

	var out string
	switch flagFormat {
	case "table":
		out, err = render.Text(table)
	case "csv":
		out, err = render.CSV(table)
	case "json":
		var b []byte
		b, err = json.MarshalIndent(report, "", "  ")
		out = string(b) + "\n"
	default:
		return fmt.Errorf("format must be 'table', 'json' or 'csv', got %q", flagFormat)
	}
	if err != nil {
		return err
	}

	return emit(out)
}

func runLoad(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if flagLanding != "" {
		cfg.Ingest.LandingDir = flagLanding
	}

	logger, err := middleware.NewLogger(cfg.Log.Level, "console")
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := cmd.Context()
	store, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	pipeline := ingest.NewPipeline(store, cfg.Ingest.LandingDir, logger, nil)
	result, err := pipeline.Run(ctx)
	if err != nil {
		return err
	}

	for _, f := range result.Files {
		line := fmt.Sprintf("%-10s %s", f.Status, f.File)
		if f.Status == ingest.StatusInserted {
			line += fmt.Sprintf(" (%d rows)", f.Rows)
		}
		if f.Detail != "" {
			line += ": " + f.Detail
		}
		fmt.Println(line)
	}
	fmt.Printf("run %s inserted %d rows\n", result.RunID, result.Inserted)
	return nil
}

func emit(out string) error {
	if flagOut == "" {
		fmt.Print(out)
		return nil
	}
	if err := os.WriteFile(flagOut, []byte(out), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", flagOut, err)
	}
	return nil
}
