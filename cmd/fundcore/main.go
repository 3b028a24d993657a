package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/fundcore/internal/api"
	"github.com/mtlprog/fundcore/internal/config"
	"github.com/mtlprog/fundcore/internal/database"
	"github.com/mtlprog/fundcore/internal/export"
	"github.com/mtlprog/fundcore/internal/settlement"
	"github.com/mtlprog/fundcore/internal/store"
	"github.com/mtlprog/fundcore/internal/successfee"
	"github.com/mtlprog/fundcore/internal/txjson"
	"github.com/mtlprog/fundcore/internal/worker"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "fundcore",
		Usage: "validate and settle fund state transitions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "stage",
				Usage: "stage parameter file, overrides STAGE_FILE",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and background workers",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply pending database migrations",
				Action: migrate,
			},
			{
				Name:      "validate",
				Usage:     "check a proposed transition against the live cells without committing it",
				ArgsUsage: "<tx.json>",
				Action:    validate,
			},
			{
				Name:  "schedule",
				Usage: "print the success fee charged at the given performance ratios",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{
						Name:     "alpha",
						Usage:    "end price over start price, may be repeated",
						Required: true,
					},
				},
				Action: schedule,
			},
			{
				Name:  "export",
				Usage: "write the state and history report as an XLSX workbook",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "out",
						Usage: "output file",
						Value: "fund-report.xlsx",
					},
				},
				Action: exportReport,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("fundcore failed", "error", err)
		os.Exit(1)
	}
}

// env is the configuration shared by all commands.
type env struct {
	cfg   config.Config
	stage *config.Stage
}

func loadEnv(c *cli.Context) (env, error) {
	cfg := config.Load()
	if s := c.String("stage"); s != "" {
		cfg.StageFile = s
	}
	stage, err := config.LoadStage(cfg.StageFile)
	if err != nil {
		return env{}, err
	}
	slog.Info("loaded stage", "name", stage.Name, "file", cfg.StageFile, "policy", stage.Params.Policy)
	return env{cfg: cfg, stage: stage}, nil
}

// openStore selects PostgreSQL when DATABASE_URL is set, optionally behind a
// Redis cache, and the in-memory store otherwise.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	var cleanup []func()
	closeAll := func() {
		for _, fn := range cleanup {
			fn()
		}
	}

	if cfg.DatabaseURL == "" {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		return store.NewMemoryStore(), closeAll, nil
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	cleanup = append(cleanup, pool.Close)
	if err := applyMigrations(ctx, pool); err != nil {
		closeAll()
		return nil, nil, err
	}
	var st store.Store = store.NewPgStore(pool)
	slog.Info("connected to PostgreSQL")

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
		slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
	}
	return st, closeAll, nil
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("creating migrations sub-fs: %w", err)
	}
	n, err := database.RunMigrations(ctx, pool, sub)
	if err != nil {
		return err
	}
	slog.Info("migrations up to date", "applied", n)
	return nil
}

// openFund wires the settlement service over the configured store and makes
// sure the genesis cells exist.
func openFund(ctx context.Context, e env) (*settlement.Service, func(), error) {
	st, closeStore, err := openStore(ctx, e.cfg)
	if err != nil {
		return nil, nil, err
	}
	fund := settlement.NewService(e.stage.Params, st)
	if err := fund.Bootstrap(ctx, e.stage.Genesis); err != nil {
		closeStore()
		return nil, nil, err
	}
	return fund, closeStore, nil
}

func serve(c *cli.Context) error {
	ctx := c.Context
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	fund, closeStore, err := openFund(ctx, e)
	if err != nil {
		return err
	}
	defer closeStore()

	var writer export.SheetWriter
	if e.cfg.ReportFile != "" {
		writer = export.NewXLSXWriter(e.cfg.ReportFile)
	}
	reports := export.NewService(fund, writer, e.cfg.HistoryLimit)

	// Start workers
	periodWorker := worker.NewPeriodWorker(fund, e.cfg.PeriodWorkerInterval)
	go periodWorker.Run(ctx)

	if writer != nil {
		reportWorker := worker.NewReportWorker(reports, e.cfg.ReportWorkerInterval)
		go reportWorker.Run(ctx)
	} else {
		slog.Info("REPORT_FILE not set, periodic report export disabled")
	}

	if e.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, transition endpoints are unprotected")
	}

	srv := api.NewServer(e.cfg.HTTPPort, fund, reports, e.cfg.AdminAPIKey)
	errc := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", e.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("HTTP server: %w", err)
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("shutdown complete")
	return nil
}

func migrate(c *cli.Context) error {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return cli.Exit("DATABASE_URL is required", 2)
	}
	pool, err := database.Connect(c.Context, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()
	return applyMigrations(c.Context, pool)
}

func validate(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("usage: fundcore validate <tx.json>", 2)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading transition: %w", err)
	}
	var tx txjson.Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	fund, closeStore, err := openFund(c.Context, e)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := fund.Validate(c.Context, tx)
	if err != nil {
		return cli.Exit(fmt.Sprintf("transition %s rejected: %v", tx.ID, err), 1)
	}
	return printJSON(c, report)
}

func schedule(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	s := e.stage.Params.SuccessFee
	quotes := make([]successfee.Quote, 0, len(c.StringSlice("alpha")))
	for _, a := range c.StringSlice("alpha") {
		alpha, err := decimal.NewFromString(a)
		if err != nil || !alpha.IsPositive() {
			return cli.Exit(fmt.Sprintf("invalid alpha %q: must be a positive decimal", a), 2)
		}
		quotes = append(quotes, s.Quote(alpha))
	}
	return printJSON(c, quotes)
}

func exportReport(c *cli.Context) error {
	e, err := loadEnv(c)
	if err != nil {
		return err
	}
	fund, closeStore, err := openFund(c.Context, e)
	if err != nil {
		return err
	}
	defer closeStore()

	reports := export.NewService(fund, export.NewXLSXWriter(c.String("out")), e.cfg.HistoryLimit)
	return reports.Export(c.Context)
}

func printJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
