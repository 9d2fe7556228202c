package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/database"
	"github.com/EvgenyQA404/perfume/internal/handlers"
	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/ratelimit"
	"github.com/EvgenyQA404/perfume/internal/report"
	"github.com/EvgenyQA404/perfume/internal/scheduler"
	"github.com/EvgenyQA404/perfume/internal/scraper"
	"github.com/EvgenyQA404/perfume/internal/search"
	"github.com/EvgenyQA404/perfume/internal/snapshot"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func runInitDB(_ context.Context, args []string) error {
	fs, cf := newFlagSet("init-db")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap("init-db", cf)
	if err != nil {
		return err
	}
	defer a.close()

	if _, err := a.openStore(); err != nil {
		return err
	}
	fmt.Printf("Database ready (%s)\n", a.cfg.Database.Type)
	return nil
}

func runFetch(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("fetch")
	links := fs.String("links", "", "links file, overrides scraper.links_file")
	withReport := fs.Bool("report", false, "write the report after fetching")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap("fetch", cf)
	if err != nil {
		return err
	}
	defer a.close()

	if *links != "" {
		a.cfg.Scraper.LinksFile = *links
	}
	groups, err := config.LoadLinkGroups(a.cfg.Scraper.LinksFile)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Printf("No links in %s\n", a.cfg.Scraper.LinksFile)
		return nil
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	fetcher, err := scraper.NewFetcher(a.cfg.Scraper, store.DefaultCurrency())
	if err != nil {
		return err
	}
	defer fetcher.Close()

	runner := scheduler.NewRunner(fetcher, store, newPacer(a.cfg.Scraper))
	exp := int32(a.cfg.Scraper.MinorUnitExponent)
	runner.OnResult(func(r scheduler.GroupResult) {
		fmt.Println(resultLine(r, exp))
	})

	summary, err := runner.Run(ctx, groups)
	if summary != nil {
		fmt.Printf("Done: %d ok, %d failed\n", summary.Succeeded, summary.Failed)
	}
	if err != nil {
		return err
	}

	if *withReport {
		return writeReport(ctx, a.cfg, store, a.cfg.Report.OutputPath)
	}
	return nil
}

func runRecord(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("record")
	name := fs.String("name", "", "product name")
	price := fs.String("price", "", "price as shown on the page, e.g. \"1 299,90 ₽\"")
	currency := fs.String("currency", "", "currency code or symbol")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap("record", cf)
	if err != nil {
		return err
	}
	defer a.close()

	exp := int32(a.cfg.Scraper.MinorUnitExponent)
	amount, code, err := scraper.ParsePrice(*price, *currency, "", exp)
	if err != nil {
		return fmt.Errorf("invalid -price: %w", err)
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}
	res, err := store.Ingest(ctx, *name, amount, code)
	if err != nil {
		return err
	}
	fmt.Println(okLine(res, exp))
	return nil
}

func runReport(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("report")
	out := fs.String("out", "", "output path, overrides report.output_path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap("report", cf)
	if err != nil {
		return err
	}
	defer a.close()

	path := a.cfg.Report.OutputPath
	if *out != "" {
		path = *out
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	return writeReport(ctx, a.cfg, store, path)
}

func runServe(ctx context.Context, args []string) error {
	fs, cf := newFlagSet("serve")
	port := fs.String("port", "", "listen port, overrides server.port")
	if err := fs.Parse(args); err != nil {
		return err
	}
	a, err := bootstrap("serve", cf)
	if err != nil {
		return err
	}
	defer a.close()
	cfg := a.cfg
	if *port != "" {
		cfg.Server.Port = *port
	}

	store, err := a.openStore()
	if err != nil {
		return err
	}

	searchClient := search.NewSearchClient(cfg.Search.Meilisearch)
	if searchClient != nil {
		if err := searchClient.InitIndex(); err != nil {
			logger.Warn("Failed to initialize search index", zap.Error(err))
		}
	}

	fetcher, err := scraper.NewFetcher(cfg.Scraper, store.DefaultCurrency())
	if err != nil {
		return err
	}
	defer fetcher.Close()

	opts := reportOptions(cfg)
	runner := scheduler.NewRunner(fetcher, store, newPacer(cfg.Scraper))
	sched := scheduler.NewScheduler(cfg, runner,
		report.NewGenerator(store, opts),
		&search.Indexer{Client: searchClient, Snapshots: snapshot.NewService(store)},
	)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	h := handlers.NewHandler(handlers.Deps{
		Store:      store,
		Reports:    opts,
		ReportPath: cfg.Report.OutputPath,
		Scheduler:  sched,
		Breaker:    scraper.BreakerOf(fetcher),
		Search:     searchClient,
		Limiter: ratelimit.NewRateLimiter(
			cfg.RateLimit.RequestsPerMinute,
			cfg.RateLimit.RequestsPerHour,
			cfg.RateLimit.Enabled,
		),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h.Router(cfg.Server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func writeReport(ctx context.Context, cfg *config.Config, store *database.GormDB, path string) error {
	return generateReport(ctx, report.NewGenerator(store, reportOptions(cfg)), path, os.Stdout)
}

type reportGenerator interface {
	Generate(ctx context.Context, path string) error
}

// generateReport writes the report. A file held open elsewhere is reported to
// the user and is not a command failure.
func generateReport(ctx context.Context, gen reportGenerator, path string, out io.Writer) error {
	err := gen.Generate(ctx, path)
	if errors.Is(err, report.ErrResourceBusy) {
		logger.Warn("Report not written", zap.String("path", path), zap.Error(err))
		fmt.Fprintf(out, "%s is open in another program; close the file and run the report again\n", path)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Report written to %s\n", path)
	return nil
}

func reportOptions(cfg *config.Config) report.Options {
	return report.Options{
		MinorUnitExponent: int32(cfg.Scraper.MinorUnitExponent),
		IncludeLegend:     cfg.Report.IncludeLegend,
	}
}

func newPacer(cfg config.ScraperConfig) *ratelimit.Pacer {
	return ratelimit.NewPacer(cfg.GetRequestDelay(), cfg.GetJitter())
}

// resultLine renders one fetch outcome for the terminal
func resultLine(r scheduler.GroupResult, exp int32) string {
	if r.OK() {
		return okLine(r.Result, exp)
	}
	return fmt.Sprintf("failed: %s: %s", r.Group.Label(), r.Error)
}

func okLine(res *database.IngestResult, exp int32) string {
	prev := "—"
	if res.Previous != nil {
		prev = formatAmount(*res.Previous, exp)
	}
	price := formatAmount(res.Amount, exp)
	if res.Currency != nil {
		price += " " + *res.Currency
	}
	return fmt.Sprintf("OK: %s — %s (previous: %s)", res.Name, price, prev)
}

func formatAmount(minor int64, exp int32) string {
	return decimal.New(minor, -exp).StringFixed(exp)
}
