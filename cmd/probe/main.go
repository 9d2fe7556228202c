// Command probe checks that the configured selectors work on one product page
// before the page is added to the links file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/logger"
	"github.com/EvgenyQA404/perfume/internal/ratelimit"
	"github.com/EvgenyQA404/perfume/internal/scraper"

	"go.uber.org/zap"
)

// CheckResult is the outcome of one probe check
type CheckResult struct {
	Check     string    `json:"check"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Details   any       `json:"details,omitempty"`
}

// ProbeResults is written to the -out file
type ProbeResults struct {
	URL            string        `json:"url"`
	Mode           string        `json:"mode"`
	Results        []CheckResult `json:"results"`
	OverallSuccess bool          `json:"overall_success"`
	ExecutedAt     time.Time     `json:"executed_at"`
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	url := flag.String("url", os.Getenv("PROBE_URL"), "product page to probe")
	mode := flag.String("mode", "", "http or browser, overrides scraper.mode")
	repeat := flag.Int("repeat", 3, "consecutive fetches that must agree")
	out := flag.String("out", "probe_results.json", "where to save the results")
	flag.Parse()

	if *url == "" {
		fmt.Fprintln(os.Stderr, "usage: probe -url <product page> [-mode http|browser]")
		os.Exit(2)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Scraper.Mode = *mode
	}
	if err := logger.Initialize(logger.Config{Debug: true, Level: "debug"}); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fetcher, err := scraper.NewFetcher(cfg.Scraper, cfg.Database.DefaultCurrency)
	if err != nil {
		logger.Fatal("Failed to create fetcher", zap.Error(err))
	}
	defer fetcher.Close()

	results := &ProbeResults{
		URL:        *url,
		Mode:       cfg.Scraper.Mode,
		ExecutedAt: time.Now(),
	}

	ctx := context.Background()
	pacer := ratelimit.NewPacer(cfg.Scraper.GetRequestDelay(), cfg.Scraper.GetJitter())

	stability, listing := checkStability(ctx, fetcher, pacer, *url, *repeat)
	results.Results = append(results.Results, stability)
	if listing != nil {
		results.Results = append(results.Results,
			checkName(listing),
			checkCurrency(listing, cfg.Database.DefaultCurrency),
		)
	}

	results.OverallSuccess = true
	for _, r := range results.Results {
		if !r.Success {
			results.OverallSuccess = false
		}
		status := "PASS"
		if !r.Success {
			status = "FAIL"
		}
		fmt.Printf("%s  %s: %s\n", status, r.Check, r.Message)
	}

	saveResults(results, *out)
	if !results.OverallSuccess {
		os.Exit(1)
	}
}

// checkStability fetches the page repeat times and requires the same price each time
func checkStability(ctx context.Context, f scraper.Fetcher, pacer *ratelimit.Pacer, url string, repeat int) (CheckResult, *scraper.Listing) {
	result := CheckResult{
		Check:     fmt.Sprintf("price parsed on %d consecutive fetches", repeat),
		Timestamp: time.Now(),
	}

	var (
		first   *scraper.Listing
		amounts []int64
		lastErr error
	)
	for i := 1; i <= repeat; i++ {
		if i > 1 {
			if err := pacer.Wait(ctx); err != nil {
				lastErr = err
				break
			}
		}
		listing, err := f.Fetch(ctx, url)
		if err != nil {
			logger.Warn("Fetch failed", zap.Int("attempt", i), zap.Error(err))
			lastErr = err
			continue
		}
		logger.Info("Fetch succeeded", zap.Int("attempt", i), zap.String("name", listing.Name), zap.Int64("amount", listing.Amount))
		if first == nil {
			first = listing
		}
		amounts = append(amounts, listing.Amount)
	}

	result.Details = map[string]any{"amounts": amounts}
	switch {
	case len(amounts) < repeat:
		result.Message = fmt.Sprintf("%d of %d fetches succeeded: %v", len(amounts), repeat, lastErr)
	case !allEqual(amounts):
		result.Message = fmt.Sprintf("price changed between fetches: %v", amounts)
	default:
		result.Success = true
		result.Message = fmt.Sprintf("amount %d on every fetch", amounts[0])
	}
	return result, first
}

func checkName(l *scraper.Listing) CheckResult {
	return CheckResult{
		Check:     "product name",
		Success:   l.Name != "",
		Message:   fmt.Sprintf("%q", l.Name),
		Timestamp: time.Now(),
	}
}

func checkCurrency(l *scraper.Listing, defaultCurrency string) CheckResult {
	r := CheckResult{Check: "currency", Timestamp: time.Now()}
	switch {
	case l.Currency == "":
		r.Message = "no currency on the page and no database.default_currency"
	case l.Currency == defaultCurrency:
		r.Success = true
		r.Message = l.Currency + " (default)"
	default:
		r.Success = true
		r.Message = l.Currency
	}
	return r
}

func allEqual(v []int64) bool {
	for _, x := range v {
		if x != v[0] {
			return false
		}
	}
	return true
}

func saveResults(results *ProbeResults, path string) {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		logger.Error(err, zap.String("step", "marshal results"))
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		logger.Error(err, zap.String("path", path))
		return
	}
	fmt.Printf("Results saved to %s\n", path)
}
