package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// BrowserFetcher renders pages in headless Chrome before extracting the listing.
// One browser process is shared by all fetches; each fetch gets its own tab.
type BrowserFetcher struct {
	parser      Parser
	timeout     time.Duration
	settle      time.Duration
	allocCtx    context.Context
	allocCancel context.CancelFunc
	breaker     *CircuitBreaker
}

// NewBrowserFetcher prepares a Chrome allocator. Chrome starts on first use.
func NewBrowserFetcher(cfg config.ScraperConfig, defaultCurrency string) *BrowserFetcher {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-software-rasterizer", true),
	)
	if cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ChromePath))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{
		parser:      NewParser(cfg, defaultCurrency),
		timeout:     cfg.GetTimeout(),
		settle:      time.Second,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		breaker:     NewCircuitBreaker(cfg.BreakerThreshold, cfg.GetBreakerReset()),
	}
}

// Breaker returns the circuit breaker guarding browser fetches
func (b *BrowserFetcher) Breaker() *CircuitBreaker {
	return b.breaker
}

// Close shuts the browser down
func (b *BrowserFetcher) Close() error {
	b.allocCancel()
	return nil
}

// Fetch renders url and parses the listing on it
func (b *BrowserFetcher) Fetch(ctx context.Context, url string) (*Listing, error) {
	if !b.breaker.CanProceed() {
		return nil, fmt.Errorf("%w: browser fetches paused", ErrCircuitOpen)
	}

	html, err := b.render(ctx, url)
	if err != nil {
		b.breaker.RecordFailure(0)
		return nil, err
	}
	b.breaker.RecordSuccess()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML from %s: %v", ErrUpstream, url, err)
	}
	return b.parser.Parse(doc, url)
}

func (b *BrowserFetcher) render(ctx context.Context, url string) (string, error) {
	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTimeout()

	// the caller's cancellation also closes the tab
	stop := context.AfterFunc(ctx, cancelTimeout)
	defer stop()

	waitFor := b.parser.Selectors.Price
	if waitFor == "" {
		waitFor = "body"
	}

	var htmlContent string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady(waitFor, chromedp.ByQuery),
		chromedp.Sleep(b.settle),
		chromedp.OuterHTML("html", &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: chromedp error on %s: %v", ErrUpstream, url, err)
	}

	logger.Debug("Rendered page", zap.String("url", url), zap.Int("bytes", len(htmlContent)))
	return htmlContent, nil
}
