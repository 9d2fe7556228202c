package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/EvgenyQA404/perfume/internal/config"
	"github.com/EvgenyQA404/perfume/internal/logger"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// maxPageBytes caps how much of a product page is read
const maxPageBytes = 8 << 20

// Fetcher loads one product page and returns its listing
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Listing, error)
	Close() error
}

// NewFetcher builds the fetcher selected by cfg.Mode
func NewFetcher(cfg config.ScraperConfig, defaultCurrency string) (Fetcher, error) {
	switch cfg.Mode {
	case "", "http":
		return NewHTTPFetcher(cfg, defaultCurrency), nil
	case "browser":
		return NewBrowserFetcher(cfg, defaultCurrency), nil
	default:
		return nil, fmt.Errorf("unknown scraper mode %q", cfg.Mode)
	}
}

// BreakerOf returns the circuit breaker of f, or nil when it has none
func BreakerOf(f Fetcher) *CircuitBreaker {
	if b, ok := f.(interface{ Breaker() *CircuitBreaker }); ok {
		return b.Breaker()
	}
	return nil
}

// Parser turns a product page into a Listing
type Parser struct {
	Selectors       config.Selectors
	DefaultCurrency string
	Exponent        int32
}

// NewParser creates a parser from scraper settings
func NewParser(cfg config.ScraperConfig, defaultCurrency string) Parser {
	return Parser{
		Selectors:       cfg.Selectors,
		DefaultCurrency: defaultCurrency,
		Exponent:        int32(cfg.MinorUnitExponent),
	}
}

// Parse extracts and parses the listing in doc
func (p Parser) Parse(doc *goquery.Document, url string) (*Listing, error) {
	ex, err := Extract(doc, p.Selectors)
	if err != nil {
		return nil, err
	}
	amount, currency, err := ParsePrice(ex.PriceText, ex.CurrencyText, p.DefaultCurrency, p.Exponent)
	if err != nil {
		return nil, err
	}
	return &Listing{Name: ex.Name, Amount: amount, Currency: currency, URL: url}, nil
}

// HTTPFetcher fetches static product pages over plain HTTP
type HTTPFetcher struct {
	client     *http.Client
	parser     Parser
	userAgent  string
	maxRetries int
	retryDelay time.Duration
	breaker    *CircuitBreaker
}

// NewHTTPFetcher creates a fetcher with a cookie jar and a per-instance breaker
func NewHTTPFetcher(cfg config.ScraperConfig, defaultCurrency string) *HTTPFetcher {
	// Create cookie jar for session management
	jar, err := cookiejar.New(nil)
	if err != nil {
		logger.Warn("Failed to create cookie jar", zap.Error(err))
		jar = nil
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout: cfg.GetTimeout(),
			Jar:     jar,
		},
		parser:     NewParser(cfg, defaultCurrency),
		userAgent:  cfg.UserAgent,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.GetRetryDelay(),
		breaker:    NewCircuitBreaker(cfg.BreakerThreshold, cfg.GetBreakerReset()),
	}
}

// Breaker exposes the fetcher's circuit breaker
func (s *HTTPFetcher) Breaker() *CircuitBreaker {
	return s.breaker
}

// Close releases idle connections
func (s *HTTPFetcher) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// Fetch downloads url and parses the listing on it
func (s *HTTPFetcher) Fetch(ctx context.Context, url string) (*Listing, error) {
	body, err := s.download(ctx, url)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse HTML from %s: %v", ErrUpstream, url, err)
	}
	return s.parser.Parse(doc, url)
}

// statusError is a non-200 response
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status code %d", e.code)
}

func (s *HTTPFetcher) download(ctx context.Context, url string) (io.Reader, error) {
	if !s.breaker.CanProceed() {
		st := s.breaker.Status()
		return nil, fmt.Errorf("%w: %d consecutive blocking responses", ErrCircuitOpen, st.ConsecutiveFailures)
	}

	var page []byte
	attempt := 0
	operation := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		applyBrowserHeaders(req, s.userAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			s.breaker.RecordFailure(0)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			s.breaker.RecordFailure(resp.StatusCode)
			serr := &statusError{code: resp.StatusCode}
			// Don't retry on client errors (4xx except 429)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(serr)
			}
			return serr
		}

		page, err = io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		if err != nil {
			return err
		}
		s.breaker.RecordSuccess()
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryDelay
	b.MaxInterval = 60 * time.Second
	b.MaxElapsedTime = 0
	var policy backoff.BackOff = backoff.WithMaxRetries(b, uint64(max(s.maxRetries, 0)))

	notify := func(err error, wait time.Duration) {
		logger.Debug("Retrying fetch",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s after %d attempt(s): %v", ErrUpstream, url, attempt, err)
	}

	return bytes.NewReader(page), nil
}

// applyBrowserHeaders sets browser-like headers. Accept-Encoding is left to the
// transport so compressed bodies are decoded transparently.
func applyBrowserHeaders(req *http.Request, userAgent string) {
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7")
	req.Header.Set("DNT", "1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Sec-Fetch-Dest", "document")
}
